package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/kuitang/thoughtflow/internal/thoughts"
)

// colorSink prints status notifications, green for info and red for errors.
type colorSink struct {
	w    io.Writer
	info *color.Color
	fail *color.Color
}

func newColorSink(w io.Writer) colorSink {
	return colorSink{
		w:    w,
		info: color.New(color.FgGreen),
		fail: color.New(color.FgRed, color.Bold),
	}
}

func (s colorSink) Emit(st thoughts.Status) {
	c := s.info
	if st.Level == thoughts.LevelError {
		c = s.fail
	}
	c.Fprintf(s.w, "%s: %s\n", st.Title, st.Message)
}

// tagLabel renders a tag name in its own color when the terminal allows.
func tagLabel(t thoughts.Tag) string {
	r, g, b, ok := parseHexColor(t.Color)
	if !ok {
		return "#" + t.Name
	}
	return color.RGB(r, g, b).Sprint("#" + t.Name)
}

func parseHexColor(s string) (int, int, int, bool) {
	s, found := strings.CutPrefix(s, "#")
	if !found || len(s) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff), true
}

func printThought(w io.Writer, n thoughts.Thought) {
	labels := make([]string, 0, len(n.Tags))
	for _, t := range n.Tags {
		labels = append(labels, tagLabel(t))
	}
	header := color.New(color.Faint).Sprint(n.CreatedAt.Local().Format("Jan 2, 2006 3:04 PM"))
	if len(labels) > 0 {
		header += "  " + strings.Join(labels, " ")
	}
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.TrimRight(n.Content, "\n"))
	fmt.Fprintln(w)
}
