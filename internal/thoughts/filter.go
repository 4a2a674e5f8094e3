package thoughts

import (
	"strings"
	"time"
)

// Filter returns the notes passing every active predicate, in input order.
// It never fails; an End before Start simply matches nothing.
func Filter(notes []Thought, state FilterState) []Thought {
	f := compile(state)
	out := make([]Thought, 0, len(notes))
	for _, n := range notes {
		if f.match(n) {
			out = append(out, n)
		}
	}
	return out
}

// Matches reports whether one note passes the filter.
func Matches(n Thought, state FilterState) bool {
	return compile(state).match(n)
}

type compiled struct {
	query    string
	start    time.Time
	endLimit time.Time
	selected map[string]struct{}
}

func compile(state FilterState) compiled {
	c := compiled{
		query: strings.ToLower(trimmedQuery(state.Query)),
		start: state.Start,
	}
	if !state.End.IsZero() {
		y, m, d := state.End.Date()
		c.endLimit = time.Date(y, m, d, 0, 0, 0, 0, state.End.Location()).AddDate(0, 0, 1)
	}
	if len(state.SelectedTags) > 0 {
		c.selected = make(map[string]struct{}, len(state.SelectedTags))
		for _, id := range state.SelectedTags {
			c.selected[id] = struct{}{}
		}
	}
	return c
}

func (c compiled) match(n Thought) bool {
	if c.query != "" && !strings.Contains(strings.ToLower(n.Content), c.query) {
		return false
	}
	if !c.start.IsZero() && !n.CreatedAt.After(c.start) {
		return false
	}
	if !c.endLimit.IsZero() && !n.CreatedAt.Before(c.endLimit) {
		return false
	}
	if c.selected != nil {
		for _, t := range n.Tags {
			if _, ok := c.selected[t.ID]; ok {
				return true
			}
		}
		return false
	}
	return true
}

func trimmedQuery(q string) string {
	return strings.TrimSpace(q)
}

// EmptyKind tells why a view has nothing to show.
type EmptyKind int

const (
	NotEmpty EmptyKind = iota
	NoThoughts
	NoMatch
)

// Message is the user-facing text for the empty state.
func (k EmptyKind) Message() string {
	switch k {
	case NoThoughts:
		return "You haven't saved any thoughts yet."
	case NoMatch:
		return "No thoughts match your filters."
	default:
		return ""
	}
}

// EmptyState classifies a view of matched notes out of total loaded.
func EmptyState(total, matched int) EmptyKind {
	switch {
	case matched > 0:
		return NotEmpty
	case total == 0:
		return NoThoughts
	default:
		return NoMatch
	}
}
