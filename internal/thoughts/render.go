package thoughts

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

const exportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <meta name="description" content="{{.Description}}">
    <style>
        :root {
            --text-color: #1a1a1a;
            --bg-color: #ffffff;
            --muted: #666666;
            --border-color: #e0e0e0;
            --code-bg: #f5f5f5;
        }

        @media (prefers-color-scheme: dark) {
            :root {
                --text-color: #e0e0e0;
                --bg-color: #1a1a1a;
                --muted: #9a9a9a;
                --border-color: #404040;
                --code-bg: #2d2d2d;
            }
        }

        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            line-height: 1.6;
            color: var(--text-color);
            background-color: var(--bg-color);
            max-width: 800px;
            margin: 0 auto;
            padding: 2rem 1rem;
        }

        article {
            border-bottom: 1px solid var(--border-color);
            padding: 1rem 0;
        }

        time, .empty {
            color: var(--muted);
            font-size: 0.875rem;
        }

        .tag {
            display: inline-block;
            border-radius: 999px;
            padding: 0 0.6em;
            margin-right: 0.25em;
            font-size: 0.75rem;
            color: #ffffff;
        }

        pre, code {
            background-color: var(--code-bg);
            border-radius: 3px;
        }
    </style>
</head>
<body>
    <h1>{{.Title}}</h1>
    {{if .Description}}<p class="empty">{{.Description}}</p>{{end}}
    {{range .Entries}}
    <article>
        <time datetime="{{.ISO}}">{{.Display}}</time>
        <div>{{.Body}}</div>
        {{if .Tags}}<p>{{range .Tags}}<span class="tag" style="background-color: {{.Color}}">{{.Name}}</span>{{end}}</p>{{end}}
    </article>
    {{else}}
    <p class="empty">{{.EmptyMessage}}</p>
    {{end}}
</body>
</html>`

var (
	exportTmpl = template.Must(template.New("export").Parse(exportTemplate))
	colorRE    = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// ExportOptions describes the page wrapping the exported notes.
type ExportOptions struct {
	Title       string
	Description string
	// Empty is used when no notes are given.
	Empty    EmptyKind
	Location *time.Location
}

type exportEntry struct {
	ISO     string
	Display string
	Body    template.HTML
	Tags    []exportTag
}

type exportTag struct {
	Name  string
	Color template.CSS
}

type exportData struct {
	Title        string
	Description  string
	Entries      []exportEntry
	EmptyMessage string
}

// RenderExport renders notes as a standalone HTML page. Note content is
// markdown; the rendered HTML is sanitized.
func RenderExport(notes []Thought, opts ExportOptions) ([]byte, error) {
	if opts.Title == "" {
		opts.Title = "Your thoughts"
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	empty := opts.Empty
	if empty == NotEmpty {
		empty = NoThoughts
	}

	data := exportData{
		Title:        opts.Title,
		Description:  opts.Description,
		EmptyMessage: empty.Message(),
	}
	for _, n := range notes {
		entry := exportEntry{
			ISO:     n.CreatedAt.UTC().Format(time.RFC3339),
			Display: n.CreatedAt.In(loc).Format("Jan 2, 2006 at 3:04 PM"),
			Body:    RenderMarkdown(n.Content),
		}
		for _, t := range n.Tags {
			entry.Tags = append(entry.Tags, exportTag{Name: t.Name, Color: safeColor(t.Color)})
		}
		data.Entries = append(data.Entries, entry)
	}

	var buf bytes.Buffer
	if err := exportTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render export: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderMarkdown converts note content to sanitized HTML.
func RenderMarkdown(s string) template.HTML {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(s))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank,
	})
	out := markdown.Render(doc, renderer)

	policy := bluemonday.UGCPolicy()
	return template.HTML(policy.SanitizeBytes(out))
}

// DescribeFilter summarizes the active filters for an export header.
func DescribeFilter(state FilterState, tagNames map[string]string) string {
	var parts []string
	if q := trimmedQuery(state.Query); q != "" {
		parts = append(parts, fmt.Sprintf("matching %q", q))
	}
	if !state.Start.IsZero() {
		parts = append(parts, "after "+state.Start.Format(time.DateOnly))
	}
	if !state.End.IsZero() {
		parts = append(parts, "through "+state.End.Format(time.DateOnly))
	}
	if len(state.SelectedTags) > 0 {
		names := make([]string, 0, len(state.SelectedTags))
		for _, id := range state.SelectedTags {
			if name, ok := tagNames[id]; ok {
				names = append(names, name)
			} else {
				names = append(names, id)
			}
		}
		parts = append(parts, "tagged "+strings.Join(names, " or "))
	}
	return strings.Join(parts, ", ")
}

func safeColor(c string) template.CSS {
	if colorRE.MatchString(c) {
		return template.CSS(c)
	}
	return template.CSS("#888888")
}
