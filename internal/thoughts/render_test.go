package thoughts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRenderExport_SanitizesAndShowsTags(t *testing.T) {
	t.Parallel()
	notes := []Thought{{
		ID:        "n1",
		Content:   "**bold** idea <script>alert(1)</script>",
		CreatedAt: time.Date(2024, 3, 10, 15, 4, 0, 0, time.UTC),
		Tags: []Tag{
			{ID: "t1", Name: "work", Color: "#12ab34"},
			{ID: "t2", Name: "odd", Color: "red;background:url(x)"},
		},
	}}

	out, err := RenderExport(notes, ExportOptions{Title: "Export", Description: `matching "idea"`})
	require.NoError(t, err)
	page := string(out)

	require.Contains(t, page, "<strong>bold</strong>")
	require.NotContains(t, page, "<script>alert(1)</script>")
	require.Contains(t, page, "work")
	require.Contains(t, page, "#12ab34")
	require.NotContains(t, page, "url(x)")
	require.Contains(t, page, `datetime="2024-03-10T15:04:00Z"`)
}

func TestRenderExport_EmptyStates(t *testing.T) {
	t.Parallel()
	out, err := RenderExport(nil, ExportOptions{})
	require.NoError(t, err)
	require.Contains(t, string(out), "You haven&#39;t saved any thoughts yet.")

	out, err = RenderExport(nil, ExportOptions{Empty: NoMatch})
	require.NoError(t, err)
	require.Contains(t, string(out), "No thoughts match your filters.")
}

func TestDescribeFilter(t *testing.T) {
	t.Parallel()
	got := DescribeFilter(FilterState{
		Query:        " milk ",
		Start:        time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		SelectedTags: []string{"t1", "missing"},
	}, map[string]string{"t1": "errands"})
	require.Equal(t, `matching "milk", after 2024-01-02, through 2024-01-05, tagged errands or missing`, got)
	require.Empty(t, DescribeFilter(FilterState{}, nil))
}
