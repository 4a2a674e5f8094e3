// Package thoughts holds the note lifecycle and synchronization engine:
// the draft session with its debounced autosave, tag association
// reconciliation, the tag client, the filter pipeline and the cached
// collection view. It reaches persistence, identity and display only
// through the interfaces declared in store.go.
package thoughts

import (
	"strings"
	"time"

	"github.com/kuitang/thoughtflow/internal/errs"
)

// Thought is a note. A Thought without an ID exists only in a DraftSession.
type Thought struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Content   string    `json:"content"`
	IsDraft   bool      `json:"is_draft"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Tags      []Tag     `json:"tags,omitempty"`
}

// HasTag reports whether the thought carries the tag id.
func (t Thought) HasTag(tagID string) bool {
	for _, tag := range t.Tags {
		if tag.ID == tagID {
			return true
		}
	}
	return false
}

// Tag is a named label. Color is assigned once at creation.
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// Association links a note to one tag.
type Association struct {
	NoteID string `json:"note_id"`
	Tag    Tag    `json:"tag"`
}

// NoteUpdate carries the fields to change; nil fields are left alone.
type NoteUpdate struct {
	Content *string `json:"content,omitempty"`
	IsDraft *bool   `json:"is_draft,omitempty"`
}

// SortOrder selects the collection order by creation time.
type SortOrder int

const (
	NewestFirst SortOrder = iota
	OldestFirst
)

// Ascending reports whether the order is oldest-first.
func (o SortOrder) Ascending() bool { return o == OldestFirst }

func (o SortOrder) String() string {
	if o == OldestFirst {
		return "asc"
	}
	return "desc"
}

// ParseSortOrder accepts "asc"/"oldest" and "desc"/"newest". Anything else
// is newest-first.
func ParseSortOrder(s string) SortOrder {
	switch s {
	case "asc", "oldest":
		return OldestFirst
	default:
		return NewestFirst
	}
}

// FilterState is the client-side view selection. Zero Start or End means
// unbounded. End is a calendar date and includes the whole day.
type FilterState struct {
	Query        string
	Sort         SortOrder
	Start        time.Time
	End          time.Time
	SelectedTags []string
}

// ParseDate reads a YYYY-MM-DD calendar date as UTC midnight. Blank input
// is the zero time (no bound). field names the input in the error.
func ParseDate(s, field string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, errs.Wrap(errs.InvalidArgument, field+" must be a date like 2006-01-02", err)
	}
	return t, nil
}

// FormatDate is the inverse of ParseDate; the zero time formats as "".
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}

// Active reports whether any predicate would exclude notes.
func (s FilterState) Active() bool {
	return trimmedQuery(s.Query) != "" || !s.Start.IsZero() || !s.End.IsZero() || len(s.SelectedTags) > 0
}

// AttachTags sets each thought's Tags from the associations, preserving
// association order and dropping duplicate tag ids.
func AttachTags(notes []Thought, assocs []Association) []Thought {
	byNote := make(map[string][]Tag, len(notes))
	for _, a := range assocs {
		tags := byNote[a.NoteID]
		dup := false
		for _, t := range tags {
			if t.ID == a.Tag.ID {
				dup = true
				break
			}
		}
		if !dup {
			byNote[a.NoteID] = append(tags, a.Tag)
		}
	}
	out := make([]Thought, len(notes))
	for i, n := range notes {
		n.Tags = byNote[n.ID]
		out[i] = n
	}
	return out
}

func noteIDs(notes []Thought) []string {
	ids := make([]string, 0, len(notes))
	for _, n := range notes {
		if n.ID != "" {
			ids = append(ids, n.ID)
		}
	}
	return ids
}
