package thoughts

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/thoughtflow/internal/errs"
)

// memStore is an in-memory NoteStore and TagStore that records calls.
type memStore struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	notes   map[string]*Thought
	tags    []Tag
	links   map[string][]string
	draftID string
	calls   []string

	failCreate error
	failUpdate error
	failDelete error
	failInsert error
	failList   error
	failAssoc  error
	failDraft  error
}

func newMemStore() *memStore {
	return &memStore{
		now:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		notes: map[string]*Thought{},
		links: map[string][]string{},
	}
}

func (m *memStore) record(format string, args ...any) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *memStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

func (m *memStore) callsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range m.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (m *memStore) CreateNote(_ context.Context, ownerID, content string, isDraft bool) (*Thought, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create:%s:%t", content, isDraft)
	if m.failCreate != nil {
		return nil, m.failCreate
	}
	m.seq++
	m.now = m.now.Add(time.Minute)
	t := &Thought{
		ID:        fmt.Sprintf("n%d", m.seq),
		OwnerID:   ownerID,
		Content:   content,
		IsDraft:   isDraft,
		CreatedAt: m.now,
		UpdatedAt: m.now,
	}
	m.notes[t.ID] = t
	if isDraft {
		m.draftID = t.ID
	}
	out := *t
	return &out, nil
}

func (m *memStore) UpdateNote(_ context.Context, id string, u NoteUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	content := "<nil>"
	if u.Content != nil {
		content = *u.Content
	}
	draft := "<nil>"
	if u.IsDraft != nil {
		draft = fmt.Sprint(*u.IsDraft)
	}
	m.record("update:%s:%s:%s", id, content, draft)
	if m.failUpdate != nil {
		return m.failUpdate
	}
	t, ok := m.notes[id]
	if !ok {
		return errs.New(errs.NotFound, "note not found")
	}
	if u.Content != nil {
		t.Content = *u.Content
	}
	if u.IsDraft != nil {
		t.IsDraft = *u.IsDraft
		if t.IsDraft {
			m.draftID = id
		} else if m.draftID == id {
			m.draftID = ""
		}
	}
	m.now = m.now.Add(time.Second)
	t.UpdatedAt = m.now
	return nil
}

func (m *memStore) GetDraftFor(context.Context, string) (*Thought, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDraft != nil {
		return nil, m.failDraft
	}
	if m.draftID == "" {
		return nil, nil
	}
	out := *m.notes[m.draftID]
	return &out, nil
}

func (m *memStore) ListNotes(_ context.Context, _ string, ascending bool) ([]Thought, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("list:%t", ascending)
	if m.failList != nil {
		return nil, m.failList
	}
	var out []Thought
	for _, t := range m.notes {
		if !t.IsDraft {
			out = append(out, *t)
		}
	}
	slices.SortFunc(out, func(a, b Thought) int {
		if ascending {
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (m *memStore) ListTags(context.Context, string) ([]Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	return slices.Clone(m.tags), nil
}

func (m *memStore) CreateTag(_ context.Context, _ string, name, color string) (*Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create_tag:%s", name)
	for _, t := range m.tags {
		if t.Name == name {
			return nil, errs.New(errs.AlreadyExists, fmt.Sprintf("tag %q already exists", name))
		}
	}
	m.seq++
	t := Tag{ID: fmt.Sprintf("t%d", m.seq), Name: name, Color: color, CreatedAt: m.now}
	m.tags = append(m.tags, t)
	return &t, nil
}

func (m *memStore) addTag(id, name string) Tag {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := Tag{ID: id, Name: name, Color: "#123456"}
	m.tags = append(m.tags, t)
	return t
}

func (m *memStore) ListAssociations(_ context.Context, noteIDs []string) ([]Association, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAssoc != nil {
		return nil, m.failAssoc
	}
	var out []Association
	for _, id := range noteIDs {
		for _, tagID := range m.links[id] {
			for _, t := range m.tags {
				if t.ID == tagID {
					out = append(out, Association{NoteID: id, Tag: t})
				}
			}
		}
	}
	return out, nil
}

func (m *memStore) DeleteAssociations(_ context.Context, noteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete:%s", noteID)
	if m.failDelete != nil {
		return m.failDelete
	}
	delete(m.links, noteID)
	return nil
}

func (m *memStore) InsertAssociations(_ context.Context, noteID string, tagIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("insert:%s:%s", noteID, strings.Join(tagIDs, ","))
	if m.failInsert != nil {
		return m.failInsert
	}
	for _, id := range tagIDs {
		if slices.Contains(m.links[noteID], id) {
			return errs.New(errs.AlreadyExists, "duplicate association")
		}
	}
	m.links[noteID] = append(m.links[noteID], tagIDs...)
	return nil
}

func (m *memStore) linked(noteID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.links[noteID])
	slices.Sort(out)
	return out
}

func (m *memStore) note(id string) Thought {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.notes[id]
}

func (m *memStore) setFail(f func(m *memStore)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(m)
}

// recordingSink collects emitted statuses.
type recordingSink struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *recordingSink) Emit(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recordingSink) messages(level Level) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.statuses {
		if s.Level == level {
			out = append(out, s.Message)
		}
	}
	return out
}
