package thoughts

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kuitang/thoughtflow/internal/obs"
)

const msgLoadFailed = "Failed to load your thoughts"

// Collection caches the owner's published notes with their tags and keeps
// a filtered view of them. Filter changes recompute the view locally; only
// Load, Refresh and SetSort go to the store.
type Collection struct {
	notes    NoteStore
	tags     TagStore
	identity Identity
	sink     Sink

	mu      sync.Mutex
	state   FilterState
	all     []Thought
	view    []Thought
	loadGen uint64
}

func NewCollection(notes NoteStore, tags TagStore, identity Identity, sink Sink) *Collection {
	return &Collection{
		notes:    notes,
		tags:     tags,
		identity: identity,
		sink:     sinkOrDiscard(sink),
	}
}

// Load fetches the notes in the current sort order and attaches tags. On
// failure the previous collection is kept.
func (c *Collection) Load(ctx context.Context) error {
	owner, ok := c.identity.OwnerID(ctx)
	if !ok {
		c.sink.Emit(errorStatus(msgLoadFailed, errNoOwner))
		return errNoOwner
	}
	c.mu.Lock()
	ascending := c.state.Sort.Ascending()
	c.loadGen++
	gen := c.loadGen
	c.mu.Unlock()

	loaded, err := c.fetch(ctx, owner, ascending)
	if err != nil {
		obs.From(ctx).Warn("collection_load_failed", "error", err)
		c.sink.Emit(errorStatus(msgLoadFailed, err))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A later Load or a sort change while fetching makes this result stale.
	if gen != c.loadGen || c.state.Sort.Ascending() != ascending {
		return nil
	}
	c.all = loaded
	c.recomputeLocked()
	return nil
}

// Refresh reloads the collection, e.g. after a publish.
func (c *Collection) Refresh(ctx context.Context) error {
	return c.Load(ctx)
}

func (c *Collection) fetch(ctx context.Context, owner string, ascending bool) ([]Thought, error) {
	notes, err := c.notes.ListNotes(ctx, owner, ascending)
	if err != nil {
		return nil, asTransport(msgLoadFailed, err)
	}
	if len(notes) == 0 {
		return []Thought{}, nil
	}
	assocs, err := c.tags.ListAssociations(ctx, noteIDs(notes))
	if err != nil {
		return nil, asTransport(msgLoadFailed, err)
	}
	return AttachTags(notes, assocs), nil
}

// SetQuery changes the search text.
func (c *Collection) SetQuery(q string) {
	c.update(func(s *FilterState) { s.Query = q })
}

// SetDateRange sets the bounds; zero values clear them.
func (c *Collection) SetDateRange(start, end time.Time) {
	c.update(func(s *FilterState) {
		s.Start = start
		s.End = end
	})
}

// SetSelectedTags replaces the tag selection.
func (c *Collection) SetSelectedTags(ids []string) {
	c.update(func(s *FilterState) { s.SelectedTags = dedupe(ids) })
}

// ToggleTag adds or removes one tag from the selection.
func (c *Collection) ToggleTag(id string) {
	c.update(func(s *FilterState) {
		if i := slices.Index(s.SelectedTags, id); i >= 0 {
			s.SelectedTags = slices.Delete(slices.Clone(s.SelectedTags), i, i+1)
			return
		}
		s.SelectedTags = append(slices.Clone(s.SelectedTags), id)
	})
}

// ClearTags empties the tag selection.
func (c *Collection) ClearTags() {
	c.update(func(s *FilterState) { s.SelectedTags = nil })
}

// SetSort changes the order and refetches, since sorting happens in the store.
func (c *Collection) SetSort(ctx context.Context, order SortOrder) error {
	c.mu.Lock()
	changed := c.state.Sort != order
	c.state.Sort = order
	c.mu.Unlock()
	if !changed {
		return nil
	}
	return c.Load(ctx)
}

func (c *Collection) update(f func(*FilterState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(&c.state)
	c.recomputeLocked()
}

func (c *Collection) recomputeLocked() {
	c.view = Filter(c.all, c.state)
}

// View returns the filtered notes.
func (c *Collection) View() []Thought {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.view)
}

// All returns every loaded note.
func (c *Collection) All() []Thought {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.all)
}

// Filter returns a copy of the current filter state.
func (c *Collection) Filter() FilterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.SelectedTags = slices.Clone(s.SelectedTags)
	return s
}

// EmptyState classifies the current view.
func (c *Collection) EmptyState() EmptyKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return EmptyState(len(c.all), len(c.view))
}
