package thoughts

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/kuitang/thoughtflow/internal/clock"
	"github.com/kuitang/thoughtflow/internal/errs"
	"github.com/kuitang/thoughtflow/internal/logutil"
	"github.com/kuitang/thoughtflow/internal/obs"
)

// DefaultAutosaveDelay is the quiet period before an autosave.
const DefaultAutosaveDelay = 5 * time.Second

// State is the lifecycle position of a DraftSession.
type State int

const (
	Empty State = iota
	Editing
	Autosaving
	DraftSaved
	Publishing
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Editing:
		return "editing"
	case Autosaving:
		return "autosaving"
	case DraftSaved:
		return "draft_saved"
	case Publishing:
		return "publishing"
	default:
		return "unknown"
	}
}

const (
	msgSaved        = "Your thought has been saved"
	msgEmptyContent = "Please enter some content for your thought"
	msgSaveFailed   = "Failed to save your thought. Please try again."

	msgDraftLoadFailed = "Failed to load your draft"
)

var errSessionClosed = errs.New(errs.FailedPrecondition, "draft session is closed")

// SessionOptions configures a DraftSession. Zero values pick defaults.
type SessionOptions struct {
	AutosaveDelay time.Duration
	Clock         clock.Clock
	Sink          Sink
	Logger        *slog.Logger
}

// DraftSession owns one in-flight note: its edit buffer, the selected tag
// ids, the autosave timer and the draft to published transition. It is safe
// for concurrent use. Saves are serialized; a queued save snapshots the
// buffer only once it runs, so it always writes the newest content.
type DraftSession struct {
	notes    NoteStore
	tags     TagStore
	sync     *Synchronizer
	identity Identity
	sink     Sink
	clock    clock.Clock
	logger   *slog.Logger
	debounce *Debouncer

	// One-slot semaphore serializing saves, acquired with the caller's ctx.
	saveSlot chan struct{}

	mu          sync.Mutex
	state       State
	content     string
	tagIDs      []string
	noteID      string
	revision    uint64
	savedDigest uint64
	hasSaved    bool
	lastSavedAt time.Time
	disposed    bool
	onPublish   []func()

	// Set when content was written but reconciliation failed.
	tagSyncPending bool
	pendingNoteID  string
	pendingContent string
	pendingTags    []string
	pendingPublish bool
	pendingRev     uint64
}

// NewDraftSession creates an Empty session. Call Hydrate to resume the
// owner's outstanding draft.
func NewDraftSession(notes NoteStore, tags TagStore, identity Identity, opts SessionOptions) *DraftSession {
	if opts.AutosaveDelay <= 0 {
		opts.AutosaveDelay = DefaultAutosaveDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = obs.Pkg("thoughts")
	}
	return &DraftSession{
		notes:    notes,
		tags:     tags,
		sync:     NewSynchronizer(tags),
		identity: identity,
		sink:     sinkOrDiscard(opts.Sink),
		clock:    opts.Clock,
		logger:   opts.Logger,
		debounce: NewDebouncer(opts.Clock, opts.AutosaveDelay),
		saveSlot: make(chan struct{}, 1),
	}
}

// OnPublish registers f to run after every successful publish.
func (s *DraftSession) OnPublish(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPublish = append(s.onPublish, f)
}

// Edit replaces the buffer and restarts the autosave timer.
func (s *DraftSession) Edit(content string) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.content = content
	s.revision++
	s.markEditedLocked()
	s.mu.Unlock()

	s.debounce.Schedule(s.autosave)
}

// SetTags replaces the selected tag ids and restarts the autosave timer.
func (s *DraftSession) SetTags(tagIDs []string) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.tagIDs = dedupe(tagIDs)
	s.revision++
	s.markEditedLocked()
	s.mu.Unlock()

	s.debounce.Schedule(s.autosave)
}

func (s *DraftSession) markEditedLocked() {
	switch s.state {
	case Empty:
		if strings.TrimSpace(s.content) != "" {
			s.state = Editing
		}
	case DraftSaved:
		s.state = Editing
	}
	// Autosaving and Publishing keep their state; the request in flight
	// notices the revision change when it completes.
}

// SaveDraft saves the buffer as a draft immediately.
func (s *DraftSession) SaveDraft(ctx context.Context) error {
	return s.Save(ctx, true)
}

// Publish saves the buffer as a published note and resets the session.
func (s *DraftSession) Publish(ctx context.Context) error {
	return s.Save(ctx, false)
}

// Save upserts the buffer and reconciles its tags. Publishing empty content
// is invalid_argument; a missing identity is unauthenticated. Every failure
// is also emitted to the sink and leaves the buffer intact.
func (s *DraftSession) Save(ctx context.Context, asDraft bool) error {
	s.debounce.Cancel()
	return s.save(ctx, asDraft, false)
}

func (s *DraftSession) autosave() {
	// Timer callbacks outlive any request; Dispose discards the result.
	if err := s.save(context.Background(), true, true); err != nil {
		s.logger.Warn("autosave_failed", "error", err, "code", errs.CodeOf(err))
	}
}

type snapshot struct {
	content  string
	tagIDs   []string
	noteID   string
	revision uint64
	prior    State
	digest   uint64
}

func (s *DraftSession) save(ctx context.Context, asDraft, auto bool) error {
	select {
	case s.saveSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.saveSlot }()

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return errSessionClosed
	}
	snap := snapshot{
		content:  s.content,
		tagIDs:   slices.Clone(s.tagIDs),
		noteID:   s.noteID,
		revision: s.revision,
		prior:    s.state,
	}
	snap.digest = digest(snap.content, snap.tagIDs)
	trimmedEmpty := strings.TrimSpace(snap.content) == ""

	if auto {
		if trimmedEmpty || s.state == Empty {
			s.mu.Unlock()
			return nil
		}
		if s.hasSaved && snap.noteID != "" && snap.digest == s.savedDigest && !s.tagSyncPending {
			s.state = DraftSaved
			s.mu.Unlock()
			s.logger.Debug("autosave_skipped_unchanged", "note_id", snap.noteID)
			return nil
		}
	}
	if trimmedEmpty && !asDraft {
		s.mu.Unlock()
		err := errs.New(errs.InvalidArgument, msgEmptyContent)
		s.sink.Emit(errorStatus(msgEmptyContent, err))
		return err
	}
	owner, ok := s.identity.OwnerID(ctx)
	if !ok {
		s.mu.Unlock()
		s.sink.Emit(errorStatus(errs.MessageOf(errNoOwner), errNoOwner))
		return errNoOwner
	}
	if asDraft {
		s.state = Autosaving
	} else {
		s.state = Publishing
	}
	s.mu.Unlock()

	logger := obs.From(ctx)
	logger.Debug("save_started",
		"draft", asDraft,
		"auto", auto,
		"note_id", snap.noteID,
		"content_preview", logutil.TruncateForLog(snap.content, logutil.ContentPreviewChars),
		"tag_count", len(snap.tagIDs))

	noteID, err := s.writeContent(ctx, owner, snap, asDraft)
	if err != nil {
		err = asTransport(msgSaveFailed, err)
		s.mu.Lock()
		if !s.disposed {
			if asDraft {
				s.state = Editing
			} else {
				s.state = snap.prior
			}
		}
		s.mu.Unlock()
		logger.Warn("save_failed", "note_id", snap.noteID, "error", err)
		s.emitUnlessDisposed(errorStatus(msgSaveFailed, err))
		return err
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	// Bind the id before reconciling so a retry updates instead of creating.
	if s.noteID == snap.noteID {
		s.noteID = noteID
	}
	s.mu.Unlock()

	if err := s.sync.Reconcile(ctx, noteID, snap.tagIDs); err != nil {
		s.mu.Lock()
		if !s.disposed {
			s.tagSyncPending = true
			s.pendingNoteID = noteID
			s.pendingContent = snap.content
			s.pendingTags = snap.tagIDs
			s.pendingPublish = !asDraft
			s.pendingRev = snap.revision
			if asDraft {
				s.state = Editing
			} else {
				s.state = snap.prior
			}
		}
		s.mu.Unlock()
		logger.Warn("tag_sync_failed", "note_id", noteID, "error", err)
		s.emitUnlessDisposed(errorStatus(errs.MessageOf(err), err))
		return err
	}

	s.finish(noteID, snap, asDraft, auto)
	return nil
}

func (s *DraftSession) writeContent(ctx context.Context, owner string, snap snapshot, asDraft bool) (string, error) {
	if snap.noteID == "" {
		created, err := s.notes.CreateNote(ctx, owner, snap.content, asDraft)
		if err != nil {
			return "", err
		}
		return created.ID, nil
	}
	content := snap.content
	err := s.notes.UpdateNote(ctx, snap.noteID, NoteUpdate{Content: &content, IsDraft: &asDraft})
	if err != nil {
		return "", err
	}
	return snap.noteID, nil
}

// finish applies a fully successful save to the session.
func (s *DraftSession) finish(noteID string, snap snapshot, asDraft, auto bool) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.tagSyncPending = false
	s.pendingNoteID = ""
	s.pendingContent = ""
	s.pendingTags = nil

	if asDraft {
		s.lastSavedAt = s.clock.Now()
		s.savedDigest = snap.digest
		s.hasSaved = true
		if s.revision == snap.revision {
			s.state = DraftSaved
		} else {
			s.state = Editing
		}
		s.mu.Unlock()
		if !auto {
			s.sink.Emit(infoStatus(msgSaved))
		}
		return
	}

	// The published note is released. Edits that arrived while the
	// request was in flight stay in the buffer as a new note.
	s.noteID = ""
	s.hasSaved = false
	s.lastSavedAt = time.Time{}
	if s.revision == snap.revision {
		s.content = ""
		s.tagIDs = nil
		s.state = Empty
	} else {
		s.state = Editing
	}
	hooks := slices.Clone(s.onPublish)
	cleared := s.state == Empty
	s.mu.Unlock()

	if cleared {
		s.debounce.Cancel()
	}
	s.logger.Info("thought_published", "note_id", noteID)
	s.sink.Emit(infoStatus(msgSaved))
	for _, f := range hooks {
		f()
	}
}

// TagSyncPending reports whether the last save wrote content but failed to
// reconcile tags.
func (s *DraftSession) TagSyncPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tagSyncPending
}

// ResyncTags retries only the reconciliation of a save whose tag step
// failed. A pending publish completes on success.
func (s *DraftSession) ResyncTags(ctx context.Context) error {
	select {
	case s.saveSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.saveSlot }()

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if !s.tagSyncPending {
		s.mu.Unlock()
		return nil
	}
	noteID := s.pendingNoteID
	tagIDs := slices.Clone(s.pendingTags)
	asDraft := !s.pendingPublish
	snap := snapshot{
		content:  s.pendingContent,
		tagIDs:   tagIDs,
		noteID:   noteID,
		revision: s.pendingRev,
		prior:    s.state,
	}
	snap.digest = digest(snap.content, tagIDs)
	s.mu.Unlock()

	if err := s.sync.Reconcile(ctx, noteID, tagIDs); err != nil {
		s.emitUnlessDisposed(errorStatus(errs.MessageOf(err), err))
		return err
	}
	s.finish(noteID, snap, asDraft, false)
	return nil
}

// Hydrate loads the owner's outstanding draft into an untouched session.
// Failures are reported to the sink and leave the session as it was.
func (s *DraftSession) Hydrate(ctx context.Context) error {
	err := s.hydrate(ctx)
	if err != nil {
		s.emitUnlessDisposed(errorStatus(msgDraftLoadFailed, err))
	}
	return err
}

func (s *DraftSession) hydrate(ctx context.Context) error {
	owner, ok := s.identity.OwnerID(ctx)
	if !ok {
		return errNoOwner
	}
	select {
	case s.saveSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.saveSlot }()

	s.mu.Lock()
	startRev := s.revision
	s.mu.Unlock()

	draft, err := s.notes.GetDraftFor(ctx, owner)
	if err != nil {
		return asTransport(msgDraftLoadFailed, err)
	}
	if draft == nil {
		return nil
	}
	assocs, err := s.tags.ListAssociations(ctx, []string{draft.ID})
	if err != nil {
		return asTransport(msgDraftLoadFailed, err)
	}
	tagIDs := make([]string, 0, len(assocs))
	for _, a := range assocs {
		tagIDs = append(tagIDs, a.Tag.ID)
	}
	tagIDs = dedupe(tagIDs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || s.revision != startRev || s.noteID != "" {
		return nil
	}
	s.content = draft.Content
	s.tagIDs = tagIDs
	s.noteID = draft.ID
	s.state = DraftSaved
	s.savedDigest = digest(draft.Content, tagIDs)
	s.hasSaved = true
	s.lastSavedAt = draft.UpdatedAt
	return nil
}

// Dispose stops the autosave timer. Results of requests still in flight
// are discarded.
func (s *DraftSession) Dispose() {
	s.mu.Lock()
	s.disposed = true
	s.mu.Unlock()
	s.debounce.Stop()
}

func (s *DraftSession) emitUnlessDisposed(st Status) {
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if !disposed {
		s.sink.Emit(st)
	}
}

func (s *DraftSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *DraftSession) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// Tags returns the selected tag ids.
func (s *DraftSession) Tags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tagIDs)
}

// NoteID returns the bound note id, or "" before the first save.
func (s *DraftSession) NoteID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noteID
}

// LastSavedAt is the time of the last successful draft save.
func (s *DraftSession) LastSavedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSavedAt
}

// AutosavePending reports whether the autosave timer is armed.
func (s *DraftSession) AutosavePending() bool {
	return s.debounce.Pending()
}

// digest identifies a buffer: content plus its tag ids in sorted order.
func digest(content string, tagIDs []string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(content)
	sorted := slices.Clone(tagIDs)
	slices.Sort(sorted)
	for _, id := range sorted {
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(id)
	}
	return h.Sum64()
}
