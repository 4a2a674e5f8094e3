package thoughts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kuitang/thoughtflow/internal/errs"
)

// NoteStore persists notes for an owner.
type NoteStore interface {
	CreateNote(ctx context.Context, ownerID, content string, isDraft bool) (*Thought, error)
	UpdateNote(ctx context.Context, id string, update NoteUpdate) error
	// GetDraftFor returns nil, nil when the owner has no outstanding draft.
	GetDraftFor(ctx context.Context, ownerID string) (*Thought, error)
	// ListNotes returns published notes ordered by creation time.
	ListNotes(ctx context.Context, ownerID string, ascending bool) ([]Thought, error)
}

// TagStore persists tags and note-tag associations.
type TagStore interface {
	ListTags(ctx context.Context, ownerID string) ([]Tag, error)
	CreateTag(ctx context.Context, ownerID, name, color string) (*Tag, error)
	ListAssociations(ctx context.Context, noteIDs []string) ([]Association, error)
	DeleteAssociations(ctx context.Context, noteID string) error
	InsertAssociations(ctx context.Context, noteID string, tagIDs []string) error
}

// Identity resolves the signed-in owner. ok=false means no session.
type Identity interface {
	OwnerID(ctx context.Context) (string, bool)
}

// StaticIdentity is a fixed owner; the empty string is signed out.
type StaticIdentity string

func (s StaticIdentity) OwnerID(context.Context) (string, bool) {
	return string(s), s != ""
}

// Level is the severity of a Status.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Status is a user-facing event.
type Status struct {
	Level   Level
	Title   string
	Message string
	Err     error
}

func (s Status) String() string {
	return fmt.Sprintf("%s: %s", s.Title, s.Message)
}

// Sink displays status events.
type Sink interface {
	Emit(Status)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Status)

func (f SinkFunc) Emit(s Status) { f(s) }

// LogSink writes status events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Emit(s Status) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if s.Level == LevelError {
		logger.Error("status", "title", s.Title, "message", s.Message, "error", s.Err)
		return
	}
	logger.Info("status", "title", s.Title, "message", s.Message)
}

type discardSink struct{}

func (discardSink) Emit(Status) {}

func sinkOrDiscard(s Sink) Sink {
	if s == nil {
		return discardSink{}
	}
	return s
}

func infoStatus(message string) Status {
	return Status{Level: LevelInfo, Title: "Success", Message: message}
}

func errorStatus(message string, err error) Status {
	return Status{Level: LevelError, Title: "Error", Message: message, Err: err}
}

// asTransport keeps coded errors and wraps anything else as unavailable,
// the generic retryable persistence failure.
func asTransport(message string, err error) error {
	var coded *errs.Error
	if errors.As(err, &coded) {
		return err
	}
	return errs.Wrap(errs.Unavailable, message, err)
}

var errNoOwner = errs.New(errs.Unauthenticated, "you must be signed in")
