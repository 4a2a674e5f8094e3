// Package store implements the note and tag stores over one owner's
// encrypted database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kuitang/thoughtflow/internal/clock"
	"github.com/kuitang/thoughtflow/internal/db"
	"github.com/kuitang/thoughtflow/internal/errs"
	"github.com/kuitang/thoughtflow/internal/thoughts"
)

// MaxContentBytes bounds a single note.
const MaxContentBytes = 64 * 1024

// MaxTagNameChars bounds a tag name.
const MaxTagNameChars = 64

// Store serves one owner. Calls naming another owner are permission_denied.
type Store struct {
	db    *db.OwnerDB
	clock clock.Clock
}

var (
	_ thoughts.NoteStore = (*Store)(nil)
	_ thoughts.TagStore  = (*Store)(nil)
)

// New creates a Store. A nil clock uses wall time.
func New(ownerDB *db.OwnerDB, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{db: ownerDB, clock: clk}
}

func (s *Store) checkOwner(ownerID string) error {
	if ownerID != s.db.OwnerID() {
		return errs.New(errs.PermissionDenied, "not your thoughts")
	}
	return nil
}

func (s *Store) nowMillis() int64 {
	return s.clock.Now().UnixMilli()
}

func (s *Store) CreateNote(ctx context.Context, ownerID, content string, isDraft bool) (*thoughts.Thought, error) {
	if err := s.checkOwner(ownerID); err != nil {
		return nil, err
	}
	if len(content) > MaxContentBytes {
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("thought exceeds %d bytes", MaxContentBytes))
	}
	now := s.nowMillis()
	row := db.ThoughtRow{
		ID:        uuid.NewString(),
		Content:   content,
		IsDraft:   isDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.InsertThought(ctx, row); err != nil {
		return nil, saveError(err)
	}
	t := s.toThought(row)
	return &t, nil
}

func (s *Store) UpdateNote(ctx context.Context, id string, update thoughts.NoteUpdate) error {
	if update.Content != nil && len(*update.Content) > MaxContentBytes {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("thought exceeds %d bytes", MaxContentBytes))
	}
	err := s.db.UpdateThought(ctx, id, update.Content, update.IsDraft, s.nowMillis())
	if errors.Is(err, sql.ErrNoRows) {
		return errs.New(errs.NotFound, "thought not found")
	}
	if err != nil {
		return saveError(err)
	}
	return nil
}

func saveError(err error) error {
	if errors.Is(err, db.ErrDraftInProgress) {
		return errs.Wrap(errs.FailedPrecondition, "Another draft is in progress. Resume it or publish it first.", err)
	}
	return errs.Wrap(errs.Unavailable, "failed to save thought", err)
}

func (s *Store) GetDraftFor(ctx context.Context, ownerID string) (*thoughts.Thought, error) {
	if err := s.checkOwner(ownerID); err != nil {
		return nil, err
	}
	row, err := s.db.GetCurrentDraft(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "failed to load draft", err)
	}
	t := s.toThought(row)
	return &t, nil
}

// GetNote returns one note with its tags.
func (s *Store) GetNote(ctx context.Context, id string) (*thoughts.Thought, error) {
	row, err := s.db.GetThought(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "thought not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "failed to load thought", err)
	}
	assocs, err := s.ListAssociations(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	t := thoughts.AttachTags([]thoughts.Thought{s.toThought(row)}, assocs)[0]
	return &t, nil
}

func (s *Store) ListNotes(ctx context.Context, ownerID string, ascending bool) ([]thoughts.Thought, error) {
	if err := s.checkOwner(ownerID); err != nil {
		return nil, err
	}
	rows, err := s.db.ListPublishedThoughts(ctx, ascending)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "failed to load thoughts", err)
	}
	out := make([]thoughts.Thought, 0, len(rows))
	for _, r := range rows {
		out = append(out, s.toThought(r))
	}
	return out, nil
}

func (s *Store) ListTags(ctx context.Context, ownerID string) ([]thoughts.Tag, error) {
	if err := s.checkOwner(ownerID); err != nil {
		return nil, err
	}
	rows, err := s.db.ListTags(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "failed to load tags", err)
	}
	out := make([]thoughts.Tag, 0, len(rows))
	for _, r := range rows {
		out = append(out, toTag(r))
	}
	return out, nil
}

func (s *Store) CreateTag(ctx context.Context, ownerID, name, color string) (*thoughts.Tag, error) {
	if err := s.checkOwner(ownerID); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errs.New(errs.InvalidArgument, "Tag name cannot be empty")
	}
	if len([]rune(name)) > MaxTagNameChars {
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("tag name exceeds %d characters", MaxTagNameChars))
	}
	row := db.TagRow{
		ID:        uuid.NewString(),
		Name:      name,
		Color:     color,
		CreatedAt: s.nowMillis(),
	}
	if err := s.db.InsertTag(ctx, row); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errs.Wrap(errs.AlreadyExists, fmt.Sprintf("tag %q already exists", name), err)
		}
		return nil, errs.Wrap(errs.Unavailable, "failed to create tag", err)
	}
	t := toTag(row)
	return &t, nil
}

func (s *Store) ListAssociations(ctx context.Context, noteIDs []string) ([]thoughts.Association, error) {
	rows, err := s.db.ListAssociations(ctx, noteIDs)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "failed to load tags", err)
	}
	out := make([]thoughts.Association, 0, len(rows))
	for _, r := range rows {
		out = append(out, thoughts.Association{NoteID: r.ThoughtID, Tag: toTag(r.Tag)})
	}
	return out, nil
}

func (s *Store) DeleteAssociations(ctx context.Context, noteID string) error {
	if _, err := s.db.DeleteAssociations(ctx, noteID); err != nil {
		return errs.Wrap(errs.Unavailable, "failed to update tags", err)
	}
	return nil
}

func (s *Store) InsertAssociations(ctx context.Context, noteID string, tagIDs []string) error {
	err := s.db.InsertAssociations(ctx, noteID, tagIDs)
	switch {
	case err == nil:
		return nil
	case db.IsForeignKeyViolation(err):
		return errs.Wrap(errs.NotFound, "unknown thought or tag", err)
	case db.IsUniqueViolation(err):
		return errs.Wrap(errs.AlreadyExists, "tag already attached", err)
	default:
		return errs.Wrap(errs.Unavailable, "failed to update tags", err)
	}
}

func (s *Store) toThought(r db.ThoughtRow) thoughts.Thought {
	return thoughts.Thought{
		ID:        r.ID,
		OwnerID:   s.db.OwnerID(),
		Content:   r.Content,
		IsDraft:   r.IsDraft,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
}

func toTag(r db.TagRow) thoughts.Tag {
	return thoughts.Tag{
		ID:        r.ID,
		Name:      r.Name,
		Color:     r.Color,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}
}
