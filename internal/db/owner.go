package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ThoughtRow is a stored note.
type ThoughtRow struct {
	ID        string
	Content   string
	IsDraft   bool
	CreatedAt int64
	UpdatedAt int64
}

// TagRow is a stored tag.
type TagRow struct {
	ID        string
	Name      string
	Color     string
	CreatedAt int64
}

// AssociationRow links a thought to one of its tags.
type AssociationRow struct {
	ThoughtID string
	Tag       TagRow
}

// ProfileRow holds the owner's settings.
type ProfileRow struct {
	DisplayName        string
	AvatarURL          string
	EmailNotifications bool
	UpdatedAt          int64
}

// ErrDraftInProgress means the owner already has a different outstanding
// draft. An owner has at most one.
var ErrDraftInProgress = errors.New("another draft is in progress")

// sqliteMaxVars keeps IN (...) lists under SQLite's bound-parameter limit.
const sqliteMaxVars = 500

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// InsertThought stores a new thought. A draft also becomes the owner's
// current draft.
func (o *OwnerDB) InsertThought(ctx context.Context, t ThoughtRow) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert thought: %w", err)
	}
	defer tx.Rollback()

	if t.IsDraft {
		if err := checkNoOtherDraft(ctx, tx, t.ID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO thoughts (id, content, is_draft, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Content, boolToInt(t.IsDraft), t.CreatedAt, t.UpdatedAt); err != nil {
		return fmt.Errorf("insert thought: %w", err)
	}
	if t.IsDraft {
		if err := setCurrentDraft(ctx, tx, t.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateThought applies the non-nil fields. Switching to draft makes the
// thought the current draft; publishing it clears that relation.
// Returns sql.ErrNoRows if the thought does not exist.
func (o *OwnerDB) UpdateThought(ctx context.Context, id string, content *string, isDraft *bool, updatedAt int64) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update thought: %w", err)
	}
	defer tx.Rollback()

	var draftArg any
	if isDraft != nil {
		draftArg = boolToInt(*isDraft)
		if *isDraft {
			if err := checkNoOtherDraft(ctx, tx, id); err != nil {
				return err
			}
		}
	}
	var contentArg any
	if content != nil {
		contentArg = *content
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE thoughts
		 SET content = COALESCE(?, content),
		     is_draft = COALESCE(?, is_draft),
		     updated_at = ?
		 WHERE id = ?`,
		contentArg, draftArg, updatedAt, id)
	if err != nil {
		return fmt.Errorf("update thought: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}

	if isDraft != nil {
		if *isDraft {
			err = setCurrentDraft(ctx, tx, id)
		} else {
			_, err = tx.ExecContext(ctx, `DELETE FROM current_draft WHERE thought_id = ?`, id)
		}
		if err != nil {
			return fmt.Errorf("update current draft: %w", err)
		}
	}
	return tx.Commit()
}

func checkNoOtherDraft(ctx context.Context, tx *sql.Tx, thoughtID string) error {
	var other string
	err := tx.QueryRowContext(ctx,
		`SELECT t.id FROM current_draft d JOIN thoughts t ON t.id = d.thought_id
		 WHERE d.slot = 1 AND t.is_draft = 1 AND t.id <> ?`, thoughtID).Scan(&other)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("check current draft: %w", err)
	default:
		return ErrDraftInProgress
	}
}

func setCurrentDraft(ctx context.Context, tx *sql.Tx, thoughtID string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO current_draft (slot, thought_id) VALUES (1, ?)
		 ON CONFLICT(slot) DO UPDATE SET thought_id = excluded.thought_id`, thoughtID)
	if err != nil {
		return fmt.Errorf("set current draft: %w", err)
	}
	return nil
}

// GetCurrentDraft returns the owner's outstanding draft, or sql.ErrNoRows.
func (o *OwnerDB) GetCurrentDraft(ctx context.Context) (ThoughtRow, error) {
	var t ThoughtRow
	var isDraft int64
	err := o.db.QueryRowContext(ctx,
		`SELECT t.id, t.content, t.is_draft, t.created_at, t.updated_at
		 FROM current_draft d JOIN thoughts t ON t.id = d.thought_id
		 WHERE d.slot = 1 AND t.is_draft = 1`).
		Scan(&t.ID, &t.Content, &isDraft, &t.CreatedAt, &t.UpdatedAt)
	t.IsDraft = isDraft == 1
	return t, err
}

// GetThought returns one thought by id, or sql.ErrNoRows.
func (o *OwnerDB) GetThought(ctx context.Context, id string) (ThoughtRow, error) {
	var t ThoughtRow
	var isDraft int64
	err := o.db.QueryRowContext(ctx,
		`SELECT id, content, is_draft, created_at, updated_at FROM thoughts WHERE id = ?`, id).
		Scan(&t.ID, &t.Content, &isDraft, &t.CreatedAt, &t.UpdatedAt)
	t.IsDraft = isDraft == 1
	return t, err
}

// ListPublishedThoughts returns published thoughts ordered by creation
// time, ties broken by insertion order.
func (o *OwnerDB) ListPublishedThoughts(ctx context.Context, ascending bool) ([]ThoughtRow, error) {
	order := "DESC"
	if ascending {
		order = "ASC"
	}
	rows, err := o.db.QueryContext(ctx,
		`SELECT id, content, is_draft, created_at, updated_at FROM thoughts
		 WHERE is_draft = 0
		 ORDER BY created_at `+order+`, rowid `+order)
	if err != nil {
		return nil, fmt.Errorf("list thoughts: %w", err)
	}
	defer rows.Close()

	var out []ThoughtRow
	for rows.Next() {
		var t ThoughtRow
		var isDraft int64
		if err := rows.Scan(&t.ID, &t.Content, &isDraft, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thought: %w", err)
		}
		t.IsDraft = isDraft == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTags returns all tags ordered by name.
func (o *OwnerDB) ListTags(ctx context.Context) ([]TagRow, error) {
	rows, err := o.db.QueryContext(ctx, `SELECT id, name, color, created_at FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var out []TagRow
	for rows.Next() {
		var t TagRow
		if err := rows.Scan(&t.ID, &t.Name, &t.Color, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertTag stores a tag. A duplicate name fails with a unique violation
// (see IsUniqueViolation).
func (o *OwnerDB) InsertTag(ctx context.Context, t TagRow) error {
	_, err := o.db.ExecContext(ctx,
		`INSERT INTO tags (id, name, color, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.Color, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

// ListAssociations returns the tags attached to any of thoughtIDs, ordered
// by thought then tag name.
func (o *OwnerDB) ListAssociations(ctx context.Context, thoughtIDs []string) ([]AssociationRow, error) {
	var out []AssociationRow
	for start := 0; start < len(thoughtIDs); start += sqliteMaxVars {
		end := min(start+sqliteMaxVars, len(thoughtIDs))
		chunk := thoughtIDs[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		rows, err := o.db.QueryContext(ctx,
			`SELECT tt.thought_id, t.id, t.name, t.color, t.created_at
			 FROM thought_tags tt JOIN tags t ON t.id = tt.tag_id
			 WHERE tt.thought_id IN (`+placeholders+`)
			 ORDER BY tt.thought_id, t.name`, args...)
		if err != nil {
			return nil, fmt.Errorf("list associations: %w", err)
		}
		for rows.Next() {
			var a AssociationRow
			if err := rows.Scan(&a.ThoughtID, &a.Tag.ID, &a.Tag.Name, &a.Tag.Color, &a.Tag.CreatedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan association: %w", err)
			}
			out = append(out, a)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeleteAssociations removes every tag link of a thought.
func (o *OwnerDB) DeleteAssociations(ctx context.Context, thoughtID string) (int64, error) {
	res, err := o.db.ExecContext(ctx, `DELETE FROM thought_tags WHERE thought_id = ?`, thoughtID)
	if err != nil {
		return 0, fmt.Errorf("delete associations: %w", err)
	}
	return res.RowsAffected()
}

// InsertAssociations links tagIDs to a thought, all or nothing. Unknown
// thought or tag ids fail with a foreign key violation.
func (o *OwnerDB) InsertAssociations(ctx context.Context, thoughtID string, tagIDs []string) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert associations: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO thought_tags (thought_id, tag_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert association: %w", err)
	}
	defer stmt.Close()

	for _, tagID := range tagIDs {
		if _, err := stmt.ExecContext(ctx, thoughtID, tagID); err != nil {
			return fmt.Errorf("insert association %s: %w", tagID, err)
		}
	}
	return tx.Commit()
}

// GetProfile returns the owner's profile, or defaults when none was saved.
func (o *OwnerDB) GetProfile(ctx context.Context) (ProfileRow, error) {
	var p ProfileRow
	var notify int64
	err := o.db.QueryRowContext(ctx,
		`SELECT display_name, avatar_url, email_notifications, updated_at FROM profile WHERE id = 1`).
		Scan(&p.DisplayName, &p.AvatarURL, &notify, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ProfileRow{EmailNotifications: true}, nil
	}
	if err != nil {
		return ProfileRow{}, fmt.Errorf("get profile: %w", err)
	}
	p.EmailNotifications = notify == 1
	return p, nil
}

// UpsertProfile replaces the owner's profile.
func (o *OwnerDB) UpsertProfile(ctx context.Context, p ProfileRow) error {
	_, err := o.db.ExecContext(ctx,
		`INSERT INTO profile (id, display_name, avatar_url, email_notifications, updated_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     display_name = excluded.display_name,
		     avatar_url = excluded.avatar_url,
		     email_notifications = excluded.email_notifications,
		     updated_at = excluded.updated_at`,
		p.DisplayName, p.AvatarURL, boolToInt(p.EmailNotifications), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
