package db_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/kuitang/thoughtflow/internal/db"
	"github.com/kuitang/thoughtflow/internal/testdb"
	"pgregory.net/rapid"
)

// testCounter provides unique IDs for in-memory databases to avoid conflicts
var testCounter atomic.Int64

func newOwnerDB(t interface {
	Fatalf(format string, args ...any)
}) *db.OwnerDB {
	id := fmt.Sprintf("dbtest-%d", testCounter.Add(1))
	odb, err := testdb.NewOwnerDBInMemory(id)
	if err != nil {
		t.Fatalf("failed to create in-memory database: %v", err)
	}
	return odb
}

func ptr[T any](v T) *T { return &v }

func TestValidOwnerID(t *testing.T) {
	t.Parallel()
	for id, want := range map[string]bool{
		"alice":        true,
		"team_7-notes": true,
		"":             false,
		"../etc":       false,
		"a b":          false,
	} {
		if got := db.ValidOwnerID(id); got != want {
			t.Errorf("ValidOwnerID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestCurrentDraft_FollowsDraftAndPublish(t *testing.T) {
	ctx := context.Background()
	odb := newOwnerDB(t)
	defer odb.Close()

	if _, err := odb.GetCurrentDraft(ctx); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("empty db: want ErrNoRows, got %v", err)
	}

	if err := odb.InsertThought(ctx, db.ThoughtRow{ID: "t1", Content: "draft", IsDraft: true, CreatedAt: 1, UpdatedAt: 1}); err != nil {
		t.Fatalf("InsertThought: %v", err)
	}
	got, err := odb.GetCurrentDraft(ctx)
	if err != nil || got.ID != "t1" {
		t.Fatalf("GetCurrentDraft = %+v, %v", got, err)
	}

	if err := odb.UpdateThought(ctx, "t1", ptr("final"), ptr(false), 2); err != nil {
		t.Fatalf("UpdateThought: %v", err)
	}
	if _, err := odb.GetCurrentDraft(ctx); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("after publish: want ErrNoRows, got %v", err)
	}

	published, err := odb.ListPublishedThoughts(ctx, false)
	if err != nil || len(published) != 1 || published[0].Content != "final" {
		t.Fatalf("ListPublishedThoughts = %+v, %v", published, err)
	}
}

func TestCurrentDraft_SecondDraftRejected(t *testing.T) {
	ctx := context.Background()
	odb := newOwnerDB(t)
	defer odb.Close()

	if err := odb.InsertThought(ctx, db.ThoughtRow{ID: "a", Content: "A", IsDraft: true, CreatedAt: 1, UpdatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	err := odb.InsertThought(ctx, db.ThoughtRow{ID: "b", Content: "B", IsDraft: true, CreatedAt: 2, UpdatedAt: 2})
	if !errors.Is(err, db.ErrDraftInProgress) {
		t.Fatalf("want ErrDraftInProgress, got %v", err)
	}
	if _, err := odb.GetThought(ctx, "b"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("rejected draft was stored: %v", err)
	}
	got, err := odb.GetCurrentDraft(ctx)
	if err != nil || got.ID != "a" {
		t.Fatalf("GetCurrentDraft = %+v, %v", got, err)
	}
}

func TestUpdateThought_MissingIsNoRows(t *testing.T) {
	odb := newOwnerDB(t)
	defer odb.Close()
	err := odb.UpdateThought(context.Background(), "nope", ptr("x"), nil, 1)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("want ErrNoRows, got %v", err)
	}
}

func TestUpdateThought_NilFieldsKeepValues(t *testing.T) {
	ctx := context.Background()
	odb := newOwnerDB(t)
	defer odb.Close()

	if err := odb.InsertThought(ctx, db.ThoughtRow{ID: "t1", Content: "keep", IsDraft: true, CreatedAt: 1, UpdatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if err := odb.UpdateThought(ctx, "t1", nil, nil, 5); err != nil {
		t.Fatal(err)
	}
	got, err := odb.GetThought(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "keep" || !got.IsDraft || got.UpdatedAt != 5 {
		t.Fatalf("unexpected row %+v", got)
	}
}

func TestInsertTag_DuplicateNameIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	odb := newOwnerDB(t)
	defer odb.Close()

	if err := odb.InsertTag(ctx, db.TagRow{ID: "a", Name: "work", Color: "#000000", CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	err := odb.InsertTag(ctx, db.TagRow{ID: "b", Name: "work", Color: "#ffffff", CreatedAt: 2})
	if !db.IsUniqueViolation(err) {
		t.Fatalf("want unique violation, got %v", err)
	}
	// Names are case-sensitive.
	if err := odb.InsertTag(ctx, db.TagRow{ID: "c", Name: "Work", Color: "#ffffff", CreatedAt: 3}); err != nil {
		t.Fatalf("case-distinct name rejected: %v", err)
	}
}

func TestInsertAssociations_UnknownTagRollsBack(t *testing.T) {
	ctx := context.Background()
	odb := newOwnerDB(t)
	defer odb.Close()

	if err := odb.InsertThought(ctx, db.ThoughtRow{ID: "t1", CreatedAt: 1, UpdatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if err := odb.InsertTag(ctx, db.TagRow{ID: "x", Name: "x", Color: "#000000", CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	err := odb.InsertAssociations(ctx, "t1", []string{"x", "missing"})
	if !db.IsForeignKeyViolation(err) {
		t.Fatalf("want foreign key violation, got %v", err)
	}
	assocs, err := odb.ListAssociations(ctx, []string{"t1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(assocs) != 0 {
		t.Fatalf("partial insert survived: %+v", assocs)
	}
}

// Associations written for a set of tags read back as exactly that set.
func testAssociations_Roundtrip(t *rapid.T) {
	ctx := context.Background()
	odb := newOwnerDB(t)
	defer odb.Close()

	if err := odb.InsertThought(ctx, db.ThoughtRow{ID: "note", CreatedAt: 1, UpdatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	names := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,8}`), 0, 12, rapid.ID[string]).Draw(t, "names")
	var ids []string
	for i, name := range names {
		id := fmt.Sprintf("tag-%d", i)
		if err := odb.InsertTag(ctx, db.TagRow{ID: id, Name: name, Color: "#123456", CreatedAt: int64(i)}); err != nil {
			t.Fatal(err)
		}
		if rapid.Bool().Draw(t, "attach_"+name) {
			ids = append(ids, id)
		}
	}
	if err := odb.InsertAssociations(ctx, "note", ids); err != nil {
		t.Fatal(err)
	}

	assocs, err := odb.ListAssociations(ctx, []string{"note", "other"})
	if err != nil {
		t.Fatal(err)
	}
	if len(assocs) != len(ids) {
		t.Fatalf("got %d associations, want %d", len(assocs), len(ids))
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i, a := range assocs {
		if !want[a.Tag.ID] || a.ThoughtID != "note" {
			t.Fatalf("unexpected association %+v", a)
		}
		if i > 0 && assocs[i-1].Tag.Name > a.Tag.Name {
			t.Fatalf("associations not ordered by name")
		}
	}

	n, err := odb.DeleteAssociations(ctx, "note")
	if err != nil || n != int64(len(ids)) {
		t.Fatalf("DeleteAssociations = %d, %v", n, err)
	}
}

func TestAssociations_Roundtrip(t *testing.T) {
	rapid.Check(t, testAssociations_Roundtrip)
}

func FuzzAssociations_Roundtrip(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testAssociations_Roundtrip))
}

func TestListPublishedThoughts_OrderAndTieBreak(t *testing.T) {
	ctx := context.Background()
	odb := newOwnerDB(t)
	defer odb.Close()

	for i, row := range []db.ThoughtRow{
		{ID: "a", CreatedAt: 10},
		{ID: "b", CreatedAt: 20},
		{ID: "c", CreatedAt: 20},
		{ID: "d", CreatedAt: 5, IsDraft: true},
	} {
		row.UpdatedAt = int64(i)
		if err := odb.InsertThought(ctx, row); err != nil {
			t.Fatal(err)
		}
	}

	asc, err := odb.ListPublishedThoughts(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	desc, err := odb.ListPublishedThoughts(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(asc); got != "a,b,c" {
		t.Fatalf("ascending = %s", got)
	}
	if got := ids(desc); got != "c,b,a" {
		t.Fatalf("descending = %s", got)
	}
}

func ids(rows []db.ThoughtRow) string {
	out := ""
	for i, r := range rows {
		if i > 0 {
			out += ","
		}
		out += r.ID
	}
	return out
}

func TestProfile_DefaultsThenUpsert(t *testing.T) {
	ctx := context.Background()
	odb := newOwnerDB(t)
	defer odb.Close()

	p, err := odb.GetProfile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !p.EmailNotifications || p.DisplayName != "" {
		t.Fatalf("unexpected defaults %+v", p)
	}

	want := db.ProfileRow{DisplayName: "Ada", AvatarURL: "https://x/a.png", EmailNotifications: false, UpdatedAt: 9}
	if err := odb.UpsertProfile(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := odb.GetProfile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("GetProfile = %+v, want %+v", got, want)
	}
}

func TestAccounts_SessionsAndKeys(t *testing.T) {
	ctx := context.Background()
	adb, err := testdb.NewAccountsDBInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer adb.Close()

	if err := adb.InsertSession(ctx, db.SessionRow{TokenHash: "h1", OwnerID: "alice", ExpiresAt: 100, CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if s, err := adb.GetValidSession(ctx, "h1", 50); err != nil || s.OwnerID != "alice" {
		t.Fatalf("GetValidSession = %+v, %v", s, err)
	}
	if _, err := adb.GetValidSession(ctx, "h1", 100); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expired session still valid: %v", err)
	}
	if n, err := adb.DeleteExpiredSessions(ctx, 100); err != nil || n != 1 {
		t.Fatalf("DeleteExpiredSessions = %d, %v", n, err)
	}

	if _, err := adb.GetOwnerKey(ctx, "alice"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("want ErrNoRows, got %v", err)
	}
	if err := adb.InsertOwnerKey(ctx, db.OwnerKeyRow{OwnerID: "alice", KEKVersion: 1, EncryptedDEK: []byte{1, 2}, CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if err := adb.UpdateOwnerKey(ctx, "alice", 2, []byte{3}, 5); err != nil {
		t.Fatal(err)
	}
	k, err := adb.GetOwnerKey(ctx, "alice")
	if err != nil || k.KEKVersion != 2 || !k.RotatedAt.Valid {
		t.Fatalf("GetOwnerKey = %+v, %v", k, err)
	}
	if err := adb.UpdateOwnerKey(ctx, "bob", 2, []byte{3}, 5); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("update of missing key: %v", err)
	}
}

func TestOpenOwnerDBWithDEK_RejectsBadInput(t *testing.T) {
	db.DataDirectory = t.TempDir()
	t.Cleanup(db.ResetForTesting)

	if _, err := db.OpenOwnerDBWithDEK("../escape", testdb.TestDEK); err == nil {
		t.Fatal("path-like owner id accepted")
	}
	if _, err := db.OpenOwnerDBWithDEK("alice", []byte("short")); err == nil {
		t.Fatal("short DEK accepted")
	}
	odb, err := db.OpenOwnerDBWithDEK("alice", testdb.TestDEK)
	if err != nil {
		t.Fatalf("OpenOwnerDBWithDEK: %v", err)
	}
	again, err := db.OpenOwnerDBWithDEK("alice", testdb.TestDEK)
	if err != nil || again.DB() != odb.DB() {
		t.Fatalf("connection not cached: %v", err)
	}
}
