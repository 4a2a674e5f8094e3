package thoughts

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/kuitang/thoughtflow/internal/errs"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testReconcile_Idempotent(t *rapid.T) {
	ctx := context.Background()
	store := newMemStore()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		store.addTag(id, "tag-"+id)
	}
	sync := NewSynchronizer(store)

	initial := rapid.SliceOf(rapid.SampledFrom([]string{"a", "b", "c", "d", "e"})).Draw(t, "initial")
	target := rapid.SliceOf(rapid.SampledFrom([]string{"a", "b", "c", "d", "e"})).Draw(t, "target")

	if err := sync.Reconcile(ctx, "note", initial); err != nil {
		t.Fatalf("initial reconcile: %v", err)
	}
	if err := sync.Reconcile(ctx, "note", target); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	first := store.linked("note")
	if err := sync.Reconcile(ctx, "note", target); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	second := store.linked("note")

	want := dedupe(target)
	slices.Sort(want)
	if !slices.Equal(first, want) {
		t.Fatalf("after reconcile links = %v, want %v", first, want)
	}
	if !slices.Equal(first, second) {
		t.Fatalf("reconcile not idempotent: %v then %v", first, second)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testReconcile_Idempotent)
}

func FuzzReconcile_Idempotent(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testReconcile_Idempotent))
}

func TestReconcile_ReplacesWholeSet(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addTag("X", "x")
	store.addTag("Y", "y")
	store.addTag("Z", "z")
	sync := NewSynchronizer(store)

	require.NoError(t, sync.Reconcile(ctx, "n1", []string{"X", "Y"}))
	require.NoError(t, sync.Reconcile(ctx, "n1", []string{"X", "Z"}))

	require.Equal(t, []string{
		"delete:n1", "insert:n1:X,Y",
		"delete:n1", "insert:n1:X,Z",
	}, store.Calls())
	require.Equal(t, []string{"X", "Z"}, store.linked("n1"))
}

func TestReconcile_EmptyTargetSkipsInsert(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addTag("X", "x")
	sync := NewSynchronizer(store)

	require.NoError(t, sync.Reconcile(ctx, "n1", []string{"X"}))
	require.NoError(t, sync.Reconcile(ctx, "n1", nil))

	require.Equal(t, []string{"delete:n1", "insert:n1:X", "delete:n1"}, store.Calls())
	require.Empty(t, store.linked("n1"))
}

func TestReconcile_CollapsesDuplicates(t *testing.T) {
	store := newMemStore()
	store.addTag("X", "x")
	require.NoError(t, NewSynchronizer(store).Reconcile(context.Background(), "n1", []string{"X", "X", ""}))
	require.Equal(t, []string{"X"}, store.linked("n1"))
}

func TestReconcile_FailuresAreSyncFailed(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("connection reset")

	store := newMemStore()
	store.failDelete = cause
	err := NewSynchronizer(store).Reconcile(ctx, "n1", []string{"X"})
	require.True(t, errs.Is(err, errs.SyncFailed))
	require.ErrorIs(t, err, cause)

	store = newMemStore()
	store.failInsert = cause
	err = NewSynchronizer(store).Reconcile(ctx, "n1", []string{"X"})
	require.True(t, errs.Is(err, errs.SyncFailed))

	err = NewSynchronizer(store).Reconcile(ctx, "", nil)
	require.True(t, errs.Is(err, errs.InvalidArgument))
}
