package thoughts

import (
	"context"

	"github.com/kuitang/thoughtflow/internal/errs"
)

// Synchronizer makes a note's persisted tag links equal a target set.
type Synchronizer struct {
	store TagStore
}

func NewSynchronizer(store TagStore) *Synchronizer {
	return &Synchronizer{store: store}
}

// Reconcile deletes every association of noteID, then inserts one per
// distinct id in tagIDs. The insert is skipped for an empty set. Running it
// twice with the same input leaves the same state. Failures are sync_failed;
// the note content written before the call is not rolled back.
func (s *Synchronizer) Reconcile(ctx context.Context, noteID string, tagIDs []string) error {
	if noteID == "" {
		return errs.New(errs.InvalidArgument, "note id is required")
	}
	if err := s.store.DeleteAssociations(ctx, noteID); err != nil {
		return errs.Wrap(errs.SyncFailed, "failed to update tags", err)
	}
	target := dedupe(tagIDs)
	if len(target) == 0 {
		return nil
	}
	if err := s.store.InsertAssociations(ctx, noteID, target); err != nil {
		return errs.Wrap(errs.SyncFailed, "failed to update tags", err)
	}
	return nil
}

// dedupe drops empty and repeated ids, keeping first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
