package aggregate

import (
	"context"
	"fmt"

	"github.com/Anthya1104/ec-aggregate/internal/extentstore"
)

// removalPlan is the local-commit removal strategy of spec §4.7: a
// single bulk range-remove over the whole stripe when nothing needs to
// be held back, or one bounded-epoch removal per safely-contained
// extent otherwise.
type removalPlan struct {
	bulk    bool
	bulkRex extentstore.Recx
	items   []rpcPeerRemoveItem
}

type rpcPeerRemoveItem struct {
	OrigRecx extentstore.Recx
	Epoch    uint64
}

// planRemoval builds the removal plan for one stripe's replica
// extents. Spec §4.7: "a single bulk range-remove is only safe when
// every extent in the stripe is fully contained by the stripe's
// bounds (by original recx) and there are zero hold-overs, old or
// new; otherwise remove extent-by-extent, bounded to each extent's own
// epoch." An extent still crossing into the next stripe (its current,
// already-trimmed recx runs past stripeRecx's end) is left alone here:
// its prefix migrates to the akey tracker's hold-over list and is only
// removed once its terminal stripe commits, by the original recx the
// MemStore actually indexed it under.
func planRemoval(stripeRecx extentstore.Recx, extents []extentstore.DataEntry, holdOverCount int) removalPlan {
	allContained := true
	for _, e := range extents {
		if !stripeRecx.Contains(e.OrigRecx) {
			allContained = false
			break
		}
	}

	if allContained && holdOverCount == 0 {
		return removalPlan{bulk: true, bulkRex: stripeRecx}
	}

	plan := removalPlan{}
	for _, e := range extents {
		if e.Recx.End() > stripeRecx.End() {
			continue // still crossing; not yet at its terminal stripe
		}
		plan.items = append(plan.items, rpcPeerRemoveItem{OrigRecx: e.OrigRecx, Epoch: e.Epoch})
	}
	return plan
}

// resolveHoldOvers drops hold-over entries from t.holdOver whose
// (OrigRecx, Epoch) matches an item that was just actually removed
// from the store, per spec §4.7: a hold-over is retired only after its
// own terminal stripe's removal has committed.
func resolveHoldOvers(t *akeyTracker, removed []rpcPeerRemoveItem) {
	if len(t.holdOver) == 0 || len(removed) == 0 {
		return
	}
	kept := t.holdOver[:0]
	for _, h := range t.holdOver {
		retired := false
		for _, r := range removed {
			if h.OrigRecx == r.OrigRecx && h.Epoch == r.Epoch {
				retired = true
				break
			}
		}
		if !retired {
			kept = append(kept, h)
		}
	}
	t.holdOver = kept
}

// applyRemoval executes plan against store for object oid/dkey/akey.
func applyRemoval(ctx context.Context, store extentstore.Store, oid extentstore.OID, dkey, akey string, hiEpoch uint64, plan removalPlan) error {
	if plan.bulk {
		er := extentstore.EpochRange{Lo: 0, Hi: hiEpoch}
		if err := store.RangeRemove(ctx, oid, er, dkey, akey, plan.bulkRex); err != nil {
			return fmt.Errorf("aggregate: bulk range-remove failed: %w", err)
		}
		return nil
	}
	for _, item := range plan.items {
		er := extentstore.EpochRange{Lo: item.Epoch, Hi: item.Epoch}
		if err := store.RangeRemove(ctx, oid, er, dkey, akey, item.OrigRecx); err != nil {
			return fmt.Errorf("aggregate: bounded range-remove failed for %s@%d: %w", item.OrigRecx, item.Epoch, err)
		}
	}
	return nil
}

// toRemoveItems converts a removalPlan into the wire-level remove list
// the peer coordinator ships alongside EC_AGGREGATE (spec §4.6), which
// always uses the extent-by-extent form: a peer never learns the local
// bulk-vs-itemized decision, only the concrete (recx, epoch) pairs that
// are safe to remove on its own copy.
func toRemoveItems(stripeRecx extentstore.Recx, extents []extentstore.DataEntry, holdOverCount int) []rpcPeerRemoveItem {
	plan := planRemoval(stripeRecx, extents, holdOverCount)
	if !plan.bulk {
		return plan.items
	}
	items := make([]rpcPeerRemoveItem, 0, len(extents))
	for _, e := range extents {
		items = append(items, rpcPeerRemoveItem{OrigRecx: e.OrigRecx, Epoch: e.Epoch})
	}
	return items
}
