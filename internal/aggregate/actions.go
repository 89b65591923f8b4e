package aggregate

import (
	"context"
	"fmt"

	"github.com/Anthya1104/ec-aggregate/internal/codec"
	"github.com/Anthya1104/ec-aggregate/internal/ecclass"
	"github.com/Anthya1104/ec-aggregate/internal/extentstore"
)

// scanEpochsVsParity reports whether any extent in extents (hole or
// not — a punch is as much new information as a write) is strictly
// older, or strictly newer, than the probed parity epoch. When no
// parity exists every extent counts as newer, matching spec §4.4's
// branch 2 condition ("!parity.Found").
func scanEpochsVsParity(extents []extentstore.DataEntry, probe extentstore.ParityProbe) (anyOlder, anyNewer bool) {
	for _, e := range extents {
		if !probe.Found {
			anyNewer = true
			continue
		}
		if e.Epoch < probe.Epoch {
			anyOlder = true
		} else if e.Epoch > probe.Epoch {
			anyNewer = true
		}
	}
	return anyOlder, anyNewer
}

// processStripe runs the probe -> classify -> act -> carry-over
// pipeline for the akey's currently assembled stripe (spec §4.3,
// §4.4). It returns the suffix of a crossing extent to seed the next
// stripe, or nil if the stripe ended cleanly on a boundary.
func (d *Driver) processStripe(ctx context.Context, t *akeyTracker, er extentstore.EpochRange) (*extentstore.DataEntry, error) {
	st := t.state
	stripe := st.curStripe

	probe, err := d.Store.ProbeParity(ctx, t.oid, t.dkey, t.akey, stripe)
	if err != nil {
		return nil, fmt.Errorf("aggregate: parity probe failed for stripe %d: %w", stripe, err)
	}

	acc := computeCellAccounting(t.class, stripe, st.dataExtents)
	anyOlder, anyNewer := scanEpochsVsParity(st.dataExtents, probe)

	in := classifyInput{
		stripeRecords:      t.class.StripeRecords(),
		stripeFill:         st.stripeFill,
		hiEpoch:            st.hiEpoch,
		hasHoles:           st.hasHoles,
		parity:             probe,
		cells:              acc,
		anyOlderThanParity: anyOlder,
		anyNewerThanParity: anyNewer,
	}
	action := classify(in)

	stripeRecx := extentstore.Recx{Start: t.class.StripeStart(stripe), Length: t.class.StripeRecords()}

	d.Log.WithFields(map[string]any{
		"oid": t.oid, "dkey": t.dkey, "akey": t.akey, "stripe": stripe, "action": action.String(),
	}).Debug("aggregate: stripe classified")

	var actErr error
	switch action {
	case ActionDrop:
		actErr = d.doDrop(ctx, t, stripeRecx)
	case ActionFullEncode:
		actErr = d.doFullEncode(ctx, t, stripeRecx, acc)
	case ActionNoOp:
		actErr = nil
	case ActionHoleFill:
		actErr = d.doHoleFill(ctx, t, stripeRecx)
	case ActionFullRecalc:
		actErr = d.doFullRecalc(ctx, t, stripeRecx, acc, probe)
	case ActionPartialUpdate:
		actErr = d.doPartialUpdate(ctx, t, stripeRecx, acc, probe)
	}
	if actErr != nil {
		return nil, fmt.Errorf("aggregate: action %s failed for stripe %d: %w", action, stripe, actErr)
	}

	crossing, err := st.crossingExtent()
	if err != nil {
		return nil, err
	}
	if crossing == nil {
		return nil, nil
	}
	prefix, suffix := splitCarryOver(t.class, stripe, *crossing)
	t.holdOver = append(t.holdOver, prefix)
	return &suffix, nil
}

// doDrop implements spec §4.4 branch 1: parity already covers every
// replica in the stripe, so the replicas are stale and removed; no
// parity write, no peer parity write, but peers still learn to drop
// their own copies of the same stale replicas.
func (d *Driver) doDrop(ctx context.Context, t *akeyTracker, stripeRecx extentstore.Recx) error {
	return offload(ctx, func() error {
		if err := d.peersHealthy(); err != nil {
			return err
		}
		plan := planRemoval(stripeRecx, t.state.dataExtents, len(t.holdOver))
		if err := applyRemoval(ctx, d.Store, t.oid, t.dkey, t.akey, t.state.hiEpoch, plan); err != nil {
			return err
		}
		items := toRemoveItems(stripeRecx, t.state.dataExtents, len(t.holdOver))
		resolveHoldOvers(t, plan.items)
		if len(d.PeerLocations) == 0 || len(items) == 0 {
			return nil
		}
		return d.fanOutAggregate(ctx, t.oid, t.dkey, t.akey, 0, t.state.hiEpoch, t.state.curStripe, peerShipment{
			writeParity: false,
			remove:      items,
		})
	})
}

// fetchLocalCell reads one full data cell from the local store at the
// given epoch.
func (d *Driver) fetchLocalCell(ctx context.Context, t *akeyTracker, cellIdx int, epoch uint64) ([]byte, error) {
	start := t.class.StripeStart(t.state.curStripe) + int64(cellIdx)*t.class.CellRecords()
	recx := extentstore.Recx{Start: start, Length: t.class.CellRecords()}
	return d.Store.Fetch(ctx, t.oid, epoch, t.dkey, t.akey, recx)
}

// fetchRemoteCell pulls one full data cell from its owning data shard
// via the object client (spec §4.6's cross-shard pull).
func (d *Driver) fetchRemoteCell(ctx context.Context, t *akeyTracker, cellIdx int, epoch uint64) ([]byte, error) {
	h, err := d.ObjectClient.Open(ctx, t.oid)
	if err != nil {
		return nil, fmt.Errorf("aggregate: object-client open failed: %w", err)
	}
	shard, ok := d.DataShardIndex[cellIdx]
	if !ok {
		return nil, fmt.Errorf("aggregate: no data-shard mapping for cell %d", cellIdx)
	}
	start := t.class.StripeStart(t.state.curStripe) + int64(cellIdx)*t.class.CellRecords()
	recx := extentstore.Recx{Start: start, Length: t.class.CellRecords()}
	return d.ObjectClient.Fetch(ctx, h, shard, epoch, t.dkey, t.akey, recx)
}

// ownParityIndex returns this driver's position among the object's P
// parity shards.
func (d *Driver) ownParityIndex(t *akeyTracker) (int, error) {
	return t.class.ParityIndex(d.ShardIndex)
}

// shipParity writes the local parity cell and fans the remaining cells
// out to peer parity shards, plus the shared removal list, used by
// both full-encode and full-recalc (spec §4.5, §4.6).
func (d *Driver) shipParity(ctx context.Context, t *akeyTracker, stripeRecx extentstore.Recx, parityCells [][]byte, extents []extentstore.DataEntry) error {
	if err := d.peersHealthy(); err != nil {
		return err
	}
	pidx, err := d.ownParityIndex(t)
	if err != nil {
		return err
	}
	pStart, pLen := t.class.ParityRecx(t.state.curStripe)
	parityRecx := extentstore.Recx{Start: pStart, Length: pLen}
	if err := d.Store.Update(ctx, t.oid, t.state.hiEpoch, t.dkey, t.akey, parityRecx, parityCells[pidx]); err != nil {
		return fmt.Errorf("aggregate: local parity write failed: %w", err)
	}

	plan := planRemoval(stripeRecx, extents, len(t.holdOver))
	if err := applyRemoval(ctx, d.Store, t.oid, t.dkey, t.akey, t.state.hiEpoch, plan); err != nil {
		return err
	}
	resolveHoldOvers(t, plan.items)

	if len(d.PeerLocations) == 0 {
		return nil
	}
	byIdx := make(map[int][]byte, len(d.PeerLocations))
	for peerIdx := range d.PeerLocations {
		if peerIdx >= 0 && peerIdx < len(parityCells) {
			byIdx[peerIdx] = parityCells[peerIdx]
		}
	}
	items := toRemoveItems(stripeRecx, extents, len(t.holdOver))
	return d.fanOutAggregate(ctx, t.oid, t.dkey, t.akey, 0, t.state.hiEpoch, t.state.curStripe, peerShipment{
		writeParity: true,
		parityRecx:  parityRecx,
		parityByIdx: byIdx,
		remove:      items,
	})
}

// doFullEncode implements spec §4.4 branch 2: the whole stripe is
// replicated locally (spec's temporary full-replication-before-parity
// scheme), so every data cell is read from the local store and encoded
// from scratch.
func (d *Driver) doFullEncode(ctx context.Context, t *akeyTracker, stripeRecx extentstore.Recx, acc cellAccounting) error {
	return offload(ctx, func() error {
		cells := make([][]byte, t.class.K)
		for c := 0; c < t.class.K; c++ {
			buf, err := d.fetchLocalCell(ctx, t, c, t.state.hiEpoch)
			if err != nil {
				return fmt.Errorf("aggregate: full-encode fetch of cell %d failed: %w", c, err)
			}
			cells[c] = buf
		}
		parity, err := t.codec.FullEncode(cells)
		if err != nil {
			return fmt.Errorf("aggregate: full-encode failed: %w", err)
		}
		return d.shipParity(ctx, t, stripeRecx, parity, t.state.dataExtents)
	})
}

// doFullRecalc implements spec §4.4 branch 5: enough of the stripe has
// changed (or an older-than-parity replica is present) that parity
// must be rebuilt from a complete stripe, pulling whatever cells
// aren't fully covered locally from their owning data shards.
func (d *Driver) doFullRecalc(ctx context.Context, t *akeyTracker, stripeRecx extentstore.Recx, acc cellAccounting, probe extentstore.ParityProbe) error {
	return offload(ctx, func() error {
		cells := make([][]byte, t.class.K)
		for c := 0; c < t.class.K; c++ {
			var buf []byte
			var err error
			if acc.full[c] {
				buf, err = d.fetchLocalCell(ctx, t, c, t.state.hiEpoch)
			} else {
				buf, err = d.fetchRemoteCell(ctx, t, c, t.state.hiEpoch)
			}
			if err != nil {
				return fmt.Errorf("aggregate: full-recalc fetch of cell %d failed: %w", c, err)
			}
			cells[c] = buf
		}
		parity, err := t.codec.Recalc(cells)
		if err != nil {
			return fmt.Errorf("aggregate: full-recalc encode failed: %w", err)
		}
		return d.shipParity(ctx, t, stripeRecx, parity, t.state.dataExtents)
	})
}

// doPartialUpdate implements spec §4.4 branch 6: only a minority of
// cells changed and nothing is older than the existing parity, so the
// update is applied incrementally instead of re-encoding the stripe.
func (d *Driver) doPartialUpdate(ctx context.Context, t *akeyTracker, stripeRecx extentstore.Recx, acc cellAccounting, probe extentstore.ParityProbe) error {
	return offload(ctx, func() error {
		if err := d.peersHealthy(); err != nil {
			return err
		}
		objHandle, err := d.ObjectClient.Open(ctx, t.oid)
		if err != nil {
			return fmt.Errorf("aggregate: object-client open failed: %w", err)
		}

		touched := make(map[int][]byte)
		for c := 0; c < t.class.K; c++ {
			if !acc.touched[c] {
				continue
			}
			diff := make([]byte, t.class.CellBytes())
			cellStart := stripeRecx.Start + int64(c)*t.class.CellRecords()
			cellEnd := cellStart + t.class.CellRecords()

			// Only the record ranges actually carrying a newer-than-parity
			// extent are fetched: the owning data shard still retains the
			// pre-update bytes at parity epoch (this parity shard's own
			// local convenience copy of that range may already be gone),
			// while the new bytes are the write that was just ingested
			// locally (spec §4.5's diff pre-process then masks everything
			// else to zero, so no other byte range needs touching).
			for _, e := range t.state.dataExtents {
				if e.IsHole || e.Epoch <= probe.Epoch {
					continue
				}
				lo, hi := e.Recx.Start, e.Recx.End()
				if lo < cellStart {
					lo = cellStart
				}
				if hi > cellEnd {
					hi = cellEnd
				}
				if hi <= lo {
					continue
				}
				subRecx := extentstore.Recx{Start: lo, Length: hi - lo}
				oldBuf, err := d.ObjectClient.Fetch(ctx, objHandle, d.DataShardIndex[c], probe.Epoch, t.dkey, t.akey, subRecx)
				if err != nil {
					return fmt.Errorf("aggregate: partial-update old fetch of cell %d failed: %w", c, err)
				}
				newBuf, err := d.Store.Fetch(ctx, t.oid, t.state.hiEpoch, t.dkey, t.akey, subRecx)
				if err != nil {
					return fmt.Errorf("aggregate: partial-update new fetch of cell %d failed: %w", c, err)
				}
				subDiff, err := codec.XORDiff(oldBuf, newBuf)
				if err != nil {
					return fmt.Errorf("aggregate: partial-update diff of cell %d failed: %w", c, err)
				}
				byteOff := (lo - cellStart) * int64(t.class.RecordSize)
				copy(diff[byteOff:byteOff+int64(len(subDiff))], subDiff)
			}

			spans := touchedByteSpans(t.class, t.state.curStripe, c, t.state.dataExtents, probe.Epoch)
			codec.ZeroOutsideSpans(diff, spans)
			touched[c] = diff
		}
		if len(touched) == 0 {
			return nil
		}

		pidx, err := d.ownParityIndex(t)
		if err != nil {
			return err
		}
		pStart, pLen := t.class.ParityRecx(t.state.curStripe)
		parityRecx := extentstore.Recx{Start: pStart, Length: pLen}
		oldOwn, err := d.Store.Fetch(ctx, t.oid, probe.Epoch, t.dkey, t.akey, parityRecx)
		if err != nil {
			return fmt.Errorf("aggregate: partial-update old parity fetch failed: %w", err)
		}

		// Encoding a one-hot stripe against an all-zero baseline yields
		// the pure coef[p,j]*diff contribution for every parity index at
		// once. Each shard — this one and every peer — combines it with
		// whatever it already has stored; no shard needs another's prior
		// value (see rpcpeer.AggregateRequest.Incremental).
		zeroBaseline := make([][]byte, t.class.P)
		for p := range zeroBaseline {
			zeroBaseline[p] = make([]byte, len(oldOwn))
		}
		contrib, err := t.codec.IncrementalUpdate(zeroBaseline, touched)
		if err != nil {
			return fmt.Errorf("aggregate: incremental update failed: %w", err)
		}
		ownNew, err := codec.XORDiff(oldOwn, contrib[pidx])
		if err != nil {
			return fmt.Errorf("aggregate: incremental own-parity combine failed: %w", err)
		}
		if err := d.Store.Update(ctx, t.oid, t.state.hiEpoch, t.dkey, t.akey, parityRecx, ownNew); err != nil {
			return fmt.Errorf("aggregate: local incremental parity write failed: %w", err)
		}

		plan := planRemoval(stripeRecx, t.state.dataExtents, len(t.holdOver))
		if err := applyRemoval(ctx, d.Store, t.oid, t.dkey, t.akey, t.state.hiEpoch, plan); err != nil {
			return err
		}
		resolveHoldOvers(t, plan.items)
		if len(d.PeerLocations) == 0 {
			return nil
		}
		byIdx := make(map[int][]byte, len(d.PeerLocations))
		for peerIdx := range d.PeerLocations {
			if peerIdx >= 0 && peerIdx < len(contrib) {
				byIdx[peerIdx] = contrib[peerIdx]
			}
		}
		items := toRemoveItems(stripeRecx, t.state.dataExtents, len(t.holdOver))
		return d.fanOutIncrementalAggregate(ctx, t.oid, t.dkey, t.akey, t.state.hiEpoch, t.state.curStripe, parityRecx, byIdx, items)
	})
}

// doHoleFill implements spec §4.4 branch 4: newer data exists but a
// hole makes it impossible to produce valid parity, so the engine
// instead re-replicates whatever valid ranges the hole extents cover
// (fetched from the owning data shards) and retires the stale parity,
// reverting the stripe to replicas-only.
func (d *Driver) doHoleFill(ctx context.Context, t *akeyTracker, stripeRecx extentstore.Recx) error {
	return offload(ctx, func() error {
		if err := d.peersHealthy(); err != nil {
			return err
		}
		var holeCells []int
		for _, de := range t.state.dataExtents {
			if !de.IsHole {
				continue
			}
			lo := max(de.Recx.Start, stripeRecx.Start) - stripeRecx.Start
			hi := min(de.Recx.End(), stripeRecx.End()) - stripeRecx.Start
			for c := t.class.CellOf(lo); hi > lo && c <= t.class.CellOf(hi-1); c++ {
				holeCells = append(holeCells, c)
			}
		}
		for _, cellIdx := range holeCells {
			data, err := d.fetchRemoteCell(ctx, t, cellIdx, t.state.hiEpoch)
			if err != nil {
				return fmt.Errorf("aggregate: hole-fill fetch of cell %d failed: %w", cellIdx, err)
			}
			cellStart := stripeRecx.Start + int64(cellIdx)*t.class.CellRecords()
			cellRecx := extentstore.Recx{Start: cellStart, Length: t.class.CellRecords()}
			if err := d.Store.Update(ctx, t.oid, t.state.hiEpoch, t.dkey, t.akey, cellRecx, data); err != nil {
				return fmt.Errorf("aggregate: hole-fill local write failed: %w", err)
			}
			if len(d.PeerLocations) > 0 {
				if err := d.fanOutReplicate(ctx, t.oid, t.dkey, t.akey, t.state.curStripe, t.state.hiEpoch, cellRecx, data); err != nil {
					return fmt.Errorf("aggregate: hole-fill replicate fan-out failed: %w", err)
				}
			}
		}

		pStart, pLen := t.class.ParityRecx(t.state.curStripe)
		parityRecx := extentstore.Recx{Start: pStart, Length: pLen}
		er := extentstore.EpochRange{Lo: 0, Hi: t.state.hiEpoch}
		if err := d.Store.RangeRemove(ctx, t.oid, er, t.dkey, t.akey, parityRecx); err != nil {
			return fmt.Errorf("aggregate: hole-fill stale-parity removal failed: %w", err)
		}
		return nil
	})
}

// touchedByteSpans returns the byte ranges within cell cellIdx that
// some extent newer than parityEpoch actually covers, for
// codec.ZeroOutsideSpans's diff pre-process step (spec §4.5).
func touchedByteSpans(class ecclass.Class, stripe int64, cellIdx int, extents []extentstore.DataEntry, parityEpoch uint64) []codec.ByteSpan {
	cellStart := class.StripeStart(stripe) + int64(cellIdx)*class.CellRecords()
	cellEnd := cellStart + class.CellRecords()
	recordSize := int64(class.RecordSize)

	var spans []codec.ByteSpan
	for _, e := range extents {
		if e.IsHole || e.Epoch <= parityEpoch {
			continue
		}
		lo, hi := e.Recx.Start, e.Recx.End()
		if lo < cellStart {
			lo = cellStart
		}
		if hi > cellEnd {
			hi = cellEnd
		}
		if hi <= lo {
			continue
		}
		spans = append(spans, codec.ByteSpan{
			Start: int((lo - cellStart) * recordSize),
			End:   int((hi - cellStart) * recordSize),
		})
	}
	return spans
}
