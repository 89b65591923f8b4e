package aggregate

import (
	"fmt"

	"github.com/Anthya1104/ec-aggregate/internal/ecclass"
	"github.com/Anthya1104/ec-aggregate/internal/extentstore"
)

// stripeState is the per-akey aggregation state of spec §3: "lifetime
// one akey traversal". It is owned exclusively by the iteration
// driver (spec §9 — no embedding/back-reference tricks; the driver
// passes *stripeState explicitly into every helper that needs it).
type stripeState struct {
	class ecclass.Class

	started     bool
	curStripe   int64
	hiEpoch     uint64
	dataExtents []extentstore.DataEntry
	stripeFill  int64
	offset      int64
	offsetSet   bool
	hasHoles    bool
	sawChecksum bool
}

func newStripeState(class ecclass.Class) *stripeState {
	return &stripeState{class: class}
}

func (s *stripeState) reset(stripe int64) {
	s.started = true
	s.curStripe = stripe
	s.hiEpoch = 0
	s.dataExtents = nil
	s.stripeFill = 0
	s.offset = 0
	s.offsetSet = false
	s.hasHoles = false
}

func (s *stripeState) nonEmpty() bool { return len(s.dataExtents) > 0 }

// append adds de to the current stripe's extent list and updates the
// running accounting fields (spec §4.2's final paragraph).
func (s *stripeState) append(de extentstore.DataEntry) {
	s.dataExtents = append(s.dataExtents, de)
	if !s.offsetSet {
		s.offset = de.Recx.Start - s.class.StripeStart(s.curStripe)
		s.offsetSet = true
	}
	if de.Epoch > s.hiEpoch {
		s.hiEpoch = de.Epoch
	}
	if de.IsHole {
		s.hasHoles = true
		return
	}
	stripeEnd := s.class.StripeEnd(s.curStripe)
	lo, hi := de.Recx.Start, de.Recx.End()
	if hi > stripeEnd {
		hi = stripeEnd
	}
	if lo < s.class.StripeStart(s.curStripe) {
		lo = s.class.StripeStart(s.curStripe)
	}
	if hi > lo {
		s.stripeFill += hi - lo
	}
}

// crossingExtent returns the single extent (if any) whose current
// Recx crosses past the end of the current stripe. The invariant
// guarantees at most one; a second one found is a programming error,
// surfaced fatally per spec §7.
func (s *stripeState) crossingExtent() (*extentstore.DataEntry, error) {
	stripeEnd := s.class.StripeEnd(s.curStripe)
	var found *extentstore.DataEntry
	for i := range s.dataExtents {
		if s.dataExtents[i].Recx.End() > stripeEnd {
			if found != nil {
				return nil, fmt.Errorf("aggregate: invariant violation: more than one carry-over extent in stripe %d", s.curStripe)
			}
			found = &s.dataExtents[i]
		}
	}
	return found, nil
}

// splitCarryOver performs spec §4.2's "carry-over trim": the crossing
// extent's prefix stays with the finished stripe (for removal
// accounting), its suffix becomes the sole seed of the next stripe.
// Returns the prefix (ending at the stripe boundary) and the suffix
// entry to seed stripe+1 with; both keep e's epoch and OrigRecx.
func splitCarryOver(class ecclass.Class, stripe int64, e extentstore.DataEntry) (prefix, suffix extentstore.DataEntry) {
	boundary := class.StripeEnd(stripe)
	prefix = e
	prefix.Recx = extentstore.Recx{Start: e.Recx.Start, Length: boundary - e.Recx.Start}

	suffix = e
	suffix.Recx = extentstore.Recx{Start: boundary, Length: e.Recx.End() - boundary}
	return prefix, suffix
}

// cellAccounting summarizes, per data cell in [0,K), whether any
// replica touches it and whether some contiguous replica run fully
// covers it — spec §4.4's classifier input.
type cellAccounting struct {
	touched   []bool
	full      []bool
	fullCount int
	touchedN  int
}

// computeCellAccounting scans contiguous non-hole replica runs across
// the stripe and marks, for each cell, touched/full exactly as spec
// §4.4 describes: "scan contiguous replica runs across the stripe;
// for each cell c, mark touched if any replica covers any part of
// cell c, and full if at least one contiguous run covers cell c
// entirely."
func computeCellAccounting(class ecclass.Class, stripe int64, extents []extentstore.DataEntry) cellAccounting {
	acc := cellAccounting{touched: make([]bool, class.K), full: make([]bool, class.K)}
	stripeStart := class.StripeStart(stripe)
	stripeEnd := class.StripeEnd(stripe)

	// Build contiguous runs from non-hole extents clipped to the stripe.
	type run struct{ start, end int64 }
	var runs []run
	for _, e := range extents {
		if e.IsHole {
			continue
		}
		lo, hi := e.Recx.Start, e.Recx.End()
		if lo < stripeStart {
			lo = stripeStart
		}
		if hi > stripeEnd {
			hi = stripeEnd
		}
		if hi > lo {
			runs = append(runs, run{lo, hi})
		}
	}

	for c := 0; c < class.K; c++ {
		cellStart := stripeStart + int64(c)*class.CellRecords()
		cellEnd := cellStart + class.CellRecords()
		// Adjacent or overlapping extents form one contiguous run, so a
		// cell is full when the union of the runs covers every record.
		covered := make([]bool, cellEnd-cellStart)
		for _, r := range runs {
			if r.start < cellEnd && r.end > cellStart {
				acc.touched[c] = true
				for i := max(r.start, cellStart); i < min(r.end, cellEnd); i++ {
					covered[i-cellStart] = true
				}
			}
		}
		acc.full[c] = true
		for _, cv := range covered {
			if !cv {
				acc.full[c] = false
				break
			}
		}
		if acc.touched[c] {
			acc.touchedN++
		}
		if acc.full[c] {
			acc.fullCount++
		}
	}
	return acc
}
