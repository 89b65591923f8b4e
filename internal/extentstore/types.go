// Package extentstore models the "external-store API consumed" of
// spec §6: a versioned, log-structured record store keyed by
// (object, dkey, akey, recx) that the aggregation engine iterates,
// fetches from, updates, and range-removes against.
//
// The real store (a distributed, persistent KV/extent engine) is
// explicitly out of scope per spec §1 — it is described only by the
// interface the core consumes. This package defines that interface
// (Store) plus an in-memory implementation (MemStore) that the CLI
// and tests drive the engine against, the same role
// raid-simulator's Disk/RAID*Controller play for a real disk array.
package extentstore

import (
	"context"
	"fmt"

	"github.com/Anthya1104/ec-aggregate/internal/ecclass"
)

// OID identifies an object.
type OID uint64

// Recx is a (start, length) record range within one (object, dkey, akey).
type Recx struct {
	Start  int64
	Length int64
}

// End returns the first index past the extent (exclusive).
func (r Recx) End() int64 { return r.Start + r.Length }

// Contains reports whether r fully contains other.
func (r Recx) Contains(other Recx) bool {
	return other.Start >= r.Start && other.End() <= r.End()
}

// Overlaps reports whether r and other share any record.
func (r Recx) Overlaps(other Recx) bool {
	return r.Start < other.End() && other.Start < r.End()
}

func (r Recx) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End()) }

// EpochRange is an inclusive [Lo, Hi] epoch window.
type EpochRange struct {
	Lo uint64
	Hi uint64
}

func (e EpochRange) Contains(epoch uint64) bool { return epoch >= e.Lo && epoch <= e.Hi }

// DataEntry is one replica extent as handed to the stripe assembler:
// its current (possibly trimmed) recx, its original on-disk recx
// (used to decide whether a removal is safe), the write epoch, and
// whether it represents a hole (a write whose bytes were never
// actually persisted — e.g. a punched range).
type DataEntry struct {
	Recx     Recx
	OrigRecx Recx
	Epoch    uint64
	IsHole   bool
	Data     []byte // nil for holes
}

// ParityProbe is the result of querying the parity-reserved index
// range for one stripe: either an existing parity extent's epoch, or
// the "no parity" sentinel (Found == false).
type ParityProbe struct {
	Recx  Recx
	Epoch uint64
	Found bool
}

// NoParityEpoch is the sentinel epoch spec §4.3 describes as "~0" —
// any real epoch compares less than it.
const NoParityEpoch = ^uint64(0)

// EntryKind distinguishes the four levels of the iteration driver's
// (object, dkey, akey, recx) traversal (spec §4.1).
type EntryKind int

const (
	EntryObject EntryKind = iota
	EntryDkey
	EntryAkey
	EntryRecx
)

func (k EntryKind) String() string {
	switch k {
	case EntryObject:
		return "object"
	case EntryDkey:
		return "dkey"
	case EntryAkey:
		return "akey"
	case EntryRecx:
		return "recx"
	default:
		return "unknown"
	}
}

// Entry is one callback invocation of Store.Iterate.
type Entry struct {
	Kind  EntryKind
	Oid   OID
	Dkey  string
	Akey  string
	Class ecclass.Class // valid when Kind == EntryObject
	Data  DataEntry     // valid when Kind == EntryRecx
}

// IterateParams carries the epoch window and traversal flags spec §6
// attributes to the real iterate() call's `param`.
type IterateParams struct {
	Epoch       EpochRange
	VisibleOnly bool
}

// PreCallback runs before descending into an entry's children (or,
// for a recx entry, in place of any children). Returning skip==true
// prunes the subtree, mirroring the object/dkey/akey SKIP behavior of
// spec §4.1. Returning ErrAbort requests a soft, non-error unwind.
type PreCallback func(ctx context.Context, e Entry) (skip bool, err error)

// PostCallback runs after an object/dkey/akey's children have all
// been visited (akey-end flush, dkey-end, object-end bookkeeping).
type PostCallback func(ctx context.Context, e Entry) error

// ErrAbort is returned by a callback to request the traversal stop
// cleanly without treating the stop as an error.
var ErrAbort = fmt.Errorf("extentstore: iteration aborted")

// Store is the extent-store surface the aggregation engine consumes.
type Store interface {
	// Iterate walks objects -> dkeys -> akeys -> recxs in that order,
	// invoking pre before descending and post after a subtree
	// completes. Iteration stops early, without error, if a callback
	// returns ErrAbort.
	Iterate(ctx context.Context, p IterateParams, pre PreCallback, post PostCallback) error

	// Fetch reads the record range described by recx as visible at
	// epoch, assembling it from whatever replica/parity extents cover
	// it.
	Fetch(ctx context.Context, oid OID, epoch uint64, dkey, akey string, recx Recx) ([]byte, error)

	// Update writes data (len(data) must equal recx.Length * RecordSize)
	// at the given epoch. Used both for parity writes and, in the
	// hole-fill branch, for re-replicating valid ranges.
	Update(ctx context.Context, oid OID, epoch uint64, dkey, akey string, recx Recx, data []byte) error

	// RangeRemove removes extents of akey overlapping recx whose
	// epoch lies within er. Idempotent over already-empty ranges.
	RangeRemove(ctx context.Context, oid OID, er EpochRange, dkey, akey string, recx Recx) error

	// ProbeParity queries the parity-reserved address range for
	// stripe s and returns its (epoch, found) state (spec §4.3).
	ProbeParity(ctx context.Context, oid OID, dkey, akey string, s int64) (ParityProbe, error)

	// OClassAttrs returns the object's EC class parameters.
	OClassAttrs(ctx context.Context, oid OID) (ecclass.Class, error)

	// IsECObject reports whether oid belongs to an EC object class at
	// all; non-EC objects are skipped entirely by the driver.
	IsECObject(ctx context.Context, oid OID) bool

	// AdvanceWatermark records hi as the last-aggregated epoch for oid,
	// called only after a fully successful current-mode run (spec §4.1).
	AdvanceWatermark(oid OID, hi uint64)
}
