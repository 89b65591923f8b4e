package aggregate

import "github.com/Anthya1104/ec-aggregate/internal/extentstore"

// Action is one of the six disjoint per-stripe actions of spec §4.4.
type Action int

const (
	ActionDrop Action = iota
	ActionFullEncode
	ActionNoOp
	ActionHoleFill
	ActionFullRecalc
	ActionPartialUpdate
)

func (a Action) String() string {
	switch a {
	case ActionDrop:
		return "drop"
	case ActionFullEncode:
		return "full-encode"
	case ActionNoOp:
		return "no-op"
	case ActionHoleFill:
		return "hole-fill"
	case ActionFullRecalc:
		return "full-recalc"
	case ActionPartialUpdate:
		return "partial-update"
	default:
		return "unknown"
	}
}

// classifyInput bundles everything the classifier needs, so the pure
// decision function (classify) stays easy to test in isolation from
// the driver/store.
type classifyInput struct {
	stripeRecords int64
	stripeFill    int64
	hiEpoch       uint64
	hasHoles      bool
	parity        extentstore.ParityProbe
	cells         cellAccounting
	// anyOlderThanParity is true if some replica in the stripe has an
	// epoch strictly less than the existing parity epoch — branch 5's
	// "has older-than-parity replicas" disjunct.
	anyOlderThanParity bool
	// anyNewerThanParity is true if some replica's epoch is strictly
	// greater than the existing parity epoch.
	anyNewerThanParity bool
}

// classify maps (parity-presence, parity-epoch-vs-data, replica-fill,
// holes) onto one of the six branches of spec §4.4's table, evaluated
// in the table's listed order (each branch's condition is evaluated
// only once prior branches have been ruled out, matching "execute
// exactly one branch").
func classify(in classifyInput) Action {
	if in.parity.Found && in.parity.Epoch >= in.hiEpoch {
		return ActionDrop // branch 1
	}

	if in.stripeFill == in.stripeRecords && (!in.parity.Found || in.anyNewerThanParity) {
		return ActionFullEncode // branch 2
	}

	if !in.parity.Found && in.stripeFill < in.stripeRecords {
		return ActionNoOp // branch 3
	}

	if in.parity.Found && in.anyNewerThanParity && in.hasHoles {
		return ActionHoleFill // branch 4
	}

	half := in.cells.k() / 2 // K/2 per spec §4.4, integer division
	if in.parity.Found && in.anyNewerThanParity && !in.hasHoles {
		if in.cells.fullCount >= half || in.cells.touchedN == in.cells.k() || in.anyOlderThanParity {
			return ActionFullRecalc // branch 5
		}
		return ActionPartialUpdate // branch 6
	}

	// Parity exists with an epoch below hi_epoch (branch 1 returned for
	// parity epoch >= hi_epoch) yet anyNewerThanParity is false. The
	// input processStripe builds never has this combination, since the
	// extent carrying hi_epoch is itself newer than parity; nothing to do.
	return ActionNoOp
}

func (c cellAccounting) k() int { return len(c.touched) }
