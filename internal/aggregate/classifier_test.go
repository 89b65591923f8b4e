package aggregate

import (
	"testing"

	"github.com/Anthya1104/ec-aggregate/internal/extentstore"
	"github.com/stretchr/testify/assert"
)

func found(epoch uint64) extentstore.ParityProbe {
	return extentstore.ParityProbe{Found: true, Epoch: epoch}
}

func notFound() extentstore.ParityProbe {
	return extentstore.ParityProbe{Found: false, Epoch: extentstore.NoParityEpoch}
}

func TestClassify_Branch1_Drop(t *testing.T) {
	in := classifyInput{stripeRecords: 8, stripeFill: 4, hiEpoch: 7, parity: found(10)}
	assert.Equal(t, ActionDrop, classify(in))
}

func TestClassify_Branch2_FullEncode_NoParity(t *testing.T) {
	in := classifyInput{stripeRecords: 8, stripeFill: 8, hiEpoch: 5, parity: notFound()}
	assert.Equal(t, ActionFullEncode, classify(in))
}

func TestClassify_Branch2_FullEncode_AllNewerThanParity(t *testing.T) {
	in := classifyInput{stripeRecords: 8, stripeFill: 8, hiEpoch: 9, parity: found(5), anyNewerThanParity: true}
	assert.Equal(t, ActionFullEncode, classify(in))
}

func TestClassify_Branch3_NoOp_PartialNoParity(t *testing.T) {
	in := classifyInput{stripeRecords: 8, stripeFill: 4, hiEpoch: 5, parity: notFound()}
	assert.Equal(t, ActionNoOp, classify(in))
}

func TestClassify_Branch4_HoleFill(t *testing.T) {
	in := classifyInput{
		stripeRecords: 16, stripeFill: 8, hiEpoch: 7, parity: found(5),
		anyNewerThanParity: true, hasHoles: true,
	}
	assert.Equal(t, ActionHoleFill, classify(in))
}

func TestClassify_Branch5_FullRecalc_ByFullCellCount(t *testing.T) {
	// K=4: half = 4/2 = 2; fullCount=3 >= 2.
	acc := cellAccounting{touched: make([]bool, 4), full: make([]bool, 4), fullCount: 3, touchedN: 3}
	in := classifyInput{
		stripeRecords: 16, stripeFill: 12, hiEpoch: 7, parity: found(5),
		anyNewerThanParity: true, cells: acc,
	}
	assert.Equal(t, ActionFullRecalc, classify(in))
}

func TestClassify_Branch5_FullRecalc_AllCellsTouched(t *testing.T) {
	acc := cellAccounting{touched: make([]bool, 4), full: make([]bool, 4), fullCount: 1, touchedN: 4}
	in := classifyInput{
		stripeRecords: 16, stripeFill: 8, hiEpoch: 7, parity: found(5),
		anyNewerThanParity: true, cells: acc,
	}
	assert.Equal(t, ActionFullRecalc, classify(in))
}

func TestClassify_Branch5_FullRecalc_OlderThanParityForcesRecalc(t *testing.T) {
	acc := cellAccounting{touched: make([]bool, 4), full: make([]bool, 4), fullCount: 0, touchedN: 1}
	in := classifyInput{
		stripeRecords: 16, stripeFill: 4, hiEpoch: 7, parity: found(5),
		anyNewerThanParity: true, anyOlderThanParity: true, cells: acc,
	}
	assert.Equal(t, ActionFullRecalc, classify(in))
}

func TestClassify_Branch6_PartialUpdate(t *testing.T) {
	// K=4: half = 2; fullCount=0 < 2, touchedN=1 != K, no older-than-parity.
	acc := cellAccounting{touched: make([]bool, 4), full: make([]bool, 4), fullCount: 0, touchedN: 1}
	in := classifyInput{
		stripeRecords: 16, stripeFill: 4, hiEpoch: 7, parity: found(5),
		anyNewerThanParity: true, cells: acc,
	}
	assert.Equal(t, ActionPartialUpdate, classify(in))
}

func TestClassify_HalfIsIntegerDivision(t *testing.T) {
	// K=5: half = 5/2 = 2 (floor). fullCount=2 must already qualify for
	// full-recalc per the literal "K/2" wording (not ceiling).
	acc := cellAccounting{touched: make([]bool, 5), full: make([]bool, 5), fullCount: 2, touchedN: 2}
	in := classifyInput{
		stripeRecords: 20, stripeFill: 8, hiEpoch: 7, parity: found(5),
		anyNewerThanParity: true, cells: acc,
	}
	assert.Equal(t, ActionFullRecalc, classify(in))
}
