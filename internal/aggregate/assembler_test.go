package aggregate

import (
	"testing"

	"github.com/Anthya1104/ec-aggregate/internal/ecclass"
	"github.com/Anthya1104/ec-aggregate/internal/extentstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClass(t *testing.T) ecclass.Class {
	t.Helper()
	c, err := ecclass.New(2, 1, 4, 8)
	require.NoError(t, err)
	return c
}

func TestStripeState_AppendTracksFillAndHiEpoch(t *testing.T) {
	class := newTestClass(t)
	st := newStripeState(class)
	st.reset(0)

	st.append(extentstore.DataEntry{Recx: extentstore.Recx{Start: 0, Length: 4}, OrigRecx: extentstore.Recx{Start: 0, Length: 4}, Epoch: 5})
	assert.Equal(t, int64(4), st.stripeFill)
	assert.Equal(t, uint64(5), st.hiEpoch)
	assert.Equal(t, int64(0), st.offset)

	st.append(extentstore.DataEntry{Recx: extentstore.Recx{Start: 4, Length: 4}, OrigRecx: extentstore.Recx{Start: 4, Length: 4}, Epoch: 7})
	assert.Equal(t, int64(8), st.stripeFill)
	assert.Equal(t, uint64(7), st.hiEpoch)
}

func TestStripeState_HoleDoesNotCountTowardFill(t *testing.T) {
	class := newTestClass(t)
	st := newStripeState(class)
	st.reset(0)
	st.append(extentstore.DataEntry{Recx: extentstore.Recx{Start: 0, Length: 4}, Epoch: 5, IsHole: true})
	assert.Equal(t, int64(0), st.stripeFill)
	assert.True(t, st.hasHoles)
}

func TestCrossingExtent_DetectsSingleCarryOver(t *testing.T) {
	class := newTestClass(t)
	st := newStripeState(class)
	st.reset(0)
	// Stripe 0 spans records [0,8). An extent [6,10) crosses into stripe 1.
	st.append(extentstore.DataEntry{Recx: extentstore.Recx{Start: 6, Length: 4}, OrigRecx: extentstore.Recx{Start: 6, Length: 4}, Epoch: 3})

	crossing, err := st.crossingExtent()
	require.NoError(t, err)
	require.NotNil(t, crossing)
	assert.Equal(t, int64(6), crossing.Recx.Start)
	assert.Equal(t, int64(10), crossing.Recx.End())
}

func TestSplitCarryOver_PrefixAndSuffix(t *testing.T) {
	class := newTestClass(t)
	e := extentstore.DataEntry{Recx: extentstore.Recx{Start: 6, Length: 4}, OrigRecx: extentstore.Recx{Start: 6, Length: 4}, Epoch: 3}

	prefix, suffix := splitCarryOver(class, 0, e)
	assert.Equal(t, extentstore.Recx{Start: 6, Length: 2}, prefix.Recx)
	assert.Equal(t, extentstore.Recx{Start: 8, Length: 2}, suffix.Recx)
	assert.Equal(t, e.Epoch, suffix.Epoch)
	assert.Equal(t, e.OrigRecx, suffix.OrigRecx)
}

func TestComputeCellAccounting_TouchedAndFull(t *testing.T) {
	class := newTestClass(t) // K=2, L=4: cell 0 = [0,4), cell 1 = [4,8)
	extents := []extentstore.DataEntry{
		{Recx: extentstore.Recx{Start: 0, Length: 4}, Epoch: 5},    // fully covers cell 0
		{Recx: extentstore.Recx{Start: 4, Length: 2}, Epoch: 5},    // partially covers cell 1
	}
	acc := computeCellAccounting(class, 0, extents)
	assert.True(t, acc.touched[0])
	assert.True(t, acc.full[0])
	assert.True(t, acc.touched[1])
	assert.False(t, acc.full[1])
	assert.Equal(t, 1, acc.fullCount)
	assert.Equal(t, 2, acc.touchedN)
}

func TestComputeCellAccounting_HolesDoNotCount(t *testing.T) {
	class := newTestClass(t)
	extents := []extentstore.DataEntry{
		{Recx: extentstore.Recx{Start: 0, Length: 4}, Epoch: 5, IsHole: true},
	}
	acc := computeCellAccounting(class, 0, extents)
	assert.False(t, acc.touched[0])
	assert.False(t, acc.full[0])
}
