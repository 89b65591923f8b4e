package ecclass_test

import (
	"testing"

	"github.com/Anthya1104/ec-aggregate/internal/ecclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNonPositiveParams(t *testing.T) {
	_, err := ecclass.New(0, 1, 4, 8)
	assert.Error(t, err)

	_, err = ecclass.New(2, 1, 4, 8)
	assert.NoError(t, err)
}

func TestStripeArithmetic(t *testing.T) {
	c, err := ecclass.New(2, 1, 4, 8)
	require.NoError(t, err)

	assert.Equal(t, int64(8), c.StripeRecords())
	assert.Equal(t, int64(4), c.CellRecords())
	assert.Equal(t, int64(32), c.CellBytes())

	assert.Equal(t, int64(0), c.StripeOf(0))
	assert.Equal(t, int64(0), c.StripeOf(7))
	assert.Equal(t, int64(1), c.StripeOf(8))

	assert.Equal(t, int64(0), c.StripeStart(0))
	assert.Equal(t, int64(8), c.StripeEnd(0))
	assert.Equal(t, int64(8), c.StripeStart(1))
}

func TestCellOf(t *testing.T) {
	c, err := ecclass.New(4, 2, 4, 8)
	require.NoError(t, err)

	assert.Equal(t, 0, c.CellOf(0))
	assert.Equal(t, 0, c.CellOf(3))
	assert.Equal(t, 1, c.CellOf(4))
	assert.Equal(t, 3, c.CellOf(15))
}

func TestParityRecx(t *testing.T) {
	c, err := ecclass.New(2, 1, 4, 8)
	require.NoError(t, err)

	start, length := c.ParityRecx(0)
	assert.True(t, ecclass.IsParityIndex(start))
	assert.Equal(t, int64(4), length)

	start1, _ := c.ParityRecx(1)
	assert.NotEqual(t, start, start1)
	assert.True(t, ecclass.IsParityIndex(start1))
}

func TestIsParityIndex_DataIndicesNeverCollide(t *testing.T) {
	for _, idx := range []int64{0, 1, 1000, 1 << 40} {
		assert.False(t, ecclass.IsParityIndex(idx), "data index %d must not look like parity", idx)
	}
}

func TestShardIdentity(t *testing.T) {
	c, err := ecclass.New(4, 2, 4, 8)
	require.NoError(t, err)

	assert.False(t, c.ShardIsParity(0))
	assert.False(t, c.ShardIsParity(3))
	assert.True(t, c.ShardIsParity(4))
	assert.True(t, c.ShardIsParity(5))

	pidx, err := c.ParityIndex(4)
	require.NoError(t, err)
	assert.Equal(t, 0, pidx)

	pidx, err = c.ParityIndex(5)
	require.NoError(t, err)
	assert.Equal(t, 1, pidx)

	_, err = c.ParityIndex(0)
	assert.Error(t, err)

	assert.Equal(t, []int{1}, c.PeerParityIndices(0))
	assert.Equal(t, []int{0}, c.PeerParityIndices(1))
}
