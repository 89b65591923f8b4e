package extentstore_test

import (
	"context"
	"testing"

	"github.com/Anthya1104/ec-aggregate/internal/ecclass"
	"github.com/Anthya1104/ec-aggregate/internal/extentstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClass(t *testing.T, k, p, l, recSize int) ecclass.Class {
	t.Helper()
	c, err := ecclass.New(k, p, l, recSize)
	require.NoError(t, err)
	return c
}

func TestMemStore_WriteFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	ms := extentstore.NewMemStore()
	class := newClass(t, 2, 1, 4, 8)
	ms.RegisterObject(1, class)

	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, ms.WriteReplica(1, "dk", "ak", extentstore.Recx{Start: 0, Length: 4}, extentstore.Recx{Start: 0, Length: 4}, 5, data[:32], false))

	out, err := ms.Fetch(ctx, 1, 5, "dk", "ak", extentstore.Recx{Start: 0, Length: 4})
	require.NoError(t, err)
	assert.Equal(t, data[:32], out)
}

func TestMemStore_ProbeParity_AbsentIsSentinel(t *testing.T) {
	ctx := context.Background()
	ms := extentstore.NewMemStore()
	ms.RegisterObject(1, newClass(t, 2, 1, 4, 8))

	p, err := ms.ProbeParity(ctx, 1, "dk", "ak", 0)
	require.NoError(t, err)
	assert.False(t, p.Found)
	assert.Equal(t, extentstore.NoParityEpoch, p.Epoch)
}

func TestMemStore_UpdateAndRangeRemoveParity(t *testing.T) {
	ctx := context.Background()
	ms := extentstore.NewMemStore()
	class := newClass(t, 2, 1, 4, 8)
	ms.RegisterObject(1, class)

	start, length := class.ParityRecx(0)
	payload := make([]byte, 32)
	require.NoError(t, ms.Update(ctx, 1, 5, "dk", "ak", extentstore.Recx{Start: start, Length: length}, payload))

	p, err := ms.ProbeParity(ctx, 1, "dk", "ak", 0)
	require.NoError(t, err)
	assert.True(t, p.Found)
	assert.Equal(t, uint64(5), p.Epoch)

	require.NoError(t, ms.RangeRemove(ctx, 1, extentstore.EpochRange{Lo: 0, Hi: 10}, "dk", "ak", extentstore.Recx{Start: start, Length: length}))
	p, err = ms.ProbeParity(ctx, 1, "dk", "ak", 0)
	require.NoError(t, err)
	assert.False(t, p.Found)
}

func TestMemStore_RangeRemove_IdempotentOverEmptyRange(t *testing.T) {
	ctx := context.Background()
	ms := extentstore.NewMemStore()
	ms.RegisterObject(1, newClass(t, 2, 1, 4, 8))

	err := ms.RangeRemove(ctx, 1, extentstore.EpochRange{Lo: 0, Hi: 10}, "dk", "ak", extentstore.Recx{Start: 0, Length: 8})
	assert.NoError(t, err)
}

func TestMemStore_Iterate_SkipPrunesSubtree(t *testing.T) {
	ctx := context.Background()
	ms := extentstore.NewMemStore()
	class := newClass(t, 2, 1, 4, 8)
	ms.RegisterObject(1, class)
	require.NoError(t, ms.WriteReplica(1, "dk", "ak", extentstore.Recx{Start: 0, Length: 4}, extentstore.Recx{Start: 0, Length: 4}, 5, make([]byte, 32), false))

	var sawRecx bool
	err := ms.Iterate(ctx, extentstore.IterateParams{Epoch: extentstore.EpochRange{Lo: 0, Hi: 100}}, func(ctx context.Context, e extentstore.Entry) (bool, error) {
		if e.Kind == extentstore.EntryDkey {
			return true, nil // skip everything under this dkey
		}
		if e.Kind == extentstore.EntryRecx {
			sawRecx = true
		}
		return false, nil
	}, nil)
	require.NoError(t, err)
	assert.False(t, sawRecx)
}

func TestMemStore_Iterate_AbortStopsCleanly(t *testing.T) {
	ctx := context.Background()
	ms := extentstore.NewMemStore()
	ms.RegisterObject(1, newClass(t, 2, 1, 4, 8))
	ms.RegisterObject(2, newClass(t, 2, 1, 4, 8))

	var visited int
	err := ms.Iterate(ctx, extentstore.IterateParams{Epoch: extentstore.EpochRange{Lo: 0, Hi: 100}}, func(ctx context.Context, e extentstore.Entry) (bool, error) {
		if e.Kind == extentstore.EntryObject {
			visited++
			return false, extentstore.ErrAbort
		}
		return false, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, visited)
}
