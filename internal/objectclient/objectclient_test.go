package objectclient_test

import (
	"context"
	"testing"

	"github.com/Anthya1104/ec-aggregate/internal/ecclass"
	"github.com/Anthya1104/ec-aggregate/internal/extentstore"
	"github.com/Anthya1104/ec-aggregate/internal/objectclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClient_FetchDelegatesToShardStore(t *testing.T) {
	ctx := context.Background()
	class, err := ecclass.New(4, 2, 4, 8)
	require.NoError(t, err)

	shard0 := extentstore.NewMemStore()
	shard0.RegisterObject(1, class)
	require.NoError(t, shard0.WriteReplica(1, "dk", "ak", extentstore.Recx{Start: 0, Length: 4}, extentstore.Recx{Start: 0, Length: 4}, 7, make([]byte, 32), false))

	client := objectclient.NewFakeClient(map[int]extentstore.Store{0: shard0}, []objectclient.ShardLocation{{Rank: 0, TargetIndex: 0}})

	h, err := client.Open(ctx, 1)
	require.NoError(t, err)

	locs, err := client.Layout(ctx, h)
	require.NoError(t, err)
	assert.Len(t, locs, 1)

	out, err := client.Fetch(ctx, h, 0, 7, "dk", "ak", extentstore.Recx{Start: 0, Length: 4})
	require.NoError(t, err)
	assert.Len(t, out, 32)
}

func TestFakeClient_FetchUnknownShard(t *testing.T) {
	ctx := context.Background()
	client := objectclient.NewFakeClient(map[int]extentstore.Store{}, nil)
	h, err := client.Open(ctx, 1)
	require.NoError(t, err)
	_, err = client.Fetch(ctx, h, 3, 1, "dk", "ak", extentstore.Recx{Start: 0, Length: 4})
	assert.Error(t, err)
}
