package rpcpeer_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/Anthya1104/ec-aggregate/internal/ecclass"
	"github.com/Anthya1104/ec-aggregate/internal/extentstore"
	"github.com/Anthya1104/ec-aggregate/internal/rpcpeer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClass(t *testing.T) ecclass.Class {
	t.Helper()
	c, err := ecclass.New(2, 1, 4, 8)
	require.NoError(t, err)
	return c
}

func TestLoopbackTransport_AggregateWritesParityAndRemoves(t *testing.T) {
	ctx := context.Background()
	class := newClass(t)
	peerStore := extentstore.NewMemStore()
	peerStore.RegisterObject(1, class)
	require.NoError(t, peerStore.WriteReplica(1, "dk", "ak", extentstore.Recx{Start: 0, Length: 4}, extentstore.Recx{Start: 0, Length: 4}, 5, make([]byte, 32), false))

	peer := rpcpeer.PeerAddr{Rank: 0, TargetIndex: 1}
	transport := rpcpeer.NewLoopbackTransport(map[rpcpeer.PeerAddr]*rpcpeer.PeerServer{
		peer: rpcpeer.NewPeerServer(peerStore),
	})

	start, length := class.ParityRecx(0)
	parity := make([]byte, 32)
	for i := range parity {
		parity[i] = byte(i)
	}

	err := transport.Aggregate(ctx, peer, rpcpeer.AggregateRequest{
		Oid: 1, Dkey: "dk", Akey: "ak", EpochHi: 5, Stripe: 0,
		WriteParity: true,
		ParityRecx:  extentstore.Recx{Start: start, Length: length},
		ParityData:  parity,
		Remove:      []rpcpeer.RemoveItem{{OrigRecx: extentstore.Recx{Start: 0, Length: 4}, Epoch: 5}},
	})
	require.NoError(t, err)

	got, ok := peerStore.ParityBytes(1, "dk", "ak", 0)
	require.True(t, ok)
	assert.Equal(t, parity, got)
	assert.Empty(t, peerStore.DataExtents(1, "dk", "ak"))
}

func TestLoopbackTransport_AggregateRemovalOnly(t *testing.T) {
	ctx := context.Background()
	class := newClass(t)
	peerStore := extentstore.NewMemStore()
	peerStore.RegisterObject(1, class)
	require.NoError(t, peerStore.WriteReplica(1, "dk", "ak", extentstore.Recx{Start: 0, Length: 4}, extentstore.Recx{Start: 0, Length: 4}, 3, make([]byte, 32), false))

	peer := rpcpeer.PeerAddr{Rank: 0, TargetIndex: 1}
	transport := rpcpeer.NewLoopbackTransport(map[rpcpeer.PeerAddr]*rpcpeer.PeerServer{
		peer: rpcpeer.NewPeerServer(peerStore),
	})

	err := transport.Aggregate(ctx, peer, rpcpeer.AggregateRequest{
		Oid: 1, Dkey: "dk", Akey: "ak", Stripe: 0,
		WriteParity: false,
		Remove:      []rpcpeer.RemoveItem{{OrigRecx: extentstore.Recx{Start: 0, Length: 4}, Epoch: 3}},
	})
	require.NoError(t, err)
	assert.Empty(t, peerStore.DataExtents(1, "dk", "ak"))
}

func TestLoopbackTransport_UnknownPeer(t *testing.T) {
	transport := rpcpeer.NewLoopbackTransport(map[rpcpeer.PeerAddr]*rpcpeer.PeerServer{})
	err := transport.Aggregate(context.Background(), rpcpeer.PeerAddr{Rank: 9}, rpcpeer.AggregateRequest{})
	assert.Error(t, err)
}

func TestHTTPTransport_RoundTripsAggregate(t *testing.T) {
	ctx := context.Background()
	class := newClass(t)
	peerStore := extentstore.NewMemStore()
	peerStore.RegisterObject(1, class)

	handler := rpcpeer.NewHTTPHandler(rpcpeer.NewPeerServer(peerStore))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	peer := rpcpeer.PeerAddr{Rank: 0, TargetIndex: 1}
	transport := rpcpeer.NewHTTPTransport(map[rpcpeer.PeerAddr]string{peer: srv.URL})

	start, length := class.ParityRecx(0)
	err := transport.Aggregate(ctx, peer, rpcpeer.AggregateRequest{
		Oid: 1, Dkey: "dk", Akey: "ak", EpochHi: 5, Stripe: 0,
		WriteParity: true,
		ParityRecx:  extentstore.Recx{Start: start, Length: length},
		ParityData:  make([]byte, 32),
	})
	require.NoError(t, err)

	_, ok := peerStore.ParityBytes(1, "dk", "ak", 0)
	assert.True(t, ok)
}

func TestHTTPTransport_UnknownPeerAddress(t *testing.T) {
	transport := rpcpeer.NewHTTPTransport(map[rpcpeer.PeerAddr]string{})
	err := transport.Aggregate(context.Background(), rpcpeer.PeerAddr{Rank: 3}, rpcpeer.AggregateRequest{})
	assert.Error(t, err)
}
