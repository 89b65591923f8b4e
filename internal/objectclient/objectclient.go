// Package objectclient models the "object-client API consumed" of
// spec §6: cross-shard data pulls used by the full-recalc (branch 5)
// and hole-fill (branch 4) actions to fetch cell data from data
// shards that this parity shard does not itself hold.
//
// The real object client talks to other storage targets over the
// cluster's transport; that transport is out of scope per spec §1.
// This package defines the interface the engine consumes
// (Client) and an in-memory fake (FakeClient) backed by a set of
// per-shard extentstore.Store instances, for tests and the CLI demo.
package objectclient

import (
	"context"
	"fmt"

	"github.com/Anthya1104/ec-aggregate/internal/extentstore"
)

// ShardLocation names the rank/target hosting one shard of an object,
// as learned once from the object layout (spec §4.6).
type ShardLocation struct {
	Rank        int
	TargetIndex int
}

// Handle is an opaque open-object handle.
type Handle interface{}

// Client is the cross-shard fetch surface the engine consumes.
type Client interface {
	Open(ctx context.Context, oid extentstore.OID) (Handle, error)
	Layout(ctx context.Context, h Handle) ([]ShardLocation, error)
	// Fetch reads recx as visible at epoch from the given data shard.
	Fetch(ctx context.Context, h Handle, shard int, epoch uint64, dkey, akey string, recx extentstore.Recx) ([]byte, error)
}

// FakeClient answers Fetch from a fixed set of per-shard stores,
// indexed by shard number, standing in for the real RPC-backed object
// client.
type FakeClient struct {
	Shards    map[int]extentstore.Store
	Locations []ShardLocation
}

// NewFakeClient returns a client backed by the given shard->store map.
func NewFakeClient(shards map[int]extentstore.Store, locations []ShardLocation) *FakeClient {
	return &FakeClient{Shards: shards, Locations: locations}
}

type fakeHandle struct{ oid extentstore.OID }

func (c *FakeClient) Open(ctx context.Context, oid extentstore.OID) (Handle, error) {
	return fakeHandle{oid: oid}, nil
}

func (c *FakeClient) Layout(ctx context.Context, h Handle) ([]ShardLocation, error) {
	return c.Locations, nil
}

func (c *FakeClient) Fetch(ctx context.Context, h Handle, shard int, epoch uint64, dkey, akey string, recx extentstore.Recx) ([]byte, error) {
	hh, ok := h.(fakeHandle)
	if !ok {
		return nil, fmt.Errorf("objectclient: invalid handle")
	}
	store, ok := c.Shards[shard]
	if !ok {
		return nil, fmt.Errorf("objectclient: no store registered for shard %d", shard)
	}
	return store.Fetch(ctx, hh.oid, epoch, dkey, akey, recx)
}
