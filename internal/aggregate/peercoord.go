package aggregate

import (
	"context"
	"fmt"

	"github.com/Anthya1104/ec-aggregate/internal/extentstore"
	"github.com/Anthya1104/ec-aggregate/internal/rpcpeer"
	"golang.org/x/sync/errgroup"
)

// peerShipment is everything one EC_AGGREGATE call to a peer parity
// shard needs: whether to write parity at all (false for the
// removal-only call spec §9 keeps distinct from overloading the
// parity-write RPC), each peer's own parity cell keyed by parity
// index (a peer never receives another peer's cell), and the removal
// list, which is identical across peers since it describes the shared
// replica data, not per-shard parity.
type peerShipment struct {
	writeParity bool
	incremental bool
	parityRecx  extentstore.Recx
	parityByIdx map[int][]byte
	remove      []rpcPeerRemoveItem
}

// peersHealthy reports whether every peer parity target this driver
// knows about is currently up, per the pool map. Every action that
// will eventually fan out to peers calls this before touching its own
// local store, so a failed peer aborts the whole stripe without a
// partial local commit (spec §9's split-parity-set disallowance) —
// fanOutAggregate/fanOutReplicate repeat the same check just before
// the RPCs themselves, since pool-map membership can change between
// the preflight check and the send.
func (d *Driver) peersHealthy() error {
	pm := d.Membership.PoolMap()
	for pidx, peer := range d.PeerLocations {
		if pm.IsFailed(peer.TargetIndex) {
			return fmt.Errorf("aggregate: peer parity target %d (index %d) is failed", peer.TargetIndex, pidx)
		}
	}
	return nil
}

// fanOutAggregate ships one EC_AGGREGATE call per peer parity shard
// concurrently (spec §4.6), first checking the pool map's failed-target
// list. If any required peer is marked failed, the stripe is aborted
// without sending to anyone. Callers make their local commit before
// calling this; the check that keeps a known-failed peer from seeing a
// partial local commit is the earlier peersHealthy call.
func (d *Driver) fanOutAggregate(ctx context.Context, oid extentstore.OID, dkey, akey string, epochLo, epochHi uint64, stripe int64, ship peerShipment) error {
	pm := d.Membership.PoolMap()
	for pidx, peer := range d.PeerLocations {
		if pm.IsFailed(peer.TargetIndex) {
			return fmt.Errorf("aggregate: peer parity target %d (index %d) is failed, aborting stripe %d", peer.TargetIndex, pidx, stripe)
		}
	}

	removeItems := make([]rpcpeer.RemoveItem, 0, len(ship.remove))
	for _, it := range ship.remove {
		removeItems = append(removeItems, rpcpeer.RemoveItem{OrigRecx: it.OrigRecx, Epoch: it.Epoch})
	}

	g, gctx := errgroup.WithContext(ctx)
	for pidx, peer := range d.PeerLocations {
		pidx, peer := pidx, peer
		g.Go(func() error {
			req := rpcpeer.AggregateRequest{
				Pool: d.Pool, Cont: d.Cont, Oid: oid, Dkey: dkey, Akey: akey,
				EpochLo: epochLo, EpochHi: epochHi, Stripe: stripe, MapVersion: d.MapVersion,
				WriteParity: ship.writeParity,
				Incremental: ship.incremental,
				ParityRecx:  ship.parityRecx,
				ParityData:  ship.parityByIdx[pidx],
				Remove:      removeItems,
			}
			if err := d.Transport.Aggregate(gctx, peer, req); err != nil {
				return fmt.Errorf("aggregate: EC_AGGREGATE to peer %s failed: %w", peer, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

// fanOutIncrementalAggregate ships each peer's own coef*diff
// contribution for a partial-update (spec §4.4 branch 6), rather than
// a complete parity cell — see rpcpeer.AggregateRequest.Incremental.
func (d *Driver) fanOutIncrementalAggregate(ctx context.Context, oid extentstore.OID, dkey, akey string, hiEpoch uint64, stripe int64, parityRecx extentstore.Recx, contribByIdx map[int][]byte, remove []rpcPeerRemoveItem) error {
	return d.fanOutAggregate(ctx, oid, dkey, akey, 0, hiEpoch, stripe, peerShipment{
		writeParity: true,
		incremental: true,
		parityRecx:  parityRecx,
		parityByIdx: contribByIdx,
		remove:      remove,
	})
}

// fanOutReplicate ships one EC_REPLICATE call per peer parity shard
// for a single re-replicated range, used by the hole-fill branch (spec
// §4.6). As in fanOutAggregate, the first peer failure cancels the
// context shared by the other in-flight calls and is returned; doHoleFill
// then fails the whole stripe.
func (d *Driver) fanOutReplicate(ctx context.Context, oid extentstore.OID, dkey, akey string, stripe int64, epoch uint64, recx extentstore.Recx, data []byte) error {
	pm := d.Membership.PoolMap()
	for pidx, peer := range d.PeerLocations {
		if pm.IsFailed(peer.TargetIndex) {
			return fmt.Errorf("aggregate: peer parity target %d (index %d) is failed, aborting replicate for stripe %d", peer.TargetIndex, pidx, stripe)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range d.PeerLocations {
		peer := peer
		g.Go(func() error {
			req := rpcpeer.ReplicateRequest{
				Pool: d.Pool, Cont: d.Cont, Oid: oid, Dkey: dkey, Akey: akey,
				Stripe: stripe, Epoch: epoch, MapVersion: d.MapVersion, Recx: recx, Data: data,
			}
			if err := d.Transport.Replicate(gctx, peer, req); err != nil {
				return fmt.Errorf("aggregate: EC_REPLICATE to peer %s failed: %w", peer, err)
			}
			return nil
		})
	}
	return g.Wait()
}
