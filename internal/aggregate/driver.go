package aggregate

import (
	"context"
	"fmt"

	"github.com/Anthya1104/ec-aggregate/internal/codec"
	"github.com/Anthya1104/ec-aggregate/internal/ecclass"
	"github.com/Anthya1104/ec-aggregate/internal/extentstore"
	"github.com/Anthya1104/ec-aggregate/internal/membership"
	"github.com/Anthya1104/ec-aggregate/internal/objectclient"
	"github.com/Anthya1104/ec-aggregate/internal/rpcpeer"
	"github.com/sirupsen/logrus"
)

// Config carries the configuration knobs spec §6 enumerates.
type Config struct {
	// CreditsMax is the number of iteration calls between cooperative
	// yields. Default 256.
	CreditsMax int
	// IsCurrent, when true, advances the container's "last aggregated
	// epoch" watermark to Hi on a fully successful run. The Store keeps
	// the watermark per object; every object the run led is advanced.
	IsCurrent bool
	// ChecksumsEnabled is carried as a configuration knob only: the
	// driver does not verify fetched data, compute checksums for the
	// parity it stores, or attach checksums to re-replicated ranges,
	// whatever its value.
	ChecksumsEnabled bool
}

// DefaultConfig returns the spec-default configuration.
func DefaultConfig() Config {
	return Config{CreditsMax: 256}
}

// YieldFunc is the cooperative-yield callback of spec §4.1: it may
// return true to request a soft abort.
type YieldFunc func() (abort bool)

// Driver is the iteration driver (spec §4.1) plus everything it
// orchestrates: stripe assembler, parity probe, classifier, codec,
// peer coordinator, and local committer. One Driver aggregates one
// container on one storage target.
type Driver struct {
	Pool       string
	Cont       string
	ShardIndex int // this target's shard index within [0, K+P)
	Rank       int // this target's RPC rank
	MapVersion uint64

	Store        extentstore.Store
	ObjectClient objectclient.Client
	Transport    rpcpeer.Transport
	Membership   *membership.Table
	Config       Config

	// PeerLocations maps a parity index (0..P) to the peer's RPC
	// address, learned once from the object layout (spec §4.6).
	PeerLocations map[int]rpcpeer.PeerAddr
	// DataShardIndex maps a data cell index (0..K) to the object-client
	// "shard" number used to fetch that cell from its owning data
	// shard (spec §4.6's cross-shard pull for full-recalc/hole-fill).
	DataShardIndex map[int]int

	Log *logrus.Entry
}

// NewDriver wires together the collaborators; Log is set to an entry
// on the standard logger tagged component=aggregate.
func NewDriver(pool, cont string, shardIndex, rank int, mapVersion uint64, store extentstore.Store, oc objectclient.Client, transport rpcpeer.Transport, mship *membership.Table, cfg Config) *Driver {
	if cfg.CreditsMax <= 0 {
		cfg.CreditsMax = 256
	}
	return &Driver{
		Pool: pool, Cont: cont, ShardIndex: shardIndex, Rank: rank, MapVersion: mapVersion,
		Store: store, ObjectClient: oc, Transport: transport, Membership: mship, Config: cfg,
		PeerLocations:  make(map[int]rpcpeer.PeerAddr),
		DataShardIndex: make(map[int]int),
		Log:            logrus.WithField("component", "aggregate"),
	}
}

// ErrNeedsRefresh signals a concurrency-control retry per spec §7:
// the distributed-transaction layer reported the traversal needs to
// restart from the last safe anchor. Driver.Aggregate does not itself
// implement the refresh-and-restart loop (that belongs to the caller,
// which owns the transaction handle, an external collaborator per
// spec §1); it returns this sentinel so the caller can retry.
var ErrNeedsRefresh = fmt.Errorf("aggregate: needs refresh")

type akeyTracker struct {
	oid      extentstore.OID
	dkey     string
	akey     string
	class    ecclass.Class
	codec    *codec.Codec
	state    *stripeState
	holdOver []extentstore.DataEntry
	anyFail  bool
}

// Aggregate implements the iteration driver's single exposed
// operation (spec §4.1): walk the container in (object, dkey, akey,
// recx) order over epoch range er, classify and act on every stripe,
// and — when IsCurrent — advance the watermark on full success.
func (d *Driver) Aggregate(ctx context.Context, er extentstore.EpochRange, yield YieldFunc) error {
	credits := 0
	aborted := false
	anyStripeFailed := false
	var ledOids []extentstore.OID

	var cur *akeyTracker

	flushAkey := func() {
		if cur == nil {
			return
		}
		if err := d.flushAkeyTracker(ctx, cur, er); err != nil {
			d.Log.WithError(err).Warnf("aggregate: akey flush failed for %d/%s/%s", cur.oid, cur.dkey, cur.akey)
			anyStripeFailed = true
		}
		if cur.anyFail {
			anyStripeFailed = true
		}
		cur = nil
	}

	pre := func(ctx context.Context, e extentstore.Entry) (bool, error) {
		switch e.Kind {
		case extentstore.EntryObject:
			if !d.Store.IsECObject(ctx, e.Oid) {
				return true, nil
			}
			class, err := d.Store.OClassAttrs(ctx, e.Oid)
			if err != nil {
				return true, nil
			}
			if !class.ShardIsParity(d.ShardIndex) {
				return true, nil // data shards never run this engine
			}
			if !d.Membership.IsLeader(uint64(e.Oid), d.MapVersion, d.ShardIndex) {
				return true, nil
			}
			ledOids = append(ledOids, e.Oid)
			return false, nil

		case extentstore.EntryDkey:
			return false, nil

		case extentstore.EntryAkey:
			flushAkey()
			class, err := d.Store.OClassAttrs(ctx, e.Oid)
			if err != nil {
				return true, nil
			}
			cd, err := codec.New(class.K, class.P)
			if err != nil {
				return true, fmt.Errorf("aggregate: failed to build codec for %d/%s/%s: %w", e.Oid, e.Dkey, e.Akey, err)
			}
			cur = &akeyTracker{oid: e.Oid, dkey: e.Dkey, akey: e.Akey, class: class, codec: cd, state: newStripeState(class)}
			return false, nil

		case extentstore.EntryRecx:
			credits++
			if credits >= d.Config.CreditsMax {
				credits = 0
				if yield != nil && yield() {
					aborted = true
					return false, extentstore.ErrAbort
				}
			}
			if err := d.ingest(ctx, cur, e.Data, er); err != nil {
				d.Log.WithError(err).Warnf("aggregate: stripe processing failed for %d/%s/%s", e.Oid, e.Dkey, e.Akey)
				cur.anyFail = true
			}
			return false, nil
		}
		return false, nil
	}

	post := func(ctx context.Context, e extentstore.Entry) error {
		if e.Kind == extentstore.EntryAkey {
			flushAkey()
		}
		return nil
	}

	if err := d.Store.Iterate(ctx, extentstore.IterateParams{Epoch: er, VisibleOnly: true}, pre, post); err != nil {
		return fmt.Errorf("aggregate: traversal failed: %w", err)
	}
	flushAkey()

	if aborted {
		return nil // soft abort, not an error (spec §4.1, §5)
	}
	if anyStripeFailed {
		return nil // per-stripe failures logged; watermark withheld below
	}
	if d.Config.IsCurrent {
		for _, oid := range ledOids {
			d.Store.AdvanceWatermark(oid, er.Hi)
		}
	}
	return nil
}

// ingest feeds one recx entry into the current akey's stripe
// assembler, processing stripe boundaries as spec §4.2 describes.
func (d *Driver) ingest(ctx context.Context, t *akeyTracker, de extentstore.DataEntry, er extentstore.EpochRange) error {
	if d.Config.ChecksumsEnabled {
		// TODO: verify de's checksum descriptor once a checksum
		// collaborator exists; see DESIGN.md's Open Question 3.
	}

	thisStripe := t.class.StripeOf(de.Recx.Start)

	for t.state.started && thisStripe != t.state.curStripe && t.state.nonEmpty() {
		carry, err := d.processStripe(ctx, t, er)
		if err != nil {
			t.anyFail = true
			t.state.reset(thisStripe)
			break
		}
		if carry == nil {
			if thisStripe == t.state.curStripe+1 || thisStripe == t.state.curStripe {
				t.state.reset(thisStripe)
			} else {
				// A gap: stripes between curStripe+1 and thisStripe had
				// nothing to process. Nothing to do for them.
				t.state.reset(thisStripe)
			}
			break
		}
		t.state.reset(t.state.curStripe + 1)
		t.state.append(*carry)
		if thisStripe == t.state.curStripe {
			break
		}
		// else: loop again, processing the held-over stripe too.
	}

	if !t.state.started {
		t.state.reset(thisStripe)
	}
	t.state.append(de)
	return nil
}

// flushAkeyTracker processes whatever stripe remains assembled at
// akey end, then each following stripe seeded by a carry-over split,
// until a stripe ends without a crossing extent.
func (d *Driver) flushAkeyTracker(ctx context.Context, t *akeyTracker, er extentstore.EpochRange) error {
	// Each extra round handles the suffix of the one extent that crossed
	// the previous stripe's end; the suffix is one stripe shorter every
	// round, so an extent spanning n stripes takes n rounds.
	for t.state.nonEmpty() {
		carry, err := d.processStripe(ctx, t, er)
		if err != nil {
			t.anyFail = true
			return err
		}
		if carry == nil {
			break
		}
		t.state.reset(t.state.curStripe + 1)
		t.state.append(*carry)
	}
	return nil
}
