package extentstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Anthya1104/ec-aggregate/internal/ecclass"
	"github.com/sirupsen/logrus"
)

type akeyState struct {
	data   []DataEntry
	parity map[int64]ParityProbe // keyed by stripe number; Data held out-of-band in parityData
}

type objectState struct {
	class      ecclass.Class
	isEC       bool
	dkeys      map[string]map[string]*akeyState
	watermark  uint64
	hasWatermk bool
}

// MemStore is an in-memory, single-shard extent store used by the CLI
// and tests to stand in for the real versioned KV/extent engine spec
// §1 treats as an external collaborator. It plays the role
// raid-simulator's Disk slice plays for a RAID array: a fake
// substrate with just enough behavior to exercise the real logic atop
// it.
type MemStore struct {
	mu         sync.RWMutex
	objects    map[OID]*objectState
	parityData map[OID]map[string]map[string]map[int64][]byte // oid -> dkey -> akey -> stripe -> bytes
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		objects:    make(map[OID]*objectState),
		parityData: make(map[OID]map[string]map[string]map[int64][]byte),
	}
}

// RegisterObject declares oid as an EC object of the given class.
func (m *MemStore) RegisterObject(oid OID, class ecclass.Class) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[oid] = &objectState{
		class: class,
		isEC:  true,
		dkeys: make(map[string]map[string]*akeyState),
	}
	m.parityData[oid] = make(map[string]map[string]map[int64][]byte)
}

func (m *MemStore) akey(oid OID, dkey, akey string, create bool) (*akeyState, error) {
	obj, ok := m.objects[oid]
	if !ok {
		if !create {
			return nil, fmt.Errorf("extentstore: unknown object %d", oid)
		}
		return nil, fmt.Errorf("extentstore: object %d not registered", oid)
	}
	ak, ok := obj.dkeys[dkey]
	if !ok {
		if !create {
			return nil, fmt.Errorf("extentstore: unknown dkey %q on object %d", dkey, oid)
		}
		ak = make(map[string]*akeyState)
		obj.dkeys[dkey] = ak
	}
	st, ok := ak[akey]
	if !ok {
		if !create {
			return nil, fmt.Errorf("extentstore: unknown akey %q on object %d/%q", akey, oid, dkey)
		}
		st = &akeyState{parity: make(map[int64]ParityProbe)}
		ak[akey] = st
	}
	return st, nil
}

// WriteReplica seeds a data extent directly (bypassing the engine),
// for test and CLI fixture setup. origRecx should equal recx unless
// simulating a carry-over extent whose prefix has already been
// trimmed by a prior run.
func (m *MemStore) WriteReplica(oid OID, dkey, akey string, recx, origRecx Recx, epoch uint64, data []byte, isHole bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.akey(oid, dkey, akey, true)
	if err != nil {
		return err
	}
	st.data = append(st.data, DataEntry{Recx: recx, OrigRecx: origRecx, Epoch: epoch, IsHole: isHole, Data: data})
	sort.Slice(st.data, func(i, j int) bool {
		if st.data[i].Recx.Start != st.data[j].Recx.Start {
			return st.data[i].Recx.Start < st.data[j].Recx.Start
		}
		return st.data[i].Epoch < st.data[j].Epoch
	})
	return nil
}

// WriteParityFixture seeds an existing parity extent directly, for
// tests exercising branches 1, 4, 5 and 6 which require pre-existing
// parity.
func (m *MemStore) WriteParityFixture(oid OID, dkey, akey string, stripe int64, epoch uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.akey(oid, dkey, akey, true)
	if err != nil {
		return err
	}
	class := m.objects[oid].class
	start, length := class.ParityRecx(stripe)
	st.parity[stripe] = ParityProbe{Recx: Recx{Start: start, Length: length}, Epoch: epoch, Found: true}
	if m.parityData[oid][dkey] == nil {
		m.parityData[oid][dkey] = make(map[string]map[int64][]byte)
	}
	if m.parityData[oid][dkey][akey] == nil {
		m.parityData[oid][dkey][akey] = make(map[int64][]byte)
	}
	m.parityData[oid][dkey][akey][stripe] = data
	return nil
}

// ParityBytes returns the currently stored parity payload for a
// stripe, for test assertions.
func (m *MemStore) ParityBytes(oid OID, dkey, akey string, stripe int64) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.parityData[oid][dkey][akey][stripe]
	return d, ok
}

// DataExtents returns a copy of the raw replica extent list for an
// akey, for test assertions about hold-overs and carry-over.
func (m *MemStore) DataExtents(oid OID, dkey, akey string) []DataEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, err := m.akey(oid, dkey, akey, false)
	if err != nil {
		return nil
	}
	out := make([]DataEntry, len(st.data))
	copy(out, st.data)
	return out
}

func (m *MemStore) Iterate(ctx context.Context, p IterateParams, pre PreCallback, post PostCallback) error {
	m.mu.RLock()
	// Snapshot object ids under the lock, then release it so callbacks
	// (which may themselves call back into the store) don't deadlock.
	oids := make([]OID, 0, len(m.objects))
	for oid := range m.objects {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })
	m.mu.RUnlock()

	for _, oid := range oids {
		m.mu.RLock()
		obj := m.objects[oid]
		m.mu.RUnlock()

		skip, err := pre(ctx, Entry{Kind: EntryObject, Oid: oid, Class: obj.class})
		if err == ErrAbort {
			return nil
		}
		if err != nil {
			return err
		}
		if skip {
			continue
		}

		m.mu.RLock()
		dkeys := make([]string, 0, len(obj.dkeys))
		for dk := range obj.dkeys {
			dkeys = append(dkeys, dk)
		}
		sort.Strings(dkeys)
		m.mu.RUnlock()

		for _, dkey := range dkeys {
			skip, err := pre(ctx, Entry{Kind: EntryDkey, Oid: oid, Dkey: dkey})
			if err == ErrAbort {
				return nil
			}
			if err != nil {
				return err
			}
			if skip {
				continue
			}

			m.mu.RLock()
			akeys := make([]string, 0, len(obj.dkeys[dkey]))
			for ak := range obj.dkeys[dkey] {
				akeys = append(akeys, ak)
			}
			sort.Strings(akeys)
			m.mu.RUnlock()

			for _, akey := range akeys {
				skip, err := pre(ctx, Entry{Kind: EntryAkey, Oid: oid, Dkey: dkey, Akey: akey})
				if err == ErrAbort {
					return nil
				}
				if err != nil {
					return err
				}
				if !skip {
					m.mu.RLock()
					st := obj.dkeys[dkey][akey]
					entries := make([]DataEntry, 0, len(st.data))
					for _, de := range st.data {
						if p.Epoch.Contains(de.Epoch) {
							entries = append(entries, de)
						}
					}
					m.mu.RUnlock()
					sort.Slice(entries, func(i, j int) bool {
						if entries[i].Recx.Start != entries[j].Recx.Start {
							return entries[i].Recx.Start < entries[j].Recx.Start
						}
						return entries[i].Epoch < entries[j].Epoch
					})

					for _, de := range entries {
						_, err := pre(ctx, Entry{Kind: EntryRecx, Oid: oid, Dkey: dkey, Akey: akey, Data: de})
						if err == ErrAbort {
							return nil
						}
						if err != nil {
							return err
						}
					}
				}

				if post != nil {
					if err := post(ctx, Entry{Kind: EntryAkey, Oid: oid, Dkey: dkey, Akey: akey}); err != nil {
						if err == ErrAbort {
							return nil
						}
						return err
					}
				}
			}

			if post != nil {
				if err := post(ctx, Entry{Kind: EntryDkey, Oid: oid, Dkey: dkey}); err != nil {
					if err == ErrAbort {
						return nil
					}
					return err
				}
			}
		}

		if post != nil {
			if err := post(ctx, Entry{Kind: EntryObject, Oid: oid}); err != nil {
				if err == ErrAbort {
					return nil
				}
				return err
			}
		}
	}
	return nil
}

func (m *MemStore) Fetch(ctx context.Context, oid OID, epoch uint64, dkey, akey string, recx Recx) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[oid]
	if !ok {
		return nil, fmt.Errorf("extentstore: unknown object %d", oid)
	}

	if ecclass.IsParityIndex(recx.Start) {
		stripe := (recx.Start &^ ecclass.ParityFlag) / int64(obj.class.L)
		data, ok := m.parityData[oid][dkey][akey][stripe]
		if !ok {
			return nil, fmt.Errorf("extentstore: no parity at stripe %d for %d/%q/%q", stripe, oid, dkey, akey)
		}
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	st, err := m.akey(oid, dkey, akey, false)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, recx.Length*int64(obj.class.RecordSize))
	filled := make([]bool, recx.Length)
	// Later epochs (up to the requested epoch) win over earlier ones.
	candidates := make([]DataEntry, 0)
	for _, de := range st.data {
		if de.Epoch <= epoch && de.Recx.Overlaps(recx) {
			candidates = append(candidates, de)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Epoch < candidates[j].Epoch })

	for _, de := range candidates {
		lo := de.Recx.Start
		if lo < recx.Start {
			lo = recx.Start
		}
		hi := de.Recx.End()
		if hi > recx.End() {
			hi = recx.End()
		}
		for i := lo; i < hi; i++ {
			if de.IsHole {
				// A later punch hides whatever an earlier epoch wrote.
				filled[i-recx.Start] = false
				continue
			}
			srcOff := (i - de.Recx.Start) * int64(obj.class.RecordSize)
			dstOff := (i - recx.Start) * int64(obj.class.RecordSize)
			if srcOff+int64(obj.class.RecordSize) > int64(len(de.Data)) {
				continue
			}
			copy(buf[dstOff:dstOff+int64(obj.class.RecordSize)], de.Data[srcOff:srcOff+int64(obj.class.RecordSize)])
			filled[i-recx.Start] = true
		}
	}
	for i, f := range filled {
		if !f {
			return nil, fmt.Errorf("extentstore: fetch %d/%q/%q %s at epoch %d: record %d has no visible data (hole)", oid, dkey, akey, recx, epoch, recx.Start+int64(i))
		}
	}
	return buf, nil
}

func (m *MemStore) Update(ctx context.Context, oid OID, epoch uint64, dkey, akey string, recx Recx, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[oid]
	if !ok {
		return fmt.Errorf("extentstore: unknown object %d", oid)
	}

	if ecclass.IsParityIndex(recx.Start) {
		stripe := (recx.Start &^ ecclass.ParityFlag) / int64(obj.class.L)
		st, err := m.akey(oid, dkey, akey, true)
		if err != nil {
			return err
		}
		st.parity[stripe] = ParityProbe{Recx: recx, Epoch: epoch, Found: true}
		if m.parityData[oid][dkey] == nil {
			m.parityData[oid][dkey] = make(map[string]map[int64][]byte)
		}
		if m.parityData[oid][dkey][akey] == nil {
			m.parityData[oid][dkey][akey] = make(map[int64][]byte)
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		m.parityData[oid][dkey][akey][stripe] = buf
		logrus.WithFields(logrus.Fields{"oid": oid, "dkey": dkey, "akey": akey, "stripe": stripe, "epoch": epoch}).Debug("extentstore: parity written")
		return nil
	}

	st, err := m.akey(oid, dkey, akey, true)
	if err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	st.data = append(st.data, DataEntry{Recx: recx, OrigRecx: recx, Epoch: epoch, Data: buf})
	return nil
}

func (m *MemStore) RangeRemove(ctx context.Context, oid OID, er EpochRange, dkey, akey string, recx Recx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[oid]
	if !ok {
		return fmt.Errorf("extentstore: unknown object %d", oid)
	}

	if ecclass.IsParityIndex(recx.Start) {
		stripe := (recx.Start &^ ecclass.ParityFlag) / int64(obj.class.L)
		st, err := m.akey(oid, dkey, akey, false)
		if err != nil {
			return nil // idempotent over empty ranges: nothing to remove
		}
		if p, ok := st.parity[stripe]; !ok || !er.Contains(p.Epoch) {
			return nil
		}
		delete(st.parity, stripe)
		if m.parityData[oid][dkey] != nil && m.parityData[oid][dkey][akey] != nil {
			delete(m.parityData[oid][dkey][akey], stripe)
		}
		return nil
	}

	st, err := m.akey(oid, dkey, akey, false)
	if err != nil {
		return nil // idempotent: no such akey, nothing to remove
	}
	kept := st.data[:0]
	for _, de := range st.data {
		remove := de.Recx.Overlaps(recx) && er.Contains(de.Epoch)
		if !remove {
			kept = append(kept, de)
		}
	}
	st.data = kept
	return nil
}

func (m *MemStore) ProbeParity(ctx context.Context, oid OID, dkey, akey string, s int64) (ParityProbe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, err := m.akey(oid, dkey, akey, false)
	if err != nil {
		return ParityProbe{Found: false, Epoch: NoParityEpoch}, nil
	}
	p, ok := st.parity[s]
	if !ok {
		return ParityProbe{Found: false, Epoch: NoParityEpoch}, nil
	}
	return p, nil
}

func (m *MemStore) OClassAttrs(ctx context.Context, oid OID) (ecclass.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[oid]
	if !ok {
		return ecclass.Class{}, fmt.Errorf("extentstore: unknown object %d", oid)
	}
	return obj.class, nil
}

func (m *MemStore) IsECObject(ctx context.Context, oid OID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[oid]
	return ok && obj.isEC
}

// Watermark returns the last-aggregated-epoch watermark recorded for
// oid (spec §4.1's "last aggregated epoch"), and whether one has ever
// been set.
func (m *MemStore) Watermark(oid OID) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[oid]
	if !ok {
		return 0, false
	}
	return obj.watermark, obj.hasWatermk
}

// AdvanceWatermark sets the last-aggregated-epoch watermark for oid.
// The watermark is kept per object; the driver calls this only after a
// fully successful run (spec §4.1/§9).
func (m *MemStore) AdvanceWatermark(oid OID, hi uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[oid]
	if !ok {
		return
	}
	obj.watermark = hi
	obj.hasWatermk = true
}
