// Package ecclass describes an erasure-coding class (K data cells, P
// parity cells, L records per cell) and the stripe/cell/parity-address
// arithmetic every other package in this module builds on.
package ecclass

import "fmt"

// ParityFlag is the high-bit sentinel marking a recx index as parity
// rather than data. It must not collide with any legitimate data
// index, so it is fixed at the top bit of the 63-bit signed index
// space this module uses for record offsets.
const ParityFlag int64 = 1 << 62

// Class holds the per-object EC parameters. K and P are cell counts,
// L is records per cell, RecordSize is bytes per record.
type Class struct {
	K          int
	P          int
	L          int
	RecordSize int

	// GFTables holds a Galois-field coding matrix an object class may
	// supply. Nothing in this module reads it: codec.New builds its
	// encoder from K and P alone, with reedsolomon's own matrix.
	GFTables []byte
}

// New validates and returns a Class.
func New(k, p, l, recordSize int) (Class, error) {
	if k <= 0 || p <= 0 || l <= 0 || recordSize <= 0 {
		return Class{}, fmt.Errorf("ecclass: K, P, L and RecordSize must all be positive (got K=%d P=%d L=%d recordSize=%d)", k, p, l, recordSize)
	}
	return Class{K: k, P: p, L: l, RecordSize: recordSize}, nil
}

// StripeRecords returns the number of records per stripe (K*L).
func (c Class) StripeRecords() int64 { return int64(c.K) * int64(c.L) }

// CellRecords returns the number of records per cell (L).
func (c Class) CellRecords() int64 { return int64(c.L) }

// CellBytes returns the byte size of one cell.
func (c Class) CellBytes() int64 { return int64(c.L) * int64(c.RecordSize) }

// StripeOf returns the stripe ordinal containing record index idx.
func (c Class) StripeOf(idx int64) int64 { return idx / c.StripeRecords() }

// StripeStart returns the first record index of stripe s.
func (c Class) StripeStart(s int64) int64 { return s * c.StripeRecords() }

// StripeEnd returns the first record index past stripe s (exclusive).
func (c Class) StripeEnd(s int64) int64 { return (s + 1) * c.StripeRecords() }

// CellOf returns the cell index (within a stripe) containing the
// record at stripe-relative offset off.
func (c Class) CellOf(stripeRelativeOffset int64) int {
	return int(stripeRelativeOffset / c.CellRecords())
}

// ParityRecx returns the (start, length) of the parity extent for
// stripe s: index PARITY_FLAG | (s*L), length L.
func (c Class) ParityRecx(s int64) (start, length int64) {
	return ParityFlag | (s * int64(c.L)), int64(c.L)
}

// IsParityIndex reports whether idx carries the parity sentinel bit.
func IsParityIndex(idx int64) bool { return idx&ParityFlag != 0 }

// TotalShards returns K+P.
func (c Class) TotalShards() int { return c.K + c.P }

// ShardIsParity reports whether shardIndex (0-based, mod K+P) names a
// parity shard rather than a data shard.
func (c Class) ShardIsParity(shardIndex int) bool {
	m := shardIndex % c.TotalShards()
	return m >= c.K
}

// ParityIndex returns this shard's position pidx = (shardIndex-K) mod P
// among the P parity shards. Only meaningful when ShardIsParity is true.
func (c Class) ParityIndex(shardIndex int) (int, error) {
	if !c.ShardIsParity(shardIndex) {
		return 0, fmt.Errorf("ecclass: shard %d is not a parity shard for class K=%d P=%d", shardIndex, c.K, c.P)
	}
	m := shardIndex % c.TotalShards()
	return (m - c.K) % c.P, nil
}

// PeerParityIndices returns the parity indices other than self's,
// i.e. [0,P) \ {pidx}.
func (c Class) PeerParityIndices(pidx int) []int {
	peers := make([]int, 0, c.P-1)
	for i := 0; i < c.P; i++ {
		if i != pidx {
			peers = append(peers, i)
		}
	}
	return peers
}
