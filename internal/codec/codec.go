// Package codec implements the Galois-field parity primitives of
// spec §4.5: full-stripe encode, XOR diff, diff pre-processing, and
// incremental per-cell parity update. It wraps
// github.com/klauspost/reedsolomon the same way
// raid-simulator/internal/rsutil.go does — building a
// data-cells-then-parity-cells shard slice and calling
// Encoder.Encode — and raid5.go/raid6.go's encoder-construction
// pattern (reedsolomon.New(numDataShards, numParityShards)).
package codec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Codec holds one object class's Reed-Solomon encoder.
type Codec struct {
	k, p int
	enc  reedsolomon.Encoder
}

// New builds a Codec for k data cells and p parity cells, mirroring
// NewRAID5Controller/NewRAID6Controller's
// reedsolomon.New(numDataShards, numParityShards) call. With p == 1 the
// encoder uses an all-ones parity row, so the single parity cell is the
// byte-wise XOR of the data cells.
func New(k, p int) (*Codec, error) {
	if k <= 0 || p <= 0 {
		return nil, fmt.Errorf("codec: K and P must be positive (got K=%d P=%d)", k, p)
	}
	enc, err := reedsolomon.New(k, p, reedsolomon.WithFastOneParityMatrix())
	if err != nil {
		return nil, fmt.Errorf("codec: failed to create reedsolomon encoder for K=%d P=%d: %w", k, p, err)
	}
	return &Codec{k: k, p: p, enc: enc}, nil
}

// FullEncode computes P parity cells from K data cells, the §4.5
// "full encode" primitive. All cells (data and returned parity) are
// the same length. dataCells is not mutated; the returned slice holds
// newly allocated parity buffers.
func (c *Codec) FullEncode(dataCells [][]byte) ([][]byte, error) {
	if len(dataCells) != c.k {
		return nil, fmt.Errorf("codec: FullEncode expected %d data cells, got %d", c.k, len(dataCells))
	}
	cellSize := cellLen(dataCells)
	shards := make([][]byte, c.k+c.p)
	copy(shards, dataCells)
	for i := 0; i < c.p; i++ {
		shards[c.k+i] = make([]byte, cellSize)
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("codec: failed to encode shards: %w", err)
	}
	return shards[c.k:], nil
}

// Recalc is FullEncode under the name spec §4.5 uses for the
// full-recalc action: encode a complete (local-plus-remote-fetched)
// stripe from scratch.
func (c *Codec) Recalc(dataCells [][]byte) ([][]byte, error) { return c.FullEncode(dataCells) }

// XORDiff computes diff[i] = old[i] ^ new[i] byte-wise. old and new
// must be the same length (one cell's worth of bytes).
func XORDiff(old, new []byte) ([]byte, error) {
	if len(old) != len(new) {
		return nil, fmt.Errorf("codec: XORDiff length mismatch: old=%d new=%d", len(old), len(new))
	}
	diff := make([]byte, len(old))
	for i := range diff {
		diff[i] = old[i] ^ new[i]
	}
	return diff, nil
}

// ByteSpan is a [Start, End) byte range within one cell buffer.
type ByteSpan struct {
	Start int
	End   int
}

// ZeroOutsideSpans zeroes bytes of diff that fall outside every span
// in spans, in place. spec §4.5's diff pre-process: bytes where no
// replica exists newer than parity must not perturb the incremental
// update, so their diff contribution is zeroed before use.
func ZeroOutsideSpans(diff []byte, spans []ByteSpan) {
	if len(spans) == 0 {
		for i := range diff {
			diff[i] = 0
		}
		return
	}
	keep := make([]bool, len(diff))
	for _, s := range spans {
		start, end := s.Start, s.End
		if start < 0 {
			start = 0
		}
		if end > len(diff) {
			end = len(diff)
		}
		for i := start; i < end; i++ {
			keep[i] = true
		}
	}
	for i := range diff {
		if !keep[i] {
			diff[i] = 0
		}
	}
}

// IncrementalUpdate applies spec §4.5's per-cell incremental parity
// update: for each touched cell index j with precomputed diff bytes,
// P'[p] = P[p] ^ (coef[p,j] * diff) for all p.
//
// Rather than reach into the encoder's internal coding matrix (which
// reedsolomon does not expose), each cell's contribution is obtained
// by encoding a one-hot stripe — every data cell zero except cell j,
// which holds diff — through the same Encoder.Encode call FullEncode
// uses; GF multiplication is linear, so the resulting "parity" cells
// are exactly coef[p,j]*diff, and XORing that contribution into the
// existing parity for every touched cell accumulates the full update.
func (c *Codec) IncrementalUpdate(oldParity [][]byte, touched map[int][]byte) ([][]byte, error) {
	if len(oldParity) != c.p {
		return nil, fmt.Errorf("codec: IncrementalUpdate expected %d parity cells, got %d", c.p, len(oldParity))
	}
	result := make([][]byte, c.p)
	for i, buf := range oldParity {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		result[i] = cp
	}

	for cellIdx, diff := range touched {
		if cellIdx < 0 || cellIdx >= c.k {
			return nil, fmt.Errorf("codec: IncrementalUpdate cell index %d out of range [0,%d)", cellIdx, c.k)
		}
		cellSize := len(diff)
		shards := make([][]byte, c.k+c.p)
		for i := 0; i < c.k; i++ {
			if i == cellIdx {
				shards[i] = diff
			} else {
				shards[i] = make([]byte, cellSize)
			}
		}
		for i := 0; i < c.p; i++ {
			shards[c.k+i] = make([]byte, cellSize)
		}
		if err := c.enc.Encode(shards); err != nil {
			return nil, fmt.Errorf("codec: failed to compute cell %d contribution: %w", cellIdx, err)
		}
		for p := 0; p < c.p; p++ {
			contrib := shards[c.k+p]
			if len(result[p]) != len(contrib) {
				return nil, fmt.Errorf("codec: parity cell %d length mismatch: have %d want %d", p, len(result[p]), len(contrib))
			}
			for b := range result[p] {
				result[p][b] ^= contrib[b]
			}
		}
	}
	return result, nil
}

func cellLen(cells [][]byte) int {
	for _, c := range cells {
		if len(c) > 0 {
			return len(c)
		}
	}
	return 0
}
