// Package membership answers the pool/container membership and
// leader-election questions the aggregation engine treats as external
// collaborators (spec §1, §6): is_leader(oid, map_version) and the
// current pool map's failed-target list.
//
// It generalizes the quorum-election-cli idea of "elect one process
// among N members" (service.RunQuorumSetup(members)) from a fixed
// member count to a per-object, per-pool-map-version leader decision
// keyed by shard index, and adds the failed-target bookkeeping the
// peer coordinator (spec §4.6) consults before sending RPCs.
package membership

import "sync"

// PoolMap is a versioned view of which targets are up. A new PoolMap
// is published whenever membership changes; map_version increases
// monotonically.
type PoolMap struct {
	Version uint64
	Failed  map[int]bool // targetIndex -> failed
}

// IsFailed reports whether targetIndex is marked failed in this map.
func (p PoolMap) IsFailed(targetIndex int) bool { return p.Failed[targetIndex] }

// Table tracks the current pool map and, per object, which shard
// leads aggregation. It is safe for concurrent use, mirroring the
// quorum-election model of a single shared election outcome
// consulted by every participant.
type Table struct {
	mu      sync.RWMutex
	current PoolMap
	leaders map[leaderKey]int // (oid, mapVersion) -> leading shard index
}

type leaderKey struct {
	oid        uint64
	mapVersion uint64
}

// NewTable returns a Table with an empty initial pool map.
func NewTable() *Table {
	return &Table{
		current: PoolMap{Version: 0, Failed: map[int]bool{}},
		leaders: make(map[leaderKey]int),
	}
}

// SetPoolMap installs a new pool map, e.g. after a target join/leave.
func (t *Table) SetPoolMap(pm PoolMap) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = pm
}

// PoolMap returns the current pool map.
func (t *Table) PoolMap() PoolMap {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// SetLeader records which shard leads aggregation for oid at
// mapVersion. Real membership services derive this from a consistent
// hash or raft-style election over the object's layout; the table
// here just records whatever the caller (the CLI, or a test) decided,
// the same way quorum-election's play command records an outcome for
// a fixed member count rather than deriving one from real network
// votes.
func (t *Table) SetLeader(oid uint64, mapVersion uint64, shardIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaders[leaderKey{oid, mapVersion}] = shardIndex
}

// IsLeader implements is_leader(pool, oid, map_version) -> bool for
// shardIndex: true if shardIndex was recorded as the leader for
// (oid, mapVersion), defaulting to false (no leader recorded) rather
// than panicking, since a freshly-rebalanced object may have no
// recorded leader yet.
func (t *Table) IsLeader(oid uint64, mapVersion uint64, shardIndex int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	leader, ok := t.leaders[leaderKey{oid, mapVersion}]
	return ok && leader == shardIndex
}
