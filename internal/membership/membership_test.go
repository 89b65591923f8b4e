package membership_test

import (
	"testing"

	"github.com/Anthya1104/ec-aggregate/internal/membership"
	"github.com/stretchr/testify/assert"
)

func TestIsLeader_DefaultsFalse(t *testing.T) {
	tbl := membership.NewTable()
	assert.False(t, tbl.IsLeader(1, 1, 4))
}

func TestIsLeader_RecordedLeaderWins(t *testing.T) {
	tbl := membership.NewTable()
	tbl.SetLeader(1, 1, 4)
	assert.True(t, tbl.IsLeader(1, 1, 4))
	assert.False(t, tbl.IsLeader(1, 1, 5))
	assert.False(t, tbl.IsLeader(1, 2, 4)) // different map version
}

func TestPoolMap_FailedTargets(t *testing.T) {
	tbl := membership.NewTable()
	tbl.SetPoolMap(membership.PoolMap{Version: 3, Failed: map[int]bool{5: true}})

	pm := tbl.PoolMap()
	assert.Equal(t, uint64(3), pm.Version)
	assert.True(t, pm.IsFailed(5))
	assert.False(t, pm.IsFailed(6))
}
