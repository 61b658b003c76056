package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinCreatesRecordWithAssignedColor(t *testing.T) {
	p := NewPresenceTracker()
	record := p.Join("room-1", "user-1", "#ff0000")
	assert.Equal(t, "user-1", record.UserID)
	assert.Equal(t, "#ff0000", record.Color)
	assert.True(t, record.Active)
}

func TestJoinTwiceKeepsOriginalColor(t *testing.T) {
	p := NewPresenceTracker()
	p.Join("room-1", "user-1", "#ff0000")
	record := p.Join("room-1", "user-1", "#00ff00")
	assert.Equal(t, "#ff0000", record.Color)
}

func TestLeaveMarksInactiveWithoutRemoving(t *testing.T) {
	p := NewPresenceTracker()
	p.Join("room-1", "user-1", "#ff0000")
	p.Leave("room-1", "user-1")

	snapshot := p.Snapshot("room-1")
	require.Len(t, snapshot, 1)
	assert.False(t, snapshot[0].Active)
}

func TestUpdateCursorSetsPosition(t *testing.T) {
	p := NewPresenceTracker()
	p.Join("room-1", "user-1", "#ff0000")
	p.UpdateCursor("room-1", "user-1", Cursor{Line: 4, Column: 9})

	snapshot := p.Snapshot("room-1")
	require.Len(t, snapshot, 1)
	require.NotNil(t, snapshot[0].Cursor)
	assert.Equal(t, 4, snapshot[0].Cursor.Line)
	assert.Equal(t, 9, snapshot[0].Cursor.Column)
}

func TestUpdateCursorOnUnknownUserIsNoop(t *testing.T) {
	p := NewPresenceTracker()
	p.Join("room-1", "user-1", "#ff0000")
	p.UpdateCursor("room-1", "ghost", Cursor{Line: 1, Column: 1})

	snapshot := p.Snapshot("room-1")
	require.Len(t, snapshot, 1)
	assert.Nil(t, snapshot[0].Cursor)
}

func TestSnapshotOfUnknownRoomReturnsNil(t *testing.T) {
	p := NewPresenceTracker()
	assert.Nil(t, p.Snapshot("missing-room"))
}

func TestSweepInactiveMarksStaleRecordsOnly(t *testing.T) {
	p := NewPresenceTracker()
	fresh := p.Join("room-1", "fresh-user", "#ff0000")
	stale := p.Join("room-1", "stale-user", "#00ff00")
	stale.LastSeen = time.Now().Add(-time.Hour)

	count := p.SweepInactive(time.Minute)
	assert.Equal(t, 1, count)

	snapshot := p.Snapshot("room-1")
	byUser := map[string]PresenceRecord{}
	for _, r := range snapshot {
		byUser[r.UserID] = r
	}
	assert.True(t, byUser["fresh-user"].Active)
	assert.False(t, byUser["stale-user"].Active)
	_ = fresh
}

func TestRemoveRoomDropsAllRecords(t *testing.T) {
	p := NewPresenceTracker()
	p.Join("room-1", "user-1", "#ff0000")
	p.RemoveRoom("room-1")
	assert.Nil(t, p.Snapshot("room-1"))
}
