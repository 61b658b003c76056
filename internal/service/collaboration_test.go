package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collabrun/internal/crdt"
	"collabrun/internal/domain"
	"collabrun/internal/repository"
)

type mockSnapshotRepository struct{ mock.Mock }

func (m *mockSnapshotRepository) GetLatest(ctx context.Context, roomID string) (*domain.Snapshot, error) {
	args := m.Called(ctx, roomID)
	s, _ := args.Get(0).(*domain.Snapshot)
	return s, args.Error(1)
}
func (m *mockSnapshotRepository) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	return m.Called(ctx, snapshot).Error(0)
}
func (m *mockSnapshotRepository) PruneOldest(ctx context.Context, roomID string, keep int) error {
	return m.Called(ctx, roomID, keep).Error(0)
}

type mockUpdateRepository struct{ mock.Mock }

func (m *mockUpdateRepository) Append(ctx context.Context, update domain.RoomUpdate) error {
	return m.Called(ctx, update).Error(0)
}
func (m *mockUpdateRepository) ListSince(ctx context.Context, roomID string, afterSequence uint64) ([]domain.RoomUpdate, error) {
	args := m.Called(ctx, roomID, afterSequence)
	updates, _ := args.Get(0).([]domain.RoomUpdate)
	return updates, args.Error(1)
}
func (m *mockUpdateRepository) PruneOlderThan(ctx context.Context, roomID string, keep int) error {
	return m.Called(ctx, roomID, keep).Error(0)
}

type mockStateRepository struct{ mock.Mock }

func (m *mockStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}
func (m *mockStateRepository) PublishEvent(ctx context.Context, channel string, payload []byte) error {
	return m.Called(ctx, channel, payload).Error(0)
}
func (m *mockStateRepository) CacheCrdtState(ctx context.Context, roomID string, state []byte, minInterval time.Duration) (bool, error) {
	args := m.Called(ctx, roomID, state, minInterval)
	return args.Bool(0), args.Error(1)
}
func (m *mockStateRepository) QueueDepth(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func newTestCollaborationService(rooms *mockRoomRepository, snapshots *mockSnapshotRepository, updates *mockUpdateRepository, state *mockStateRepository) *CollaborationService {
	return NewCollaborationService(rooms, snapshots, updates, state)
}

func TestInitializeDocumentSeedsFromRoomCodeSnapshotWhenNoPriorState(t *testing.T) {
	rooms := &mockRoomRepository{}
	snapshots := &mockSnapshotRepository{}
	updates := &mockUpdateRepository{}
	state := &mockStateRepository{}

	rooms.On("FindByID", mock.Anything, "room-1").Return(&domain.Room{ID: "room-1", CodeSnapshot: "print(1)"}, nil)
	snapshots.On("GetLatest", mock.Anything, "room-1").Return(nil, repository.ErrNotFound)

	svc := newTestCollaborationService(rooms, snapshots, updates, state)
	content, err := svc.DocumentContent(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", content)
}

func TestInitializeDocumentPrefersPersistedCrdtState(t *testing.T) {
	rooms := &mockRoomRepository{}
	snapshots := &mockSnapshotRepository{}
	updates := &mockUpdateRepository{}
	state := &mockStateRepository{}

	seed := crdt.NewDocument()
	encodedUpdate, err := seed.SeedText("hello", "author-1")
	require.NoError(t, err)

	rooms.On("FindByID", mock.Anything, "room-1").Return(&domain.Room{ID: "room-1", CrdtState: encodedUpdate}, nil)

	svc := newTestCollaborationService(rooms, snapshots, updates, state)
	content, err := svc.DocumentContent(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)
	snapshots.AssertNotCalled(t, "GetLatest", mock.Anything, mock.Anything)
}

func TestInitializeDocumentReturnsNotFoundForMissingRoom(t *testing.T) {
	rooms := &mockRoomRepository{}
	snapshots := &mockSnapshotRepository{}
	updates := &mockUpdateRepository{}
	state := &mockStateRepository{}

	rooms.On("FindByID", mock.Anything, "missing").Return(nil, repository.ErrNotFound)

	svc := newTestCollaborationService(rooms, snapshots, updates, state)
	_, err := svc.DocumentContent(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestApplyClientUpdateAppliesAndRecordsHistory(t *testing.T) {
	rooms := &mockRoomRepository{}
	snapshots := &mockSnapshotRepository{}
	updates := &mockUpdateRepository{}
	state := &mockStateRepository{}

	rooms.On("FindByID", mock.Anything, "room-1").Return(&domain.Room{ID: "room-1"}, nil)
	snapshots.On("GetLatest", mock.Anything, "room-1").Return(nil, repository.ErrNotFound)
	updates.On("Append", mock.Anything, mock.AnythingOfType("domain.RoomUpdate")).Return(nil)
	state.On("CacheCrdtState", mock.Anything, "room-1", mock.Anything, mock.Anything).Return(false, nil)

	svc := newTestCollaborationService(rooms, snapshots, updates, state)

	seed := crdt.NewDocument()
	update, err := seed.SeedText("abc", "author-1")
	require.NoError(t, err)

	outcome, err := svc.ApplyClientUpdate(context.Background(), "room-1", update, "author-1")
	require.NoError(t, err)
	assert.False(t, outcome.ConflictFailed)
	assert.False(t, outcome.ConflictResolved)
	assert.Equal(t, update, outcome.Update)

	content, err := svc.DocumentContent(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", content)
	updates.AssertExpectations(t)
}

funcTestApplyClientUpdateRejectsEmptyPayload(t *testing.T) {
	rooms := &mockRoomRepository{}
	snapshots := &mockSnapshotRepository{}
	updates := &mockUpdateRepository{}
	state := &mockStateRepository{}

	svc := newTestCollaborationService(rooms, snapshots, updates, state)
	_, err := svc.ApplyClientUpdate(context.Background(), "room-1", nil, "author-1")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestApplyClientUpdateResolvesConflictOnMalformedPayload(t *testing.T) {
	rooms := &mockRoomRepository{}
	snapshots := &mockSnapshotRepository{}
	updates := &mockUpdateRepository{}
	state := &mockStateRepository{}

	rooms.On("FindByID", mock.Anything, "room-1").Return(&domain.Room{ID: "room-1"}, nil)
	snapshots.On("Save", mock.Anything, mock.AnythingOfType("*domain.Snapshot")).Return(nil)
	snapshots.On("PruneOldest", mock.Anything, "room-1", domain.MaxSnapshotsPerRoom).Return(nil)
	snapshots.On("GetLatest", mock.Anything, "room-1").Return(nil, repository.ErrNotFound)
	rooms.On("UpdateSnapshot", mock.Anything, "room-1", mock.Anything, mock.Anything).Return(nil)

	svc := newTestCollaborationService(rooms, snapshots, updates, state)
	outcome, err := svc.ApplyClientUpdate(context.Background(), "room-1", []byte("garbage, not a crdt update"), "author-1")
	require.NoError(t, err)
	assert.True(t, outcome.ConflictFailed)
}

func TestCreateSnapshotWritesSnapshotRow(t *testing.T) {
	rooms := &mockRoomRepository{}
	snapshots := &mockSnapshotRepository{}
	updates := &mockUpdateRepository{}
	state := &mockStateRepository{}

	rooms.On("FindByID", mock.Anything, "room-1").Return(&domain.Room{ID: "room-1", CodeSnapshot: "abc"}, nil)
	snapshots.On("GetLatest", mock.Anything, "room-1").Return(nil, repository.ErrNotFound)
	snapshots.On("Save", mock.Anything, mock.AnythingOfType("*domain.Snapshot")).Return(nil)
	snapshots.On("PruneOldest", mock.Anything, "room-1", domain.MaxSnapshotsPerRoom).Return(nil)

	svc := newTestCollaborationService(rooms, snapshots, updates, state)
	err := svc.CreateSnapshot(context.Background(), "room-1", domain.SnapshotManual)
	require.NoError(t, err)
	snapshots.AssertExpectations(t)
}

func TestValidateIntegrityReturnsNoWarningsForHealthyDocument(t *testing.T) {
	rooms := &mockRoomRepository{}
	snapshots := &mockSnapshotRepository{}
	updates := &mockUpdateRepository{}
	state := &mockStateRepository{}

	rooms.On("FindByID", mock.Anything, "room-1").Return(&domain.Room{ID: "room-1", CodeSnapshot: "healthy"}, nil)
	snapshots.On("GetLatest", mock.Anything, "room-1").Return(nil, repository.ErrNotFound)

	svc := newTestCollaborationService(rooms, snapshots, updates, state)
	warnings, err := svc.ValidateIntegrity(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestCleanupRoomRemovesSessionAndStopsTimer(t *testing.T) {
	rooms := &mockRoomRepository{}
	snapshots := &mockSnapshotRepository{}
	updates := &mockUpdateRepository{}
	state := &mockStateRepository{}

	rooms.On("FindByID", mock.Anything, "room-1").Return(&domain.Room{ID: "room-1"}, nil)
	snapshots.On("GetLatest", mock.Anything, "room-1").Return(nil, repository.ErrNotFound)

	svc := newTestCollaborationService(rooms, snapshots, updates, state)
	_, err := svc.InitializeDocument(context.Background(), "room-1")
	require.NoError(t, err)

	svc.CleanupRoom("room-1")
	_, ok := svc.session("room-1")
	assert.False(t, ok)
}
