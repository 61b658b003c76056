package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collabrun/internal/domain"
	"collabrun/internal/repository"
)

type mockRoomRepository struct{ mock.Mock }

func (m *mockRoomRepository) FindByID(ctx context.Context, id string) (*domain.Room, error) {
	args := m.Called(ctx, id)
	room, _ := args.Get(0).(*domain.Room)
	return room, args.Error(1)
}
func (m *mockRoomRepository) FindByJoinKey(ctx context.Context, key string) (*domain.Room, error) {
	args := m.Called(ctx, key)
	room, _ := args.Get(0).(*domain.Room)
	return room, args.Error(1)
}
func (m *mockRoomRepository) Save(ctx context.Context, room *domain.Room) error {
	return m.Called(ctx, room).Error(0)
}
func (m *mockRoomRepository) JoinKeyExists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}
func (m *mockRoomRepository) IncrementParticipantCount(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}
func (m *mockRoomRepository) DecrementParticipantCount(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}
func (m *mockRoomRepository) Archive(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}
func (m *mockRoomRepository) FindInactiveRooms(ctx context.Context, olderThanHours int) ([]domain.Room, error) {
	args := m.Called(ctx, olderThanHours)
	rooms, _ := args.Get(0).([]domain.Room)
	return rooms, args.Error(1)
}
func (m *mockRoomRepository) UpdateSnapshot(ctx context.Context, roomID string, content string, crdtState []byte) error {
	return m.Called(ctx, roomID, content, crdtState).Error(0)
}

type mockParticipantRepository struct{ mock.Mock }

func (m *mockParticipantRepository) FindByRoomAndUser(ctx context.Context, roomID, userID string) (*domain.Participant, error) {
	args := m.Called(ctx, roomID, userID)
	p, _ := args.Get(0).(*domain.Participant)
	return p, args.Error(1)
}
func (m *mockParticipantRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error) {
	args := m.Called(ctx, roomID)
	ps, _ := args.Get(0).([]domain.Participant)
	return ps, args.Error(1)
}
func (m *mockParticipantRepository) MarkActive(ctx context.Context, roomID, userID string) (*domain.Participant, error) {
	args := m.Called(ctx, roomID, userID)
	p, _ := args.Get(0).(*domain.Participant)
	return p, args.Error(1)
}
func (m *mockParticipantRepository) MarkInactive(ctx context.Context, roomID, userID string) error {
	return m.Called(ctx, roomID, userID).Error(0)
}
func (m *mockParticipantRepository) UpdateCursor(ctx context.Context, roomID, userID string, line, column int) error {
	return m.Called(ctx, roomID, userID, line, column).Error(0)
}
func (m *mockParticipantRepository) CleanupInactive(ctx context.Context, olderThanMinutes int) (int64, error) {
	args := m.Called(ctx, olderThanMinutes)
	return args.Get(0).(int64), args.Error(1)
}

func TestCreateRoomPersistsFreshRoom(t *testing.T) {
	rooms := &mockRoomRepository{}
	participants := &mockParticipantRepository{}
	rooms.On("JoinKeyExists", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
	rooms.On("Save", mock.Anything, mock.AnythingOfType("*domain.Room")).Return(nil)

	svc := NewRoomService(rooms, participants)
	room, err := svc.CreateRoom(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, room.ID)
	assert.Len(t, room.JoinKey, 12)
}

func TestJoinRoomRejectsArchivedRoom(t *testing.T) {
	rooms := &mockRoomRepository{}
	participants := &mockParticipantRepository{}
	rooms.On("FindByJoinKey", mock.Anything, "ABC123").Return(&domain.Room{ID: "room-1", IsArchived: true}, nil)

	svc := NewRoomService(rooms, participants)
	_, _, err := svc.JoinRoom(context.Background(), "ABC123", "user-1")
	require.Error(t, err)
	assert.Equal(t, KindArchived, KindOf(err))
}

func TestJoinRoomReturnsNotFoundForUnknownKey(t *testing.T) {
	rooms := &mockRoomRepository{}
	participants := &mockParticipantRepository{}
	rooms.On("FindByJoinKey", mock.Anything, "MISSING").Return(nil, repository.ErrNotFound)

	svc := NewRoomService(rooms, participants)
	_, _, err := svc.JoinRoom(context.Background(), "MISSING", "user-1")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestJoinRoomActivatesParticipantAndIncrementsCount(t *testing.T) {
	rooms := &mockRoomRepository{}
	participants := &mockParticipantRepository{}
	room := &domain.Room{ID: "room-1", IsArchived: false, ParticipantCount: 1}
	rooms.On("FindByJoinKey", mock.Anything, "ABC123").Return(room, nil)
	participants.On("MarkActive", mock.Anything, "room-1", "user-1").Return(&domain.Participant{UserID: "user-1"}, nil)
	rooms.On("IncrementParticipantCount", mock.Anything, "room-1").Return(nil)

	svc := NewRoomService(rooms, participants)
	gotRoom, participant, err := svc.JoinRoom(context.Background(), "ABC123", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", participant.UserID)
	assert.Equal(t, 2, gotRoom.ParticipantCount)
}

func TestLeaveRoomReturnsNotFoundWhenParticipantMissing(t *testing.T) {
	rooms := &mockRoomRepository{}
	participants := &mockParticipantRepository{}
	participants.On("FindByRoomAndUser", mock.Anything, "room-1", "user-1").Return(nil, repository.ErrNotFound)

	svc := NewRoomService(rooms, participants)
	err := svc.LeaveRoom(context.Background(), "room-1", "user-1")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}
