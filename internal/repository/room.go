package repository

import (
	"context"

	"collabrun/internal/domain"
)

// RoomRepository is the durable record of rooms.
type RoomRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Room, error)
	FindByJoinKey(ctx context.Context, key string) (*domain.Room, error)
	Save(ctx context.Context, room *domain.Room) error
	JoinKeyExists(ctx context.Context, key string) (bool, error)
	IncrementParticipantCount(ctx context.Context, roomID string) error
	DecrementParticipantCount(ctx context.Context, roomID string) error
	Archive(ctx context.Context, roomID string) error
	FindInactiveRooms(ctx context.Context, olderThanHours int) ([]domain.Room, error)
	UpdateSnapshot(ctx context.Context, roomID string, content string, crdtState []byte) error
}

// ParticipantRepository is the durable record of room membership.
type ParticipantRepository interface {
	FindByRoomAndUser(ctx context.Context, roomID, userID string) (*domain.Participant, error)
	ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error)
	MarkActive(ctx context.Context, roomID, userID string) (*domain.Participant, error)
	MarkInactive(ctx context.Context, roomID, userID string) error
	UpdateCursor(ctx context.Context, roomID, userID string, line, column int) error
	CleanupInactive(ctx context.Context, olderThanMinutes int) (int64, error)
}
