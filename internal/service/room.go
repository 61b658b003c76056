package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"collabrun/internal/domain"
	"collabrun/internal/repository"
)

const joinKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const joinKeyLength = 12
const maxJoinKeyAttempts = 10

var joinKeyPattern = regexp.MustCompile(domain.JoinKeyPattern)

// RoomService is the Room Store: durable rooms, participants, and cursor/presence
// bookkeeping that rides along the same repository transactions.
type RoomService struct {
	rooms        repository.RoomRepository
	participants repository.ParticipantRepository
}

func NewRoomService(rooms repository.RoomRepository, participants repository.ParticipantRepository) *RoomService {
	if rooms == nil || participants == nil {
		panic("RoomRepository and ParticipantRepository must be non-nil for RoomService")
	}
	return &RoomService{rooms: rooms, participants: participants}
}

// CreateRoom generates a fresh join key with up to 10 collision retries and persists a
// new, empty room. Exhausting retries surfaces a Conflict error without a partial row.
func (s *RoomService) CreateRoom(ctx context.Context) (*domain.Room, error) {
	key, err := s.generateJoinKey(ctx)
	if err != nil {
		return nil, err
	}
	room := &domain.Room{
		ID:           uuid.NewString(),
		JoinKey:      key,
		LastActivity: time.Now().UTC(),
	}
	if err := s.rooms.Save(ctx, room); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, ConflictError("join key collision on save")
		}
		return nil, InternalError("save room", err)
	}
	logrus.WithFields(logrus.Fields{"room_id": room.ID, "join_key": room.JoinKey}).Info("room created")
	return room, nil
}

func (s *RoomService) generateJoinKey(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxJoinKeyAttempts; attempt++ {
		key, err := randomJoinKey()
		if err != nil {
			return "", InternalError("generate join key", err)
		}
		exists, err := s.rooms.JoinKeyExists(ctx, key)
		if err != nil {
			return "", InternalError("check join key uniqueness", err)
		}
		if !exists {
			return key, nil
		}
	}
	return "", ConflictError("exhausted join key generation retries")
}

func randomJoinKey() (string, error) {
	buf := make([]byte, joinKeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = joinKeyAlphabet[int(b)%len(joinKeyAlphabet)]
	}
	key := string(buf)
	if !joinKeyPattern.MatchString(key) {
		return "", fmt.Errorf("generated join key %q violates pattern", key)
	}
	return key, nil
}

// JoinRoom resolves a join key to a room, rejects archived rooms, and activates (or
// reactivates) the caller's participant row.
func (s *RoomService) JoinRoom(ctx context.Context, joinKey string, userID string) (*domain.Room, *domain.Participant, error) {
	room, err := s.rooms.FindByJoinKey(ctx, joinKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, NotFoundError("no room with that join key")
		}
		return nil, nil, InternalError("find room by join key", err)
	}
	if room.IsArchived {
		return nil, nil, ArchivedError("room is archived")
	}
	participant, err := s.participants.MarkActive(ctx, room.ID, userID)
	if err != nil {
		return nil, nil, InternalError("activate participant", err)
	}
	if err := s.rooms.IncrementParticipantCount(ctx, room.ID); err != nil {
		return nil, nil, InternalError("increment participant count", err)
	}
	room.ParticipantCount++
	return room, participant, nil
}

// LeaveRoom marks a participant inactive and decrements the room's participant count,
// preserving the invariant that participantCount equals the count of active rows.
func (s *RoomService) LeaveRoom(ctx context.Context, roomID string, userID string) error {
	participant, err := s.participants.FindByRoomAndUser(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NotFoundError("participant not found in room")
		}
		return InternalError("find participant", err)
	}
	if !participant.IsActive {
		return nil
	}
	if err := s.participants.MarkInactive(ctx, roomID, userID); err != nil {
		return InternalError("mark participant inactive", err)
	}
	if err := s.rooms.DecrementParticipantCount(ctx, roomID); err != nil {
		return InternalError("decrement participant count", err)
	}
	return nil
}

func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NotFoundError("room not found")
		}
		return nil, InternalError("find room", err)
	}
	return room, nil
}

// UpdateRoom persists the latest code content and, when present, the CRDT state blob,
// bumping lastActivity. Used by the explicit PUT /rooms/{id} route; the CRDT Session
// Manager's debounced write-back calls RoomRepository.UpdateSnapshot directly.
func (s *RoomService) UpdateRoom(ctx context.Context, roomID string, content string, crdtState []byte) error {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NotFoundError("room not found")
		}
		return InternalError("find room", err)
	}
	if room.IsArchived {
		return ArchivedError("room is archived")
	}
	if err := s.rooms.UpdateSnapshot(ctx, roomID, content, crdtState); err != nil {
		return InternalError("update room snapshot", err)
	}
	return nil
}

func (s *RoomService) ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	participants, err := s.participants.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, InternalError("list participants", err)
	}
	return participants, nil
}

func (s *RoomService) UpdateCursor(ctx context.Context, roomID, userID string, line, column int) error {
	if line < 1 || column < 0 {
		return ValidationError("cursor position out of range")
	}
	if err := s.participants.UpdateCursor(ctx, roomID, userID, line, column); err != nil {
		return InternalError("update cursor", err)
	}
	return nil
}

// ArchiveInactiveRooms archives every room whose lastActivity exceeds olderThanHours,
// called by the Background Supervisor's periodic sweep.
func (s *RoomService) ArchiveInactiveRooms(ctx context.Context, olderThanHours int) (int, error) {
	rooms, err := s.rooms.FindInactiveRooms(ctx, olderThanHours)
	if err != nil {
		return 0, InternalError("find inactive rooms", err)
	}
	for _, room := range rooms {
		if err := s.rooms.Archive(ctx, room.ID); err != nil {
			logrus.WithField("room_id", room.ID).WithError(err).Error("failed to archive inactive room")
			continue
		}
	}
	return len(rooms), nil
}

// CleanupInactiveParticipants sweeps participants whose lastSeen exceeds olderThanMinutes,
// marking them inactive. Called by the Background Supervisor's 5-minute room lifecycle sweep.
func (s *RoomService) CleanupInactiveParticipants(ctx context.Context, olderThanMinutes int) (int64, error) {
	n, err := s.participants.CleanupInactive(ctx, olderThanMinutes)
	if err != nil {
		return 0, InternalError("cleanup inactive participants", err)
	}
	return n, nil
}
