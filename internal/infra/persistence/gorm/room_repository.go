package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"collabrun/internal/domain"
	"collabrun/internal/repository"
)

// GormRoomRepository is the GORM implementation of repository.RoomRepository.
type GormRoomRepository struct {
	db *gorm.DB
}

func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

func (r *GormRoomRepository) FindByID(ctx context.Context, id string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).First(&room, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("gorm: find room by id %s: %w", id, err)
	}
	return &room, nil
}

func (r *GormRoomRepository) FindByJoinKey(ctx context.Context, key string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Where("join_key = ?", key).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("gorm: find room by join key '%s': %w", key, err)
	}
	return &room, nil
}

func (r *GormRoomRepository) Save(ctx context.Context, room *domain.Room) error {
	err := r.db.WithContext(ctx).Save(room).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save room (id: %s, join_key: %s): %w", room.ID, room.JoinKey, err)
	}
	return nil
}

func (r *GormRoomRepository) JoinKeyExists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("join_key = ?", key).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count rooms by join key '%s': %w", key, err)
	}
	return count > 0, nil
}

func (r *GormRoomRepository) IncrementParticipantCount(ctx context.Context, roomID string) error {
	err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("id = ?", roomID).
		UpdateColumn("participant_count", gorm.Expr("participant_count + ?", 1)).Error
	if err != nil {
		return fmt.Errorf("gorm: increment participant count for room %s: %w", roomID, err)
	}
	return nil
}

func (r *GormRoomRepository) DecrementParticipantCount(ctx context.Context, roomID string) error {
	err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("id = ? AND participant_count > 0", roomID).
		UpdateColumn("participant_count", gorm.Expr("participant_count - ?", 1)).Error
	if err != nil {
		return fmt.Errorf("gorm: decrement participant count for room %s: %w", roomID, err)
	}
	return nil
}

func (r *GormRoomRepository) Archive(ctx context.Context, roomID string) error {
	err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("id = ?", roomID).
		Update("is_archived", true).Error
	if err != nil {
		return fmt.Errorf("gorm: archive room %s: %w", roomID, err)
	}
	return nil
}

func (r *GormRoomRepository) FindInactiveRooms(ctx context.Context, olderThanHours int) ([]domain.Room, error) {
	var rooms []domain.Room
	cutoff := time.Now().Add(-time.Duration(olderThanHours) * time.Hour)
	err := r.db.WithContext(ctx).Where("last_activity < ? AND is_archived = ?", cutoff, false).Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find inactive rooms: %w", err)
	}
	return rooms, nil
}

func (r *GormRoomRepository) UpdateSnapshot(ctx context.Context, roomID string, content string, crdtState []byte) error {
	updates := map[string]interface{}{
		"code_snapshot": content,
		"crdt_state":    crdtState,
		"last_activity": time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("id = ?", roomID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("gorm: update snapshot for room %s: %w", roomID, err)
	}
	return nil
}

// GormParticipantRepository is the GORM implementation of repository.ParticipantRepository.
type GormParticipantRepository struct {
	db *gorm.DB
}

func NewGormParticipantRepository(db *gorm.DB) *GormParticipantRepository {
	if db == nil {
		panic("database connection cannot be nil for GormParticipantRepository")
	}
	return &GormParticipantRepository{db: db}
}

func (r *GormParticipantRepository) FindByRoomAndUser(ctx context.Context, roomID, userID string) (*domain.Participant, error) {
	var p domain.Participant
	err := r.db.WithContext(ctx).Where("room_id = ? AND user_id = ?", roomID, userID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("gorm: find participant (room: %s, user: %s): %w", roomID, userID, err)
	}
	return &p, nil
}

func (r *GormParticipantRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error) {
	var participants []domain.Participant
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list participants for room %s: %w", roomID, err)
	}
	return participants, nil
}

// MarkActive upserts the participant row, assigning a color deterministically on first
// creation (index of current active participants modulo the palette length).
func (r *GormParticipantRepository) MarkActive(ctx context.Context, roomID, userID string) (*domain.Participant, error) {
	var result *domain.Participant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Participant
		err := tx.Where("room_id = ? AND user_id = ?", roomID, userID).First(&existing).Error
		now := time.Now().UTC()
		if err == nil {
			existing.IsActive = true
			existing.LastSeen = now
			if saveErr := tx.Save(&existing).Error; saveErr != nil {
				return fmt.Errorf("gorm: reactivate participant: %w", saveErr)
			}
			result = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("gorm: find participant for activation: %w", err)
		}

		var activeCount int64
		if countErr := tx.Model(&domain.Participant{}).Where("room_id = ? AND is_active = ?", roomID, true).Count(&activeCount).Error; countErr != nil {
			return fmt.Errorf("gorm: count active participants: %w", countErr)
		}
		color := domain.ColorPalette[int(activeCount)%len(domain.ColorPalette)]

		created := domain.Participant{
			RoomID:   roomID,
			UserID:   userID,
			JoinedAt: now,
			LastSeen: now,
			IsActive: true,
			Color:    color,
		}
		if createErr := tx.Create(&created).Error; createErr != nil {
			return fmt.Errorf("gorm: create participant: %w", createErr)
		}
		result = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *GormParticipantRepository) MarkInactive(ctx context.Context, roomID, userID string) error {
	err := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Updates(map[string]interface{}{"is_active": false, "last_seen": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("gorm: mark participant inactive (room: %s, user: %s): %w", roomID, userID, err)
	}
	return nil
}

func (r *GormParticipantRepository) UpdateCursor(ctx context.Context, roomID, userID string, line, column int) error {
	err := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Updates(map[string]interface{}{
			"cursor_line":   line,
			"cursor_column": column,
			"last_seen":     time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("gorm: update cursor (room: %s, user: %s): %w", roomID, userID, err)
	}
	return nil
}

func (r *GormParticipantRepository) CleanupInactive(ctx context.Context, olderThanMinutes int) (int64, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanMinutes) * time.Minute)
	result := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("last_seen < ? AND is_active = ?", cutoff, true).
		Update("is_active", false)
	if result.Error != nil {
		return 0, fmt.Errorf("gorm: cleanup inactive participants: %w", result.Error)
	}
	return result.RowsAffected, nil
}
