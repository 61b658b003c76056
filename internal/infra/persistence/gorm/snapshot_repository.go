package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"collabrun/internal/domain"
	"collabrun/internal/repository"
)

// GormSnapshotRepository is the GORM implementation of repository.SnapshotRepository.
type GormSnapshotRepository struct {
	db *gorm.DB
}

func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSnapshotRepository")
	}
	return &GormSnapshotRepository{db: db}
}

func (r *GormSnapshotRepository) GetLatest(ctx context.Context, roomID string) (*domain.Snapshot, error) {
	var snapshot domain.Snapshot
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("gorm: get latest snapshot for room %s: %w", roomID, err)
	}
	return &snapshot, nil
}

func (r *GormSnapshotRepository) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	if err := r.db.WithContext(ctx).Create(snapshot).Error; err != nil {
		return fmt.Errorf("gorm: save snapshot (room %s, kind %s): %w", snapshot.RoomID, snapshot.Kind, err)
	}
	return nil
}

// PruneOldest keeps only the `keep` most recent snapshots for a room, per spec.md's
// per-room retention cap.
func (r *GormSnapshotRepository) PruneOldest(ctx context.Context, roomID string, keep int) error {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.Snapshot{}).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Offset(keep).
		Pluck("id", &ids).Error
	if err != nil {
		return fmt.Errorf("gorm: list snapshots to prune for room %s: %w", roomID, err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.Snapshot{}).Error; err != nil {
		return fmt.Errorf("gorm: prune snapshots for room %s: %w", roomID, err)
	}
	return nil
}

// GormUpdateRepository persists the best-effort CRDT update history.
type GormUpdateRepository struct {
	db *gorm.DB
}

func NewGormUpdateRepository(db *gorm.DB) *GormUpdateRepository {
	if db == nil {
		panic("database connection cannot be nil for GormUpdateRepository")
	}
	return &GormUpdateRepository{db: db}
}

func (r *GormUpdateRepository) Append(ctx context.Context, update domain.RoomUpdate) error {
	if err := r.db.WithContext(ctx).Create(&update).Error; err != nil {
		return fmt.Errorf("gorm: append room update (room %s): %w", update.RoomID, err)
	}
	return nil
}

func (r *GormUpdateRepository) ListSince(ctx context.Context, roomID string, afterSequence uint64) ([]domain.RoomUpdate, error) {
	var updates []domain.RoomUpdate
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND sequence > ?", roomID, afterSequence).
		Order("sequence ASC").
		Find(&updates).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list updates for room %s: %w", roomID, err)
	}
	return updates, nil
}

func (r *GormUpdateRepository) PruneOlderThan(ctx context.Context, roomID string, keep int) error {
	var cutoffSeq uint64
	err := r.db.WithContext(ctx).Model(&domain.RoomUpdate{}).
		Where("room_id = ?", roomID).
		Order("sequence DESC").
		Offset(keep).
		Limit(1).
		Pluck("sequence", &cutoffSeq).Error
	if err != nil || cutoffSeq == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).
		Where("room_id = ? AND sequence <= ?", roomID, cutoffSeq).
		Delete(&domain.RoomUpdate{}).Error; err != nil {
		return fmt.Errorf("gorm: prune updates for room %s: %w", roomID, err)
	}
	return nil
}
