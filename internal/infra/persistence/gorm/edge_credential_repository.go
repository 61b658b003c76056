package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"collabrun/internal/authedge"
)

// GormCredentialRepository is the GORM implementation of authedge.CredentialRepository,
// kept independent of the core's repository package since edge-auth is an optional,
// separately-deployed concern.
type GormCredentialRepository struct {
	db *gorm.DB
}

func NewGormCredentialRepository(db *gorm.DB) *GormCredentialRepository {
	if db == nil {
		panic("database connection cannot be nil for GormCredentialRepository")
	}
	return &GormCredentialRepository{db: db}
}

func (r *GormCredentialRepository) FindByUsername(ctx context.Context, username string) (*authedge.Credential, error) {
	var cred authedge.Credential
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("authedge: credential for %q not found", username)
		}
		return nil, fmt.Errorf("gorm: find credential for %q: %w", username, err)
	}
	return &cred, nil
}

func (r *GormCredentialRepository) Create(ctx context.Context, cred *authedge.Credential) error {
	if err := r.db.WithContext(ctx).Create(cred).Error; err != nil {
		return fmt.Errorf("gorm: create credential for %q: %w", cred.Username, err)
	}
	return nil
}
