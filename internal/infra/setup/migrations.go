package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"collabrun/internal/domain"
)

// MigrateDB auto-migrates every persisted table. Unlike the teacher's users/rooms
// tables, every bounded column here (join_key, user_id, state) already carries an
// explicit size tag, so the raw-SQL table-existence dance the teacher needed to dodge
// MySQL's TEXT-column-index limit is unnecessary; AutoMigrate alone is sufficient.
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	err := db.AutoMigrate(
		&domain.Room{},
		&domain.Participant{},
		&domain.Job{},
		&domain.Snapshot{},
		&domain.RoomUpdate{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate tables: %w", err)
	}
	logrus.Info("Database migration completed successfully")
	return nil
}
