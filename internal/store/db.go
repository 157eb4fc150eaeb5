package store

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Peer is the last known view of one participant.
type Peer struct {
	ID             string `gorm:"primaryKey"`
	Account        string `gorm:"index"`
	Time           int64
	Data           map[string]any `gorm:"serializer:json"`
	Online         bool
	SeenAt         int64
	DisconnectedAt int64
}

// Snapshot is the shared state a room started with.
type Snapshot struct {
	ID          uint           `gorm:"primaryKey"`
	Fingerprint string         `gorm:"index"`
	State       map[string]any `gorm:"serializer:json"`
	CreatedAt   int64
}

func openDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases alive and shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Peer{}, &Snapshot{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return db, nil
}
