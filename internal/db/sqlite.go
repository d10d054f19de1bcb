// Package db is the gorm-backed persistence layer: schema, account repository and
// application settings.
package db

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pysugar/app-portal/internal/db/models"
	"github.com/pysugar/app-portal/internal/logging"
)

const sessionSecretKey = "session_secret"

// InitDB opens the SQLite database at dbPath and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dbPath, err)
	}

	if err := Migrate(db); err != nil {
		Close(db)
		return nil, err
	}

	if err := ensureSessionSecret(db); err != nil {
		Close(db)
		return nil, err
	}

	return db, nil
}

// Close releases the connection pool behind db. A nil db is a no-op.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates or updates every table the portal uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Account{}, &models.APIKey{}, &models.Config{}, &models.AuditEvent{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// ensureSessionSecret generates the token signing secret on first run.
func ensureSessionSecret(db *gorm.DB) error {
	var config models.Config
	err := db.Where("key = ?", sessionSecretKey).First(&config).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("load session secret: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate session secret: %w", err)
	}
	if err := db.Create(&models.Config{Key: sessionSecretKey, Value: hex.EncodeToString(secret)}).Error; err != nil {
		return fmt.Errorf("store session secret: %w", err)
	}
	logging.For("DB").Info("generated new session signing secret")
	return nil
}

// GetSessionSecret returns the persisted token signing secret.
func GetSessionSecret(db *gorm.DB) ([]byte, error) {
	var config models.Config
	if err := db.Where("key = ?", sessionSecretKey).First(&config).Error; err != nil {
		return nil, fmt.Errorf("load session secret: %w", err)
	}
	return hex.DecodeString(config.Value)
}
