package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/talenthub/internal/crm"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeAccountEmails = "2026-10-01_normalize_account_emails"
	migrationBackfillActivityStatus = "2026-10-02_backfill_activity_status"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeAccountEmails, apply: normalizeAccountEmails},
		{name: migrationBackfillActivityStatus, apply: backfillActivityStatus},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Login lookups compare lowercase addresses.
func normalizeAccountEmails(db *gorm.DB) error {
	return db.Exec("UPDATE accounts SET email = lower(trim(email)) WHERE email <> lower(trim(email))").Error
}

func backfillActivityStatus(db *gorm.DB) error {
	return db.Model(&crm.Activity{}).
		Where("status = '' OR status IS NULL").
		Update("status", crm.ActivityStatusPending).Error
}
