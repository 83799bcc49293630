package db

import (
	"gorm.io/gorm"

	types "github.com/artemmail/scriptor-sub002/internal/domain"
)

// AutoMigrateAll creates or updates every table the engine persists to.
func AutoMigrateAll(g *gorm.DB) error {
	if err := g.AutoMigrate(
		&types.Job{},
		&types.JobStep{},
		&types.JobSegment{},

		&types.Wallet{},
		&types.WalletTransaction{},
		&types.SubscriptionPackage{},
		&types.UsageRecord{},
		&types.PaymentOperation{},
	); err != nil {
		return err
	}
	// At most one live job per owner, kind and source. The admission pre-check
	// cannot see a concurrent uncommitted insert, so the race is settled here.
	return g.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_job_live_source
		ON job (owner_user_id, kind, source_ref)
		WHERE status <> 'error'`).Error
}

func (s *Service) AutoMigrateAll() error {
	return AutoMigrateAll(s.db)
}
