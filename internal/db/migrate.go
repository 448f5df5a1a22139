package db

import (
	"sourceradar/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.DiscoveryPattern{},
		&models.ThresholdConfig{},
		&models.ScoringModel{},
		&models.CollectionJob{},
		&models.DiscoveryEvent{},
		&models.EventSource{},
		&models.ScanState{},
		&models.SystemSetting{},
	)
}
