package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/properties"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillPropertyImages = "2025-01-15_backfill_property_images"

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
		{name: migrationBackfillPropertyImages, apply: backfillPropertyImages},
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

// backfillPropertyImages turns the legacy cover column of properties without
// image records into a primary image.
func backfillPropertyImages(db *gorm.DB) error {
	withImages := db.Model(&properties.PropertyImage{}).Select("property_id")
	var legacy []properties.Property
	err := db.Where("image_url IS NOT NULL AND image_url <> ''").
		Where("id NOT IN (?)", withImages).
		Find(&legacy).Error
	if err != nil {
		return err
	}
	if len(legacy) == 0 {
		return nil
	}

	ids := properties.NewUUIDProvider()
	return db.Transaction(func(tx *gorm.DB) error {
		for _, property := range legacy {
			imageID, err := ids.NewID()
			if err != nil {
				return err
			}
			image := properties.PropertyImage{
				ID:           imageID,
				PropertyID:   property.ID,
				ImageURL:     *property.ImageURL,
				IsPrimary:    true,
				UploadedByID: property.ManagerID,
				CreatedAt:    property.CreatedAt,
				UpdatedAt:    property.UpdatedAt,
			}
			if err := tx.Create(&image).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
