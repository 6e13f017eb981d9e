package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-review-api/internal/models"
)

// GormBackend stores records in the review_records table (SQLite or PostgreSQL).
type GormBackend struct {
	db *gorm.DB
}

// NewGormBackend migrates the record table and returns the backend.
func NewGormBackend(db *gorm.DB) (*GormBackend, error) {
	if err := db.AutoMigrate(&models.Record{}); err != nil {
		return nil, err
	}
	return &GormBackend{db: db}, nil
}

func (b *GormBackend) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var record models.Record
	err := b.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(record.Data), nil
}

func (b *GormBackend) List(ctx context.Context, collection string) ([][]byte, error) {
	var records []models.Record
	if err := b.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	out := make([][]byte, 0, len(records))
	for _, record := range records {
		out = append(out, []byte(record.Data))
	}
	return out, nil
}

func (b *GormBackend) Put(ctx context.Context, collection string, records map[string][]byte) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now()
	rows := make([]models.Record, 0, len(records))
	for id, data := range records {
		rows = append(rows, models.Record{
			Collection: collection,
			ID:         id,
			Data:       datatypes.JSON(data),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rows).Error
}

func (b *GormBackend) Update(ctx context.Context, collection, id string, mutate func([]byte) ([]byte, error)) ([]byte, error) {
	var next []byte
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("collection = ? AND id = ?", collection, id)
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var record models.Record
		if err := query.First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		updated, err := mutate([]byte(record.Data))
		if err != nil {
			return err
		}

		if err := tx.Model(&models.Record{}).
			Where("collection = ? AND id = ?", collection, id).
			Updates(map[string]interface{}{
				"data":       datatypes.JSON(updated),
				"updated_at": time.Now(),
			}).Error; err != nil {
			return err
		}
		next = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (b *GormBackend) Delete(ctx context.Context, collection, id string) (bool, error) {
	result := b.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		Delete(&models.Record{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

var _ Backend = (*GormBackend)(nil)
