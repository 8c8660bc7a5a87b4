package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/sdko-org/visitor-beacon/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Incrementer bumps a project's lifetime view counter by one.
type Incrementer interface {
	Increment(ctx context.Context, projectID uint) error
}

// AtomicIncrementer lets the store do the arithmetic, so concurrent writers
// never lose an update.
type AtomicIncrementer struct {
	db *gorm.DB
}

func NewAtomicIncrementer(db *gorm.DB) *AtomicIncrementer {
	return &AtomicIncrementer{db: db}
}

func (a *AtomicIncrementer) Increment(ctx context.Context, projectID uint) error {
	res := a.db.WithContext(ctx).
		Model(&models.UsageCounter{}).
		Where("project_id = ?", projectID).
		UpdateColumn("count", gorm.Expr("count + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("atomic increment: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// Projects created outside NewProject have no counter row yet.
	err := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "project_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count": gorm.Expr("usage_counters.count + 1"),
			}),
		}).
		Create(&models.UsageCounter{ProjectID: projectID, Count: 1}).Error
	if err != nil {
		return fmt.Errorf("create counter: %w", err)
	}
	return nil
}

// ReadWriteIncrementer reads the counter and writes it back plus one.
// Concurrent writers can lose increments; it only exists for stores without
// an atomic update path.
type ReadWriteIncrementer struct {
	db *gorm.DB
}

func NewReadWriteIncrementer(db *gorm.DB) *ReadWriteIncrementer {
	return &ReadWriteIncrementer{db: db}
}

func (r *ReadWriteIncrementer) Increment(ctx context.Context, projectID uint) error {
	db := r.db.WithContext(ctx)

	var counter models.UsageCounter
	err := db.Where("project_id = ?", projectID).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := db.Create(&models.UsageCounter{ProjectID: projectID, Count: 1}).Error; err != nil {
			return fmt.Errorf("create counter: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read counter: %w", err)
	}

	if err := db.Model(&counter).Update("count", counter.Count+1).Error; err != nil {
		return fmt.Errorf("write counter: %w", err)
	}
	return nil
}

// FallbackIncrementer tries Primary and, when it fails, Fallback.
type FallbackIncrementer struct {
	Primary  Incrementer
	Fallback Incrementer
	Log      *logrus.Entry
}

func (f *FallbackIncrementer) Increment(ctx context.Context, projectID uint) error {
	err := f.Primary.Increment(ctx, projectID)
	if err == nil {
		return nil
	}
	if f.Log != nil {
		f.Log.WithFields(logrus.Fields{
			"project_id": projectID,
			"error":      err,
		}).Warn("Atomic counter increment failed, falling back to read-then-write")
	}
	return f.Fallback.Increment(ctx, projectID)
}
