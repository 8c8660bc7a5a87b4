package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/sdko-org/visitor-beacon/internal/models"
	"github.com/sdko-org/visitor-beacon/internal/plans"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AvgRowBytes is the storage estimate charged per visitor or page view row.
const AvgRowBytes int64 = 512

type Summary struct {
	ProjectID    uint   `json:"project_id"`
	Plan         string `json:"plan"`
	Month        string `json:"month"`
	TotalViews   int64  `json:"total_views"`
	MonthlyViews int64  `json:"monthly_views"`
	MonthlyLimit int64  `json:"monthly_limit"`
	StorageBytes int64  `json:"storage_bytes"`
	StorageLimit int64  `json:"storage_limit"`
}

func (s Summary) MonthlyPercent() float64 {
	if s.MonthlyLimit <= 0 {
		return 0
	}
	return float64(s.MonthlyViews) * 100 / float64(s.MonthlyLimit)
}

type Aggregator struct {
	db      *gorm.DB
	counter Incrementer
	clock   quartz.Clock
	timeout time.Duration
}

func NewAggregator(db *gorm.DB, counter Incrementer, clock quartz.Clock, timeout time.Duration) *Aggregator {
	return &Aggregator{db: db, counter: counter, clock: clock, timeout: timeout}
}

func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func (a *Aggregator) CurrentMonth() string {
	return MonthKey(a.clock.Now())
}

// RecordView bumps the lifetime and the current month counters. The two
// writes are independent; a failure in one does not undo the other.
func (a *Aggregator) RecordView(ctx context.Context, projectID uint) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var errs []error
	if err := a.counter.Increment(ctx, projectID); err != nil {
		errs = append(errs, fmt.Errorf("total counter: %w", err))
	}
	if err := a.incrementMonthly(ctx, projectID, a.CurrentMonth()); err != nil {
		errs = append(errs, fmt.Errorf("monthly counter: %w", err))
	}
	return errors.Join(errs...)
}

func (a *Aggregator) incrementMonthly(ctx context.Context, projectID uint, month string) error {
	now := a.clock.Now()
	return a.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "project_id"}, {Name: "month"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"views":      gorm.Expr("usage_records.views + 1"),
				"updated_at": now,
			}),
		}).
		Create(&models.UsageRecord{ProjectID: projectID, Month: month, Views: 1, UpdatedAt: now}).Error
}

func (a *Aggregator) TotalViews(ctx context.Context, projectID uint) (int64, error) {
	var counter models.UsageCounter
	err := a.db.WithContext(ctx).Where("project_id = ?", projectID).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return counter.Count, nil
}

func (a *Aggregator) MonthlyViews(ctx context.Context, projectID uint, month string) (int64, error) {
	var record models.UsageRecord
	err := a.db.WithContext(ctx).Where("project_id = ? AND month = ?", projectID, month).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return record.Views, nil
}

// StorageBytes estimates the footprint of a project's visitor and page view
// rows.
func (a *Aggregator) StorageBytes(ctx context.Context, projectID uint) (int64, error) {
	var visitors, events int64
	db := a.db.WithContext(ctx)
	if err := db.Model(&models.Visitor{}).Where("project_id = ?", projectID).Count(&visitors).Error; err != nil {
		return 0, err
	}
	if err := db.Model(&models.PageViewEvent{}).Where("project_id = ?", projectID).Count(&events).Error; err != nil {
		return 0, err
	}
	return (visitors + events) * AvgRowBytes, nil
}

func (a *Aggregator) Summary(ctx context.Context, project *models.Project) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	plan := plans.Lookup(project.Plan)
	s := Summary{
		ProjectID:    project.ID,
		Plan:         plan.Name,
		Month:        a.CurrentMonth(),
		MonthlyLimit: plan.MonthlyViews,
		StorageLimit: plan.StorageLimit,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := a.TotalViews(gctx, project.ID)
		s.TotalViews = v
		return err
	})
	g.Go(func() error {
		v, err := a.MonthlyViews(gctx, project.ID, s.Month)
		s.MonthlyViews = v
		return err
	})
	g.Go(func() error {
		v, err := a.StorageBytes(gctx, project.ID)
		s.StorageBytes = v
		return err
	})
	if err := g.Wait(); err != nil {
		return s, fmt.Errorf("usage summary for project %d: %w", project.ID, err)
	}
	return s, nil
}
