package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sdko-org/visitor-beacon/internal/models"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("tenant not found")

type Resolver struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewResolver(db *gorm.DB, timeout time.Duration) *Resolver {
	return &Resolver{db: db, timeout: timeout}
}

func (r *Resolver) Resolve(ctx context.Context, trackingID string) (*models.Project, error) {
	if trackingID == "" {
		return nil, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var project models.Project
	err := r.db.WithContext(ctx).Where("tracking_id = ?", trackingID).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tenant %q: %w", trackingID, err)
	}
	return &project, nil
}

// ByID loads a project regardless of its active flag.
func (r *Resolver) ByID(ctx context.Context, id uint) (*models.Project, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var project models.Project
	err := r.db.WithContext(ctx).First(&project, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load project %d: %w", id, err)
	}
	return &project, nil
}
