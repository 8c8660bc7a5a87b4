package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sdko-org/visitor-beacon/internal/models"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Filter struct {
	Page   int
	Limit  int
	Search string
	// Type filters by status.
	Type string
	// Days is one of 24h, 7d, 30d or all.
	Days string
}

type Page struct {
	Logs       []models.ActivityLog `json:"logs"`
	Total      int64                `json:"total"`
	Page       int                  `json:"page"`
	TotalPages int                  `json:"totalPages"`
}

var windows = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

func (f Filter) normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit < 1:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	f.Search = strings.TrimSpace(f.Search)
	if !models.ValidStatus(f.Type) {
		f.Type = ""
	}
	if _, ok := windows[f.Days]; !ok {
		f.Days = "all"
	}
	return f
}

// Query pages through a project's log, newest first. Projects the owner does
// not hold are reported as ErrNotFound.
func (l *Log) Query(ctx context.Context, ownerID, projectID uint, f Filter) (Page, error) {
	f = f.normalized()
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()
	db := l.db.WithContext(ctx)

	var project models.Project
	err := db.Select("id").Where("id = ? AND owner_id = ?", projectID, ownerID).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Page{}, ErrNotFound
	}
	if err != nil {
		return Page{}, fmt.Errorf("load project %d: %w", projectID, err)
	}

	q := db.Model(&models.ActivityLog{}).Where("project_id = ?", projectID)
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		q = q.Where("(LOWER(action) LIKE ? OR LOWER(detail) LIKE ?)", like, like)
	}
	if f.Type != "" {
		q = q.Where("status = ?", f.Type)
	}
	if window, ok := windows[f.Days]; ok {
		q = q.Where("created_at >= ?", l.clock.Now().Add(-window))
	}

	page := Page{Page: f.Page, Logs: []models.ActivityLog{}}
	if err := q.Session(&gorm.Session{}).Count(&page.Total).Error; err != nil {
		return Page{}, fmt.Errorf("count activity: %w", err)
	}
	page.TotalPages = int((page.Total + int64(f.Limit) - 1) / int64(f.Limit))
	if f.Page > page.TotalPages {
		return page, nil
	}

	err = q.Order("created_at DESC, id DESC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&page.Logs).Error
	if err != nil {
		return Page{}, fmt.Errorf("list activity: %w", err)
	}
	return page, nil
}
