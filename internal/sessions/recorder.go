package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/sdko-org/visitor-beacon/internal/enrich"
	"github.com/sdko-org/visitor-beacon/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Visit struct {
	ProjectID uint
	SessionID string
	IP        string
	PageURL   string
	Title     string
	Referrer  string
	Enriched  enrich.Enrichment
}

type Recorder struct {
	db      *gorm.DB
	clock   quartz.Clock
	timeout time.Duration
}

func NewRecorder(db *gorm.DB, clock quartz.Clock, timeout time.Duration) *Recorder {
	return &Recorder{db: db, clock: clock, timeout: timeout}
}

// Record upserts the visitor for the session within its project and appends
// one page view. A failed upsert means no page view row is written. The
// returned visitor's Visits counts this visit, so IsNew is true exactly once
// per session.
func (r *Recorder) Record(ctx context.Context, v Visit) (*models.Visitor, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	now := r.clock.Now()
	visitor := models.Visitor{
		ProjectID: v.ProjectID,
		SessionID: v.SessionID,
		IP:        v.IP,
		Country:   v.Enriched.Location.Country,
		City:      v.Enriched.Location.City,
		Device:    v.Enriched.Device.Type,
		Browser:   v.Enriched.Device.Browser,
		OS:        v.Enriched.Device.OS,
		LastPage:  v.PageURL,
		Referrer:  v.Referrer,
		LastSeen:  now,
		IsActive:  true,
		Visits:    1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "session_id"}},
		DoUpdates: clause.Set(append(
			clause.AssignmentColumns([]string{
				"ip", "country", "city", "device", "browser", "os",
				"last_page", "referrer", "last_seen", "is_active", "updated_at",
			}),
			clause.Assignment{Column: clause.Column{Name: "visits"}, Value: gorm.Expr("visitors.visits + 1")},
		)),
	}).Create(&visitor).Error
	if err != nil {
		return nil, fmt.Errorf("upsert visitor %q: %w", v.SessionID, err)
	}

	// The upsert does not reliably return the id of an existing row on every
	// dialect, so read the row back.
	var stored models.Visitor
	if err := db.Where("project_id = ? AND session_id = ?", v.ProjectID, v.SessionID).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("load visitor %q: %w", v.SessionID, err)
	}

	event := models.PageViewEvent{
		ProjectID: v.ProjectID,
		VisitorID: stored.ID,
		SessionID: stored.SessionID,
		PageURL:   v.PageURL,
		Title:     v.Title,
		Referrer:  v.Referrer,
		CreatedAt: now,
	}
	if err := db.Create(&event).Error; err != nil {
		return &stored, fmt.Errorf("append page view: %w", err)
	}
	return &stored, nil
}

// ActiveVisitors counts visitors seen within the idle window.
func (r *Recorder) ActiveVisitors(ctx context.Context, projectID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Visitor{}).
		Where("project_id = ? AND is_active = ?", projectID, true).
		Count(&n).Error
	return n, err
}
