package sessions

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"github.com/sdko-org/visitor-beacon/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Reaper flips visitors that went quiet to inactive so "live" dashboards only
// count current sessions.
type Reaper struct {
	logger      *logrus.Logger
	db          *gorm.DB
	clock       quartz.Clock
	idleTimeout time.Duration
	interval    time.Duration
}

func NewReaper(logger *logrus.Logger, db *gorm.DB, clock quartz.Clock, idleTimeout time.Duration) *Reaper {
	interval := idleTimeout / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Reaper{
		logger:      logger,
		db:          db,
		clock:       clock,
		idleTimeout: idleTimeout,
		interval:    interval,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval, "sessions", "reaper")
	defer ticker.Stop()

	logEntry := r.logger.WithField("component", "session_reaper")
	logEntry.Info("Starting session reaper")

	for {
		select {
		case <-ticker.C:
			if _, err := r.Reap(ctx); err != nil {
				logEntry.WithError(err).Error("Session reap failed")
			}
		case <-ctx.Done():
			logEntry.Info("Stopping session reaper")
			return
		}
	}
}

func (r *Reaper) Reap(ctx context.Context) (int64, error) {
	cutoff := r.clock.Now().Add(-r.idleTimeout)
	res := r.db.WithContext(ctx).
		Model(&models.Visitor{}).
		Where("is_active = ? AND last_seen < ?", true, cutoff).
		Update("is_active", false)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.logger.WithFields(logrus.Fields{
			"component": "session_reaper",
			"count":     res.RowsAffected,
		}).Debug("Marked idle visitors inactive")
	}
	return res.RowsAffected, nil
}
