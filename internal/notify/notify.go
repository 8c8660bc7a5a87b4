// Package notify stores owner notifications and pushes them to the owner's
// realtime channel.
package notify

import (
	"context"
	"fmt"

	"github.com/coder/quartz"
	"github.com/sdko-org/visitor-beacon/internal/models"
	"github.com/sdko-org/visitor-beacon/internal/realtime"
	"github.com/sdko-org/visitor-beacon/internal/tasks"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Service struct {
	logger    *logrus.Entry
	db        *gorm.DB
	publisher realtime.Publisher
	clock     quartz.Clock
}

func NewService(logger *logrus.Logger, db *gorm.DB, publisher realtime.Publisher, clock quartz.Clock) *Service {
	return &Service{
		logger:    logger.WithField("component", "notify"),
		db:        db,
		publisher: publisher,
		clock:     clock,
	}
}

// Notify persists n and publishes it. A failed publish is logged; the stored
// row is what the dashboard falls back to.
func (s *Service) Notify(ctx context.Context, n *models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock.Now()
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("save notification: %w", err)
	}

	if err := s.publisher.Publish(ctx, realtime.UserChannel(n.UserID), realtime.EventNewNotification, n); err != nil {
		s.logger.WithFields(logrus.Fields{
			"user_id": n.UserID,
			"kind":    n.Kind,
		}).WithError(err).Warn("Failed to publish notification")
	}
	return nil
}

// Unread lists notifications the owner has not read yet, newest first.
func (s *Service) Unread(ctx context.Context, userID uint, limit int) ([]models.Notification, error) {
	var out []models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_read = ?", userID, false).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Alerter turns quota and security notices into queued Notify calls so the
// request path never waits on them.
type Alerter struct {
	Service *Service
	Tasks   tasks.Dispatcher
}

func (a *Alerter) Alert(project *models.Project, kind, title, message string) {
	n := &models.Notification{
		UserID:    project.OwnerID,
		ProjectID: project.ID,
		Kind:      kind,
		Title:     title,
		Message:   message,
	}
	a.Tasks.Dispatch("notify."+kind, func(ctx context.Context) error {
		return a.Service.Notify(ctx, n)
	})
}
