// Package activity keeps the bounded per-project audit trail.
package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/sdko-org/visitor-beacon/internal/models"
	"github.com/sdko-org/visitor-beacon/internal/realtime"
	"github.com/sdko-org/visitor-beacon/internal/storage"
	"github.com/sdko-org/visitor-beacon/internal/tasks"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("project not found")

// DefaultCap is the number of live rows kept per project.
const DefaultCap = 1000

type Entry struct {
	ProjectID uint
	OwnerID   uint
	ActorID   *uint
	Action    string
	Detail    string
	Status    string
	IP        string
	Metadata  map[string]interface{}
}

type Options struct {
	Cap     int
	Timeout time.Duration
	// Archive receives trimmed rows before they are deleted. Nil disables
	// archiving.
	Archive storage.Storage
}

type Log struct {
	logger    *logrus.Entry
	db        *gorm.DB
	tasks     tasks.Dispatcher
	publisher realtime.Publisher
	clock     quartz.Clock
	opts      Options
}

func NewLog(logger *logrus.Logger, db *gorm.DB, dispatcher tasks.Dispatcher, publisher realtime.Publisher, clock quartz.Clock, opts Options) *Log {
	if opts.Cap <= 0 {
		opts.Cap = DefaultCap
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &Log{
		logger:    logger.WithField("component", "activity_log"),
		db:        db,
		tasks:     dispatcher,
		publisher: publisher,
		clock:     clock,
		opts:      opts,
	}
}

// Append writes the entry, then queues the trim and the realtime push. Only
// the insert is synchronous.
func (l *Log) Append(ctx context.Context, e Entry) (*models.ActivityLog, error) {
	if e.Status == "" {
		e.Status = models.StatusSuccess
	}
	if !models.ValidStatus(e.Status) {
		return nil, fmt.Errorf("invalid activity status %q", e.Status)
	}

	row := &models.ActivityLog{
		ProjectID: e.ProjectID,
		ActorID:   e.ActorID,
		Action:    e.Action,
		Detail:    e.Detail,
		Status:    e.Status,
		IP:        e.IP,
		Metadata:  datatypes.JSONMap(e.Metadata),
		CreatedAt: l.clock.Now(),
	}

	insertCtx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()
	if err := l.db.WithContext(insertCtx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("append activity: %w", err)
	}

	l.tasks.Dispatch("activity.trim", func(ctx context.Context) error {
		_, err := l.Trim(ctx, row.ProjectID)
		return err
	})
	l.tasks.Dispatch("activity.publish", func(ctx context.Context) error {
		return errors.Join(
			l.publisher.Publish(ctx, realtime.ProjectChannel(row.ProjectID), realtime.EventActivityNew, row),
			l.publisher.Publish(ctx, realtime.UserChannel(e.OwnerID), realtime.EventActivityNew, row),
		)
	})

	return row, nil
}

// Trim deletes every row older than the newest Cap rows. Rows are archived
// first when an archive is configured; a failed archive leaves them in place
// for the next trim. Concurrent trims select overlapping victims, so the log
// never drops below the cap.
func (l *Log) Trim(ctx context.Context, projectID uint) (int, error) {
	db := l.db.WithContext(ctx)

	newest := db.Model(&models.ActivityLog{}).
		Select("id").
		Where("project_id = ?", projectID).
		Order("created_at DESC, id DESC").
		Limit(l.opts.Cap)

	var victims []models.ActivityLog
	err := db.Where("project_id = ? AND id NOT IN (?)", projectID, newest).
		Order("created_at ASC, id ASC").
		Find(&victims).Error
	if err != nil {
		return 0, fmt.Errorf("select trimmed activity: %w", err)
	}
	if len(victims) == 0 {
		return 0, nil
	}

	if l.opts.Archive != nil {
		if err := archive(ctx, l.opts.Archive, projectID, l.clock.Now(), victims); err != nil {
			return 0, err
		}
	}

	ids := make([]uint, len(victims))
	for i, v := range victims {
		ids[i] = v.ID
	}
	res := db.Where("id IN ?", ids).Delete(&models.ActivityLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete trimmed activity: %w", res.Error)
	}

	l.logger.WithFields(logrus.Fields{
		"project_id": projectID,
		"trimmed":    res.RowsAffected,
	}).Debug("Trimmed activity log")
	return int(res.RowsAffected), nil
}
