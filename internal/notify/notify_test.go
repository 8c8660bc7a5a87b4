package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/sdko-org/visitor-beacon/internal/database/dbtest"
	"github.com/sdko-org/visitor-beacon/internal/logging"
	"github.com/sdko-org/visitor-beacon/internal/models"
	"github.com/sdko-org/visitor-beacon/internal/plans"
	"github.com/sdko-org/visitor-beacon/internal/realtime"
	"github.com/sdko-org/visitor-beacon/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, string, any) error {
	return errors.New("broker down")
}

func TestAlerterPersistsAndPublishes(t *testing.T) {
	db := dbtest.New(t)
	project := dbtest.Project(t, db, 7, plans.Free)
	hub := realtime.NewHub(logging.Discard(), 4)
	ch, cancel := hub.Subscribe(realtime.UserChannel(7))
	defer cancel()

	svc := NewService(logging.Discard(), db, hub, quartz.NewMock(t))
	alerter := &Alerter{Service: svc, Tasks: tasks.Inline{}}

	alerter.Alert(project, models.NotificationUsageWarning, "Approaching monthly limit", "80% used")

	var stored []models.Notification
	require.NoError(t, db.Find(&stored).Error)
	require.Len(t, stored, 1)
	assert.Equal(t, uint(7), stored[0].UserID)
	assert.Equal(t, project.ID, stored[0].ProjectID)
	assert.Equal(t, models.NotificationUsageWarning, stored[0].Kind)
	assert.False(t, stored[0].IsRead)

	var env realtime.Envelope
	require.NoError(t, json.Unmarshal(<-ch, &env))
	assert.Equal(t, realtime.EventNewNotification, env.Event)

	var payload models.Notification
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "80% used", payload.Message)
}

func TestNotifyPublishFailureStillStores(t *testing.T) {
	db := dbtest.New(t)
	svc := NewService(logging.Discard(), db, failingPublisher{}, quartz.NewMock(t))

	err := svc.Notify(context.Background(), &models.Notification{UserID: 3, Kind: models.NotificationSecurityAlert, Title: "Blocked origin"})
	require.NoError(t, err)

	unread, err := svc.Unread(context.Background(), 3, 10)
	require.NoError(t, err)
	assert.Len(t, unread, 1)
}

func TestUnreadNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	clock := quartz.NewMock(t)
	svc := NewService(logging.Discard(), db, realtime.NewHub(logging.Discard(), 1), clock)

	for _, title := range []string{"first", "second", "third"} {
		require.NoError(t, svc.Notify(ctx, &models.Notification{UserID: 1, Kind: models.NotificationLimitReached, Title: title}))
		clock.Advance(time.Second)
	}
	require.NoError(t, db.Model(&models.Notification{}).Where("title = ?", "second").Update("is_read", true).Error)

	unread, err := svc.Unread(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, unread, 2)
	assert.Equal(t, "third", unread[0].Title)
	assert.Equal(t, "first", unread[1].Title)
}
