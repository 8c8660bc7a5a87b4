package activity

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/sdko-org/visitor-beacon/internal/database/dbtest"
	"github.com/sdko-org/visitor-beacon/internal/logging"
	"github.com/sdko-org/visitor-beacon/internal/models"
	"github.com/sdko-org/visitor-beacon/internal/plans"
	"github.com/sdko-org/visitor-beacon/internal/realtime"
	"github.com/sdko-org/visitor-beacon/internal/storage"
	"github.com/sdko-org/visitor-beacon/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var base = time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)

type brokenStorage struct{ storage.Memory }

func (*brokenStorage) Put(context.Context, string, []byte, string) error {
	return errors.New("bucket unavailable")
}

func (*brokenStorage) PutStream(context.Context, string, io.Reader, string) error {
	return errors.New("bucket unavailable")
}

func newLog(t *testing.T, db *gorm.DB, clock quartz.Clock, opts Options) (*Log, *realtime.Hub) {
	t.Helper()
	hub := realtime.NewHub(logging.Discard(), 8)
	return NewLog(logging.Discard(), db, tasks.Inline{}, hub, clock, opts), hub
}

func seed(t *testing.T, db *gorm.DB, projectID uint, n int) []models.ActivityLog {
	t.Helper()
	rows := make([]models.ActivityLog, n)
	for i := range rows {
		rows[i] = models.ActivityLog{
			ProjectID: projectID,
			Action:    models.ActionVisitorView,
			Detail:    fmt.Sprintf("seed %d", i),
			Status:    models.StatusSuccess,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
	}
	require.NoError(t, db.CreateInBatches(rows, 200).Error)
	return rows
}

func countRows(t *testing.T, db *gorm.DB, projectID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.ActivityLog{}).Where("project_id = ?", projectID).Count(&n).Error)
	return n
}

func TestAppendTrimsOldestBeyondCap(t *testing.T) {
	db := dbtest.New(t)
	project := dbtest.Project(t, db, 1, plans.Free)
	other := dbtest.Project(t, db, 2, plans.Free)
	clock := quartz.NewMock(t)
	clock.Set(base.Add(time.Hour))
	archive := storage.NewMemory()

	log, _ := newLog(t, db, clock, Options{Cap: DefaultCap, Archive: archive})
	seeded := seed(t, db, project.ID, DefaultCap)
	seed(t, db, other.ID, 5)

	_, err := log.Append(context.Background(), Entry{
		ProjectID: project.ID,
		OwnerID:   project.OwnerID,
		Action:    models.ActionVisitorNew,
		Detail:    "New visitor",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(DefaultCap), countRows(t, db, project.ID))
	assert.Equal(t, int64(5), countRows(t, db, other.ID), "other projects are untouched")

	var oldest models.ActivityLog
	require.NoError(t, db.Where("project_id = ?", project.ID).Order("created_at ASC, id ASC").First(&oldest).Error)
	assert.Equal(t, seeded[1].ID, oldest.ID)

	keys := archive.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, ArchiveKey(project.ID, clock.Now()), keys[0])

	raw, err := archive.Get(context.Background(), keys[0])
	require.NoError(t, err)
	var lines []models.ActivityLog
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var row models.ActivityLog
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		lines = append(lines, row)
	}
	require.Len(t, lines, 1)
	assert.Equal(t, seeded[0].ID, lines[0].ID)
}

func TestTrimTiesBrokenByID(t *testing.T) {
	db := dbtest.New(t)
	project := dbtest.Project(t, db, 1, plans.Free)
	clock := quartz.NewMock(t)
	clock.Set(base)

	log, _ := newLog(t, db, clock, Options{Cap: 2})
	var ids []uint
	for i := 0; i < 3; i++ {
		row, err := log.Append(context.Background(), Entry{ProjectID: project.ID, Action: models.ActionVisitorView})
		require.NoError(t, err)
		ids = append(ids, row.ID)
	}

	var left []models.ActivityLog
	require.NoError(t, db.Order("id").Find(&left).Error)
	require.Len(t, left, 2)
	assert.Equal(t, ids[1], left[0].ID)
	assert.Equal(t, ids[2], left[1].ID)
}

func TestConcurrentTrimsKeepCap(t *testing.T) {
	db := dbtest.New(t)
	project := dbtest.Project(t, db, 1, plans.Free)
	clock := quartz.NewMock(t)
	clock.Set(base.Add(time.Hour))

	log, _ := newLog(t, db, clock, Options{Cap: DefaultCap})
	seed(t, db, project.ID, DefaultCap+2)

	// A second trim runs to completion between the first trim's read and
	// its delete.
	interleaved := false
	var inner int
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:interleave", func(tx *gorm.DB) {
		if interleaved || tx.Statement.Table != "activity_logs" {
			return
		}
		interleaved = true
		n, err := log.Trim(context.Background(), project.ID)
		assert.NoError(t, err)
		inner = n
	}))

	outer, err := log.Trim(context.Background(), project.ID)
	require.NoError(t, err)
	require.True(t, interleaved)

	assert.Equal(t, 2, inner+outer)
	assert.Equal(t, int64(DefaultCap), countRows(t, db, project.ID))
}

func TestTrimKeepsRowsWhenArchiveFails(t *testing.T) {
	db := dbtest.New(t)
	project := dbtest.Project(t, db, 1, plans.Free)
	clock := quartz.NewMock(t)
	clock.Set(base)

	log, _ := newLog(t, db, clock, Options{Cap: 2, Archive: &brokenStorage{}})
	for i := 0; i < 4; i++ {
		_, err := log.Append(context.Background(), Entry{ProjectID: project.ID, Action: models.ActionVisitorView})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(4), countRows(t, db, project.ID))

	_, err := log.Trim(context.Background(), project.ID)
	require.Error(t, err)
}

func TestAppendPublishes(t *testing.T) {
	db := dbtest.New(t)
	project := dbtest.Project(t, db, 9, plans.Free)
	log, hub := newLog(t, db, quartz.NewMock(t), Options{})

	projectCh, cancelProject := hub.Subscribe(realtime.ProjectChannel(project.ID))
	defer cancelProject()
	userCh, cancelUser := hub.Subscribe(realtime.UserChannel(9))
	defer cancelUser()

	_, err := log.Append(context.Background(), Entry{
		ProjectID: project.ID,
		OwnerID:   9,
		Action:    models.ActionSecurityAlert,
		Status:    models.StatusBlocked,
		Metadata:  map[string]interface{}{"resource": "/track"},
	})
	require.NoError(t, err)

	for _, ch := range []<-chan []byte{projectCh, userCh} {
		var env realtime.Envelope
		require.NoError(t, json.Unmarshal(<-ch, &env))
		assert.Equal(t, realtime.EventActivityNew, env.Event)

		var row models.ActivityLog
		require.NoError(t, json.Unmarshal(env.Data, &row))
		assert.Equal(t, models.ActionSecurityAlert, row.Action)
		assert.Equal(t, "/track", row.Metadata["resource"])
	}
}

func TestAppendRejectsUnknownStatus(t *testing.T) {
	db := dbtest.New(t)
	log, _ := newLog(t, db, quartz.NewMock(t), Options{})

	_, err := log.Append(context.Background(), Entry{ProjectID: 1, Action: "x", Status: "maybe"})
	require.Error(t, err)
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	project := dbtest.Project(t, db, 1, plans.Free)
	clock := quartz.NewMock(t)
	clock.Set(base)
	log, _ := newLog(t, db, clock, Options{})

	add := func(action, detail, status string) {
		_, err := log.Append(ctx, Entry{ProjectID: project.ID, OwnerID: 1, Action: action, Detail: detail, Status: status})
		require.NoError(t, err)
	}
	add(models.ActionVisitorNew, "first visit", models.StatusSuccess)
	clock.Advance(15 * 24 * time.Hour)
	add(models.ActionLimitExceeded, "Monthly limit reached", models.StatusWarning)
	clock.Advance(22 * 24 * time.Hour)
	add(models.ActionSecurityAlert, "Origin evil.example blocked", models.StatusBlocked)
	clock.Advance(2 * 24 * time.Hour)
	add(models.ActionVisitorBlocked, "Project disabled", models.StatusBlocked)
	clock.Advance(time.Hour)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "all", filter: Filter{}, want: []string{models.ActionVisitorBlocked, models.ActionSecurityAlert, models.ActionLimitExceeded, models.ActionVisitorNew}},
		{name: "last 24h", filter: Filter{Days: "24h"}, want: []string{models.ActionVisitorBlocked}},
		{name: "last 7d", filter: Filter{Days: "7d"}, want: []string{models.ActionVisitorBlocked, models.ActionSecurityAlert}},
		{name: "last 30d", filter: Filter{Days: "30d"}, want: []string{models.ActionVisitorBlocked, models.ActionSecurityAlert, models.ActionLimitExceeded}},
		{name: "unknown window means all", filter: Filter{Days: "90d"}, want: []string{models.ActionVisitorBlocked, models.ActionSecurityAlert, models.ActionLimitExceeded, models.ActionVisitorNew}},
		{name: "status", filter: Filter{Type: models.StatusBlocked}, want: []string{models.ActionVisitorBlocked, models.ActionSecurityAlert}},
		{name: "search detail case-insensitively", filter: Filter{Search: "EVIL"}, want: []string{models.ActionSecurityAlert}},
		{name: "search action", filter: Filter{Search: "usage."}, want: []string{models.ActionLimitExceeded}},
		{name: "combined", filter: Filter{Search: "blocked", Type: models.StatusBlocked, Days: "24h"}, want: []string{models.ActionVisitorBlocked}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := log.Query(ctx, 1, project.ID, tt.filter)
			require.NoError(t, err)

			var got []string
			for _, row := range page.Logs {
				got = append(got, row.Action)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, int64(len(tt.want)), page.Total)
			assert.Equal(t, 1, page.Page)
		})
	}
}

func TestQueryPaging(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	project := dbtest.Project(t, db, 1, plans.Free)
	clock := quartz.NewMock(t)
	clock.Set(base)
	log, _ := newLog(t, db, clock, Options{})

	for i := 0; i < 25; i++ {
		_, err := log.Append(ctx, Entry{ProjectID: project.ID, Action: models.ActionVisitorView, Detail: fmt.Sprintf("view %d", i)})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	first, err := log.Query(ctx, 1, project.ID, Filter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, first.Logs, 10)
	assert.Equal(t, int64(25), first.Total)
	assert.Equal(t, 3, first.TotalPages)
	assert.Equal(t, "view 24", first.Logs[0].Detail)

	last, err := log.Query(ctx, 1, project.ID, Filter{Page: 3, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, last.Logs, 5)
	assert.Equal(t, "view 0", last.Logs[4].Detail)

	beyond, err := log.Query(ctx, 1, project.ID, Filter{Page: 9, Limit: 10})
	require.NoError(t, err)
	assert.NotNil(t, beyond.Logs)
	assert.Empty(t, beyond.Logs)

	huge, err := log.Query(ctx, 1, project.ID, Filter{Page: math.MaxInt, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, huge.Logs, "an overflowing offset must not wrap back to the first page")
	assert.Equal(t, 3, huge.TotalPages)

	defaults, err := log.Query(ctx, 1, project.ID, Filter{Page: -1, Limit: 0})
	require.NoError(t, err)
	assert.Len(t, defaults.Logs, DefaultLimit)
	assert.Equal(t, 1, defaults.Page)

	clamped, err := log.Query(ctx, 1, project.ID, Filter{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, clamped.TotalPages)
}

func TestQueryOwnerScoped(t *testing.T) {
	db := dbtest.New(t)
	project := dbtest.Project(t, db, 1, plans.Free)
	log, _ := newLog(t, db, quartz.NewMock(t), Options{})

	_, err := log.Query(context.Background(), 2, project.ID, Filter{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = log.Query(context.Background(), 1, project.ID+100, Filter{})
	assert.ErrorIs(t, err, ErrNotFound)
}
