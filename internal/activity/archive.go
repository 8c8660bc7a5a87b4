package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sdko-org/visitor-beacon/internal/models"
	"github.com/sdko-org/visitor-beacon/internal/storage"
)

func ArchiveKey(projectID uint, at time.Time) string {
	return fmt.Sprintf("activity/%d/%d.jsonl", projectID, at.UnixNano())
}

func archive(ctx context.Context, store storage.Storage, projectID uint, at time.Time, rows []models.ActivityLog) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range rows {
		if err := enc.Encode(&rows[i]); err != nil {
			return fmt.Errorf("encode archived activity: %w", err)
		}
	}

	key := ArchiveKey(projectID, at)
	if err := store.Put(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return fmt.Errorf("archive activity to %s: %w", key, err)
	}
	return nil
}
