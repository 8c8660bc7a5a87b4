// Package realtime pushes dashboard updates to owner and project channels.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	EventVisitorUpdate   = "visitor_update"
	EventUsageUpdate     = "usage_update"
	EventActivityNew     = "activity_new"
	EventNewNotification = "new_notification"
)

func UserChannel(ownerID uint) string {
	return fmt.Sprintf("private-user-%d", ownerID)
}

func ProjectChannel(projectID uint) string {
	return fmt.Sprintf("project-%d", projectID)
}

type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Envelope is the wire shape every subscriber receives.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
