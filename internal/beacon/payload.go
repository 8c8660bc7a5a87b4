package beacon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const MaxPayloadBytes = 16 << 10

var ErrInvalidPayload = errors.New("invalid beacon payload")

type Event struct {
	SessionID string `json:"sessionId,omitempty"`
	PageURL   string `json:"pageUrl"`
	Referrer  string `json:"referrer,omitempty"`
	Title     string `json:"title,omitempty"`
}

func DecodeEvent(r io.Reader) (Event, error) {
	var ev Event
	dec := json.NewDecoder(io.LimitReader(r, MaxPayloadBytes))
	if err := dec.Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	ev.SessionID = strings.TrimSpace(ev.SessionID)
	ev.PageURL = strings.TrimSpace(ev.PageURL)
	if ev.PageURL == "" {
		return Event{}, fmt.Errorf("%w: pageUrl is required", ErrInvalidPayload)
	}
	if len(ev.SessionID) > 128 {
		return Event{}, fmt.Errorf("%w: sessionId too long", ErrInvalidPayload)
	}
	return ev, nil
}
