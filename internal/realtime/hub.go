package realtime

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub is the in-process Publisher used when no Redis is configured.
type Hub struct {
	logger *logrus.Entry
	buffer int

	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

type subscription struct {
	ch chan []byte
}

func NewHub(logger *logrus.Logger, buffer int) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{
		logger: logger.WithField("component", "realtime_hub"),
		buffer: buffer,
		subs:   make(map[string]map[*subscription]struct{}),
	}
}

// Subscribe returns a channel of encoded envelopes and a cancel func that
// must be called to release it.
func (h *Hub) Subscribe(channel string) (<-chan []byte, func()) {
	sub := &subscription{ch: make(chan []byte, h.buffer)}

	h.mu.Lock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*subscription]struct{})
	}
	h.subs[channel][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[channel], sub)
			if len(h.subs[channel]) == 0 {
				delete(h.subs, channel)
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

func (h *Hub) Publish(ctx context.Context, channel, event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[channel] {
		select {
		case sub.ch <- msg:
		default:
			h.logger.WithFields(logrus.Fields{
				"channel": channel,
				"event":   event,
			}).Warn("Subscriber too slow, dropping event")
		}
	}
	return nil
}
