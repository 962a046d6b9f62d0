// Package notification is a thin façade over the event bus that delivers
// typed notifications with priority and expiry, replaying recent history to
// reconnecting websocket subscribers (spec.md §4.4).
package notification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hyperion-taskctl/internal/eventbus"
)

const defaultHistorySize = 200

// Notification is one delivered message, as stored in the replay ring.
type Notification struct {
	ID        string
	Type      string
	Data      interface{}
	Priority  int
	Recipient string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Service wraps an eventbus.Bus with notification semantics and a bounded
// replay ring plus websocket fan-out.
type Service struct {
	bus    *eventbus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	history []Notification

	subsMu sync.Mutex
	subs   map[string]map[*websocket.Conn]bool // recipient -> connections; "" = broadcast
}

// New constructs a notification Service backed by bus.
func New(bus *eventbus.Bus, logger *zap.Logger) *Service {
	return &Service{
		bus:    bus,
		logger: logger,
		subs:   make(map[string]map[*websocket.Conn]bool),
	}
}

// Notify publishes a notification of type typ and returns its id. recipient
// may be empty for a broadcast; expiresAt may be nil.
func (s *Service) Notify(typ string, data interface{}, priority int, recipient string, expiresAt *time.Time) (string, error) {
	n := Notification{
		ID:        uuid.NewString(),
		Type:      typ,
		Data:      data,
		Priority:  priority,
		Recipient: recipient,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}

	s.remember(n)
	s.fanOut(n)

	err := s.bus.Publish(eventbus.Event{
		Type:     "notification." + typ,
		Payload:  n,
		Priority: priority,
		UserID:   recipient,
	})
	return n.ID, err
}

func (s *Service) remember(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, n)
	if len(s.history) > defaultHistorySize {
		s.history = s.history[len(s.history)-defaultHistorySize:]
	}
}

// Replay returns notifications created since reconnection, newest last,
// filtered to recipient (or broadcasts) and still unexpired as of now.
func (s *Service) Replay(recipient string, since time.Time) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]Notification, 0, len(s.history))
	for _, n := range s.history {
		if n.CreatedAt.Before(since) {
			continue
		}
		if n.Recipient != "" && n.Recipient != recipient {
			continue
		}
		if n.ExpiresAt != nil && n.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Subscribe registers a live websocket connection for recipient ("" for
// broadcast-only delivery) so future Notify calls fan out to it.
func (s *Service) Subscribe(recipient string, conn *websocket.Conn) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.subs[recipient] == nil {
		s.subs[recipient] = make(map[*websocket.Conn]bool)
	}
	s.subs[recipient][conn] = true
}

// Unsubscribe removes conn from recipient's live fan-out set.
func (s *Service) Unsubscribe(recipient string, conn *websocket.Conn) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs[recipient], conn)
}

func (s *Service) fanOut(n Notification) {
	s.subsMu.Lock()
	targets := make([]*websocket.Conn, 0, 4)
	for conn := range s.subs[""] {
		targets = append(targets, conn)
	}
	if n.Recipient != "" {
		for conn := range s.subs[n.Recipient] {
			targets = append(targets, conn)
		}
	}
	s.subsMu.Unlock()

	for _, conn := range targets {
		if err := conn.WriteJSON(n); err != nil {
			s.logger.Debug("notification fan-out write failed", zap.Error(err))
		}
	}
}

// OnNotification registers handler to run for every notification event,
// regardless of type, at the given priority.
func (s *Service) OnNotification(ctx context.Context, handler eventbus.Handler, priority int) string {
	return s.bus.SubscribeAll(func(ctx context.Context, evt eventbus.Event) error {
		if !strings.HasPrefix(evt.Type, "notification.") {
			return nil
		}
		return handler(ctx, evt)
	}, priority)
}
