package facade

import (
	"time"

	"go.uber.org/zap"

	"hyperion-taskctl/internal/eventbus"
)

// ConnectionFacade implements the manage_connection use cases (spec.md
// §4.10.5): health/capability introspection plus update-session
// registration. It has no repository dependency — its state is the event
// bus's own metrics and a small in-memory session registry.
type ConnectionFacade struct {
	logger   *zap.Logger
	bus      *eventbus.Bus
	sessions map[string]time.Time
}

const defaultSessionID = "default_session"

// HealthCheck reports whether the event bus is accepting work.
func (f *ConnectionFacade) HealthCheck() map[string]interface{} {
	metrics := f.bus.Metrics()
	return map[string]interface{}{
		"status":           "ok",
		"events_published": metrics.EventsPublished,
		"events_processed": metrics.EventsProcessed,
	}
}

// ServerCapabilities describes the tool catalog this server exposes.
func (f *ConnectionFacade) ServerCapabilities() map[string]interface{} {
	return map[string]interface{}{
		"tools": []string{
			"manage_task", "manage_subtask", "manage_project",
			"manage_git_branch", "manage_context", "manage_connection", "call_agent",
		},
		"transport": []string{"stdio", "http"},
	}
}

// ConnectionHealth reports per-handler event bus health, surfacing any
// handler whose error_count exceeds its call_count/2 as degraded.
func (f *ConnectionFacade) ConnectionHealth() map[string]interface{} {
	metrics := f.bus.Metrics()
	degraded := []string{}
	for name, hm := range metrics.PerHandler {
		if hm.CallCount > 0 && hm.ErrorCount*2 > hm.CallCount {
			degraded = append(degraded, name)
		}
	}
	return map[string]interface{}{
		"handler_count":    metrics.HandlerCount,
		"degraded_handlers": degraded,
	}
}

// Status is a coarse-grained liveness summary.
func (f *ConnectionFacade) Status() map[string]interface{} {
	return map[string]interface{}{"status": "running"}
}

// RegisterUpdates records that sessionID (or defaultSessionID if empty)
// wants to receive update notifications, returning the session id used.
func (f *ConnectionFacade) RegisterUpdates(sessionID string) string {
	if sessionID == "" {
		sessionID = defaultSessionID
	}
	if f.sessions == nil {
		f.sessions = map[string]time.Time{}
	}
	f.sessions[sessionID] = time.Now()
	return sessionID
}
