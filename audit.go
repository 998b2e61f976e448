package credcore

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit event types emitted by the engine. Internal reasons stay in event
// metadata; user-visible errors remain deliberately undifferentiated.
const (
	auditEventLoginBegin          = "login.begin"
	auditEventLoginFailure        = "login.failure"
	auditEventLoginLockout        = "login.lockout"
	auditEventMFAChallenge        = "mfa.challenge"
	auditEventMFASuccess          = "mfa.success"
	auditEventMFAFailure          = "mfa.failure"
	auditEventMFAReplay           = "mfa.replay"
	auditEventTokenIssued         = "token.issued"
	auditEventTokenConsumed       = "token.consumed"
	auditEventTokenRejected       = "token.rejected"
	auditEventPasswordChange      = "password.change"
	auditEventAppEnrollment       = "enroll.app"
	auditEventAppRevocation       = "revoke.app"
	auditEventDeviceEnrollment    = "enroll.device"
	auditEventDeviceRevocation    = "revoke.device"
	auditEventAccountStatusChange = "account.status"
)

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives [AuditEvent] values from the engine's audit
// dispatcher.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink struct{}

// Emit discards the event.
func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

// Emit sends the event to the buffered channel, dropping it if the
// context is canceled before space frees up.
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events returns the sink's receive channel.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink is an [AuditSink] that writes one JSON object per line to
// an [io.Writer].
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// Emit marshals the event and writes it followed by a newline. Marshal
// and write failures are dropped; audit output must never fail a login.
func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
