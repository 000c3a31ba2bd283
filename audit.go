package clinicauth

import (
	"context"
	"io"

	"github.com/MrEthical07/clinicauth/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security event. Events with a tenant id are persisted
// to security_events.
type AuditEvent = audit.Event

// AuditSink receives security events from the dispatcher goroutine.
type AuditSink = audit.Sink

// Severity grades an AuditEvent.
type Severity = audit.Severity

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	ZapSink        = audit.ZapSink
	MultiSink      = audit.MultiSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapSink logs events through logger, at warn level for high severity.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return audit.NewZapSink(logger)
}

// emitAudit stamps ev and hands it to the dispatcher. It never blocks the
// request beyond the dispatcher's own policy.
func (e *Engine) emitAudit(ctx context.Context, ev AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = audit.SeverityInfo
	}
	e.audit.Emit(ctx, ev)
}

// AuditDropped reports how many events the dispatcher discarded because its
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}
