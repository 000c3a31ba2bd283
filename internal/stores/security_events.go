package stores

import (
	"context"
	"fmt"

	"github.com/MrEthical07/clinicauth/internal/audit"
	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// SecurityEventStore appends security events. As an audit.Sink it runs on
// the dispatcher goroutine, so write failures are logged rather than
// returned.
type SecurityEventStore struct {
	db     tenant.DB
	logger *zap.Logger
}

func NewSecurityEventStore(db tenant.DB, logger *zap.Logger) *SecurityEventStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityEventStore{db: db, logger: logger}
}

// Record appends one event under its own tenant.
func (s *SecurityEventStore) Record(ctx context.Context, ev audit.Event) error {
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	var userID any
	if ev.UserID != "" {
		userID = ev.UserID
	}
	return tenant.InTxFor(ctx, s.db, ev.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO security_events (tenant_id, user_id, event_type, severity, description, ip_address, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`,
			ev.TenantID, userID, ev.EventType, string(ev.Severity), ev.Description, ev.IP, meta, ev.Timestamp)
		if err != nil {
			return fmt.Errorf("insert security event: %w", err)
		}
		return nil
	})
}

// Emit implements audit.Sink. Events without a tenant cannot pass row-level
// security and are only logged.
func (s *SecurityEventStore) Emit(ctx context.Context, ev audit.Event) {
	if ev.TenantID == "" {
		s.logger.Debug("security event without tenant not persisted", zap.String("event_type", ev.EventType))
		return
	}
	if err := s.Record(ctx, ev); err != nil {
		s.logger.Warn("persist security event failed",
			zap.String("event_type", ev.EventType),
			zap.String("tenant_id", ev.TenantID),
			zap.Error(err))
	}
}
