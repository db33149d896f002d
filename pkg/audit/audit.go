// Package audit provides AuditSink implementations: a structured-log sink, a
// Kafka publisher, and a reliable wrapper that retries terminal-event writes
// with bounded backoff so execution outcomes are durably recorded before the
// engine returns to the caller.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/base"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/logger"
)

// LogSink records audit events as structured log entries.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed audit sink.
func NewLogSink() *LogSink {
	return &LogSink{logger: logger.Get().With(zap.String("component", "audit"))}
}

// Record writes the event to the log.
func (s *LogSink) Record(_ context.Context, event core.AuditEvent) error {
	s.logger.Info("audit event",
		zap.String("type", event.Type),
		zap.String("resource", event.Resource),
		zap.String("resource_id", event.ResourceID),
		zap.String("tenant_id", event.TenantID),
		zap.String("user_id", event.UserID),
		zap.Any("details", event.Details),
		zap.Time("timestamp", event.Timestamp))
	return nil
}

// ReliableSink wraps another sink with a bounded, retried write. Terminal
// execution records must not be lost to a transient sink failure, but the
// engine also must not block indefinitely on a dead sink: after the retry
// budget is exhausted the failure is surfaced to the caller of Record.
type ReliableSink struct {
	inner   core.AuditSink
	retrier *base.Retrier
	timeout time.Duration
	logger  *zap.Logger
}

// ReliableConfig bounds the retried audit write.
type ReliableConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

// NewReliableSink wraps inner with bounded retries.
func NewReliableSink(inner core.AuditSink, cfg ReliableConfig) *ReliableSink {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &ReliableSink{
		inner: inner,
		retrier: base.NewRetrier(core.RetryPolicy{
			MaxRetries:        cfg.MaxRetries,
			BaseDelay:         cfg.BaseDelay,
			MaxDelay:          cfg.MaxDelay,
			BackoffMultiplier: 2.0,
		}),
		timeout: cfg.Timeout,
		logger:  logger.Get().With(zap.String("component", "audit_reliable")),
	}
}

// Record writes the event, retrying transient failures up to the configured
// budget. The write runs under its own deadline so a stuck sink cannot pin
// an execution forever.
func (s *ReliableSink) Record(ctx context.Context, event core.AuditEvent) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err := s.retrier.Do(writeCtx, func() error {
		return s.inner.Record(writeCtx, event)
	})
	if err != nil {
		s.logger.Error("audit write failed after retries",
			zap.String("type", event.Type),
			zap.String("resource_id", event.ResourceID),
			zap.Error(err))
	}
	return err
}
