package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/HSouheill/mlm_ledger/models"
)

// AuditSink receives side effects after they commit. Implementations must not block.
type AuditSink interface {
	Record(ctx context.Context, event models.AuditEvent)
}

// LogAuditSink writes every event as a structured log line.
type LogAuditSink struct {
	logger logrus.FieldLogger
}

func NewLogAuditSink(logger logrus.FieldLogger) *LogAuditSink {
	return &LogAuditSink{logger: logger.WithField("component", "audit")}
}

func (s *LogAuditSink) Record(_ context.Context, event models.AuditEvent) {
	fields := logrus.Fields{
		"event":  event.Type,
		"userId": event.UserID,
		"at":     event.At,
	}
	if event.Reference != "" {
		fields["reference"] = event.Reference
	}
	if event.Bucket != "" {
		fields["bucket"] = event.Bucket
	}
	if !event.Amount.IsZero() {
		fields["amount"] = event.Amount.String()
	}
	for k, v := range event.Data {
		fields[k] = v
	}
	s.logger.WithFields(fields).Info("audit")
}

// MultiAuditSink fans an event out to every sink in order.
type MultiAuditSink []AuditSink

func (m MultiAuditSink) Record(ctx context.Context, event models.AuditEvent) {
	for _, sink := range m {
		if sink != nil {
			sink.Record(ctx, event)
		}
	}
}

type discardAuditSink struct{}

func (discardAuditSink) Record(context.Context, models.AuditEvent) {}
