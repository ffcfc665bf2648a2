package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/WIREMI/wiremi-auth/internal/queue"
)

// Mailer is the narrow email collaborator the auth core depends on.
// Implementations must be fire-and-forget: Send never fails the enclosing
// operation, whatever happens downstream.
type Mailer interface {
	Send(ctx context.Context, to, template string, data map[string]string)
}

// QueueMailer publishes email requests to the message broker.
type QueueMailer struct {
	log *zap.Logger
}

func NewQueueMailer(log *zap.Logger) *QueueMailer { return &QueueMailer{log: log} }

func (m *QueueMailer) Send(ctx context.Context, to, template string, data map[string]string) {
	// Publish errors are logged inside the publisher and swallowed here.
	_ = queue.PublishEmailRequested(ctx, m.log, queue.EmailRequestedEvent{
		To:          to,
		Template:    template,
		Data:        data,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// LogMailer records email requests to the log only. Used in demo mode and
// tests where no broker is available.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer { return &LogMailer{log: log} }

func (m *LogMailer) Send(_ context.Context, to, template string, data map[string]string) {
	m.log.Info("email request (not dispatched)",
		zap.String("to", to),
		zap.String("template", template),
		zap.Any("data", data))
}
