package server

import (
	"context"

	"github.com/ada-ai/ada/internal/conversation"
	"github.com/ada-ai/ada/internal/supervisor"
)

// ShutdownFunc asks the daemon to stop. The gateway invokes it from the
// shutdown endpoint with a bounded context.
type ShutdownFunc func(ctx context.Context) error

// ModuleStatusProvider exposes supervised module states, in start order.
type ModuleStatusProvider interface {
	Statuses() []supervisor.ModuleStatus
}

// ConversationProvider exposes the retained dialogue for the history and
// status endpoints.
type ConversationProvider interface {
	History() []conversation.Message
	QueueDepth() int
}

// MetricsExporter renders the payload served at /metrics.
type MetricsExporter interface {
	Export() []byte
}
