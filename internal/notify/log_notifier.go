package notify

import (
	"context"
	"log/slog"

	"github.com/STageSub/orchestra-system-sub002/internal/core"
)

// LogNotifier is a transport stand-in that logs instead of sending. The real
// email/SMS senders live outside this service; deployments plug their own
// core.Notifier into the batcher.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a Notifier that writes sends to the log.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the notification and reports success.
func (n *LogNotifier) Send(_ context.Context, msg core.Notification) error {
	n.logger.Info("notification send",
		"recipient", msg.Recipient,
		"channel", msg.Channel,
		"template", msg.Kind,
	)
	return nil
}

var _ core.Notifier = (*LogNotifier)(nil)
