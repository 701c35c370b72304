package core

import "context"

// Channel is the transport a notification goes out on.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// TemplateKind names the message template the external transport renders.
// The engine never knows template content.
type TemplateKind string

const (
	TemplateRequest        TemplateKind = "request"
	TemplateReminder       TemplateKind = "reminder"
	TemplateConfirmation   TemplateKind = "confirmation"
	TemplatePositionFilled TemplateKind = "position_filled"
)

// Notification is one outbound message: a recipient plus the template and
// variables the transport needs to render it.
type Notification struct {
	Recipient string
	Channel   Channel
	Kind      TemplateKind
	Variables map[string]string
}

// Notifier is the external notification transport. Send failures are
// per-recipient bookkeeping for the batcher; they never block or roll back
// the offer state transition that triggered the send.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}
