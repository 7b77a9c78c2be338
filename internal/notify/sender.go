package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is a channel-agnostic outbound message.
type Message struct {
	Channel   Channel
	Recipient string // email address or phone number
	Subject   string // email only
	Body      string
}

// Receipt is the provider acknowledgement for a sent message.
type Receipt struct {
	MessageID string
	Provider  string
}

// Sender delivers messages through an external provider. The engine treats it
// as an opaque boundary: implementations wrap an email gateway, an SMS
// provider, or a test double.
type Sender interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
}

// MemorySender records messages in memory. Used in tests and local runs
// without provider credentials.
type MemorySender struct {
	mu   sync.Mutex
	sent []Message
}

// NewMemorySender creates an in-memory sender.
func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

func (s *MemorySender) Send(ctx context.Context, msg Message) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return &Receipt{MessageID: uuid.NewString(), Provider: "memory"}, nil
}

// Sent returns a copy of all messages delivered so far.
func (s *MemorySender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}

// LogSender writes every message to the log instead of delivering it. The
// default sender when no provider is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) (*Receipt, error) {
	id := uuid.NewString()
	s.logger.InfoContext(ctx, "outbound message",
		slog.String("channel", string(msg.Channel)),
		slog.String("recipient", msg.Recipient),
		slog.String("subject", msg.Subject),
		slog.String("message_id", id))
	return &Receipt{MessageID: id, Provider: "log"}, nil
}
