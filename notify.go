package authcore

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// NoOpSender discards every notification.
type NoOpSender struct{}

func (NoOpSender) Send(context.Context, Notification) error { return nil }

// ChannelSender forwards notifications to a channel, useful for tests
// and for bridging into an existing mail queue.
type ChannelSender struct {
	notifications chan Notification
}

// NewChannelSender allocates a sender with the given buffer.
func NewChannelSender(buffer int) *ChannelSender {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSender{
		notifications: make(chan Notification, buffer),
	}
}

func (s *ChannelSender) Send(ctx context.Context, n Notification) error {
	select {
	case s.notifications <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notifications exposes the receiving side.
func (s *ChannelSender) Notifications() <-chan Notification {
	return s.notifications
}

// JSONWriterSender writes one JSON object per notification, one per
// line. Suited for piping into a log shipper during development.
type JSONWriterSender struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSender wraps w.
func NewJSONWriterSender(w io.Writer) *JSONWriterSender {
	return &JSONWriterSender{writer: w}
}

func (s *JSONWriterSender) Send(_ context.Context, n Notification) error {
	if s == nil || s.writer == nil {
		return nil
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	_, err = s.writer.Write([]byte("\n"))
	return err
}
