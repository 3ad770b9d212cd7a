package mail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSender struct {
	mu      sync.Mutex
	sent    []Message
	fail    error
	release chan struct{}
}

func (s *recordingSender) Send(ctx context.Context, msg Message) error {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

func TestOutboxDeliversAndDrainsOnClose(t *testing.T) {
	sender := &recordingSender{}
	outbox, err := NewOutbox(OutboxConfig{Sender: sender, Workers: 3, QueueSize: 16})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, outbox.Enqueue(Message{To: "a@example.com", Subject: "hello"}))
	}
	outbox.Close()

	require.Len(t, sender.Sent(), 10)
	require.ErrorIs(t, outbox.Enqueue(Message{To: "a@example.com"}), ErrOutboxClosed)
	outbox.Close()
}

func TestOutboxRejectsWhenFull(t *testing.T) {
	sender := &recordingSender{release: make(chan struct{})}
	outbox, err := NewOutbox(OutboxConfig{Sender: sender, Workers: 1, QueueSize: 1, SendTimeout: time.Second})
	require.NoError(t, err)

	require.NoError(t, outbox.Enqueue(Message{To: "first@example.com"}))
	require.Eventually(t, func() bool {
		return len(outbox.queue) == 0
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, outbox.Enqueue(Message{To: "second@example.com"}))
	require.ErrorIs(t, outbox.Enqueue(Message{To: "third@example.com"}), ErrOutboxFull)

	close(sender.release)
	outbox.Close()
	require.Len(t, sender.Sent(), 2)
}

func TestOutboxLogsDeliveryFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sender := &recordingSender{fail: errors.New("relay refused")}
	outbox, err := NewOutbox(OutboxConfig{Sender: sender, Workers: 1, Logger: zap.New(core)})
	require.NoError(t, err)

	require.NoError(t, outbox.Enqueue(Message{To: "x@example.com", Subject: "code"}))
	outbox.Close()

	entries := logs.FilterMessage("email delivery failed").All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, "x@example.com", entries[0].ContextMap()["to"])
}

func TestOutboxValidatesInput(t *testing.T) {
	_, err := NewOutbox(OutboxConfig{})
	require.Error(t, err)

	outbox, err := NewOutbox(OutboxConfig{Sender: NewLogSender(nil)})
	require.NoError(t, err)
	defer outbox.Close()
	require.ErrorIs(t, outbox.Enqueue(Message{To: " "}), errMissingRecipient)
}
