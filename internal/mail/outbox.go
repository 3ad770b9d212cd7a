package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultWorkers     = 2
	defaultQueueSize   = 64
	defaultSendTimeout = 15 * time.Second
)

var (
	// ErrOutboxFull is returned when the queue has no free slot.
	ErrOutboxFull = errors.New("mail: outbox full")
	// ErrOutboxClosed is returned after Close.
	ErrOutboxClosed = errors.New("mail: outbox closed")
)

// OutboxConfig describes the asynchronous delivery queue.
type OutboxConfig struct {
	Sender      Sender
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
	Logger      *zap.Logger
}

// Outbox hands messages to a fixed pool of workers. Delivery failures are
// logged and dropped; the caller has already answered its client.
type Outbox struct {
	sender  Sender
	queue   chan Message
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewOutbox starts the worker pool.
func NewOutbox(cfg OutboxConfig) (*Outbox, error) {
	if cfg.Sender == nil {
		return nil, fmt.Errorf("mail: sender required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	outbox := &Outbox{
		sender:  cfg.Sender,
		queue:   make(chan Message, size),
		timeout: timeout,
		logger:  logger,
	}
	outbox.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go outbox.work(i)
	}
	return outbox, nil
}

// Enqueue schedules msg without blocking.
func (o *Outbox) Enqueue(msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrOutboxClosed
	}
	select {
	case o.queue <- msg:
		return nil
	default:
		o.logger.Warn("email dropped",
			zap.String("operation", "mail.enqueue"),
			zap.String("reason", "outbox_full"),
			zap.String("to", msg.To))
		return ErrOutboxFull
	}
}

// Close stops accepting messages and waits for queued ones to be sent.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Outbox) work(worker int) {
	defer o.wg.Done()
	for msg := range o.queue {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		err := o.sender.Send(ctx, msg)
		cancel()
		if err != nil {
			o.logger.Warn("email delivery failed",
				zap.String("operation", "mail.send"),
				zap.String("reason", "sender_failed"),
				zap.Int("worker", worker),
				zap.String("to", msg.To),
				zap.String("subject", msg.Subject),
				zap.Error(err))
			continue
		}
		o.logger.Debug("email delivered", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	}
}
