package notifications

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// EventNotificationNew is the push event carrying a new record.
	EventNotificationNew = "notification:new"

	opDispatch = "notifications.dispatch"
	opPush     = "notifications.push"

	reasonInvalidType  = "invalid_type"
	reasonIDFailed     = "id_generation_failed"
	reasonPersistError = "persist_failed"
	reasonPushFailed   = "push_failed"

	fieldOperation   = "operation"
	fieldReason      = "reason"
	fieldRecipientID = "recipient_id"
	fieldType        = "type"

	defaultPushTimeout = 2 * time.Second
	defaultFanOutLimit = 8
)

// Event describes a notification to create on behalf of ActorID.
type Event struct {
	Type        Type
	Message     string
	EntityType  string
	EntityID    string
	RecipientID string
	ActorID     string
}

// Outcome is the result of one recipient in DispatchAll. Notification is nil
// when the event was suppressed or failed.
type Outcome struct {
	RecipientID  string
	Notification *Notification
	Err          error
}

// Dispatcher creates notification records and pushes them to live connections.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) (*Notification, error)
	DispatchAll(ctx context.Context, events []Event) []Outcome
}

// Pusher delivers an event to the live connections of a recipient.
type Pusher interface {
	Publish(ctx context.Context, recipientID, event string, data interface{}) error
}

// Recorder persists notification records.
type Recorder interface {
	Create(ctx context.Context, notification *Notification) error
}

// ServiceConfig describes the dependencies of Service.
type ServiceConfig struct {
	Store       Recorder
	Pusher      Pusher
	Clock       func() time.Time
	IDGenerator func() (string, error)
	PushTimeout time.Duration
	FanOutLimit int
	Logger      *zap.Logger
}

// Service is the Dispatcher backed by a Recorder and a Pusher.
type Service struct {
	store       Recorder
	pusher      Pusher
	clock       func() time.Time
	newID       func() (string, error)
	pushTimeout time.Duration
	fanOutLimit int
	logger      *zap.Logger

	timeMu sync.Mutex
	last   time.Time

	pushes sync.WaitGroup
}

// NewService validates dependencies and applies defaults.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("notifications: store required")
	}
	if cfg.Pusher == nil {
		return nil, fmt.Errorf("notifications: pusher required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.IDGenerator
	if newID == nil {
		newID = func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}
	}
	pushTimeout := cfg.PushTimeout
	if pushTimeout <= 0 {
		pushTimeout = defaultPushTimeout
	}
	limit := cfg.FanOutLimit
	if limit <= 0 {
		limit = defaultFanOutLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       cfg.Store,
		pusher:      cfg.Pusher,
		clock:       clock,
		newID:       newID,
		pushTimeout: pushTimeout,
		fanOutLimit: limit,
		logger:      logger,
	}, nil
}

// Dispatch persists the record and schedules its push. It returns nil without
// error when the recipient is empty or is the actor.
func (s *Service) Dispatch(ctx context.Context, event Event) (*Notification, error) {
	recipientID := strings.TrimSpace(event.RecipientID)
	if recipientID == "" || recipientID == strings.TrimSpace(event.ActorID) {
		return nil, nil
	}
	if !event.Type.Valid() {
		return nil, apperr.Validation(opDispatch, reasonInvalidType, fmt.Errorf("notifications: unknown type %q", string(event.Type)))
	}
	id, err := s.newID()
	if err != nil {
		return nil, apperr.Internal(opDispatch, reasonIDFailed, err)
	}

	notification := &Notification{
		ID:          id,
		Type:        event.Type,
		Message:     event.Message,
		EntityType:  event.EntityType,
		EntityID:    event.EntityID,
		RecipientID: recipientID,
		Timestamp:   s.nextTimestamp(),
	}
	if err := s.store.Create(ctx, notification); err != nil {
		s.logger.Error("notification persist failed",
			zap.String(fieldOperation, opDispatch),
			zap.String(fieldReason, reasonPersistError),
			zap.String(fieldRecipientID, recipientID),
			zap.String(fieldType, string(event.Type)),
			zap.Error(err))
		if apperr.KindOf(err) == apperr.KindInternal {
			return nil, apperr.Unavailable(opDispatch, reasonPersistError, err)
		}
		return nil, err
	}

	s.push(*notification)
	return notification, nil
}

// DispatchAll runs one isolated Dispatch per event. A failure for one
// recipient never prevents the others.
func (s *Service) DispatchAll(ctx context.Context, events []Event) []Outcome {
	outcomes := make([]Outcome, len(events))
	var group errgroup.Group
	group.SetLimit(s.fanOutLimit)
	for index, event := range events {
		group.Go(func() error {
			notification, err := s.Dispatch(ctx, event)
			outcomes[index] = Outcome{RecipientID: event.RecipientID, Notification: notification, Err: err}
			return nil
		})
	}
	_ = group.Wait()
	return outcomes
}

// Wait blocks until scheduled pushes have finished.
func (s *Service) Wait() {
	s.pushes.Wait()
}

func (s *Service) push(notification Notification) {
	s.pushes.Add(1)
	go func() {
		defer s.pushes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.pushTimeout)
		defer cancel()
		if err := s.pusher.Publish(ctx, notification.RecipientID, EventNotificationNew, notification); err != nil {
			s.logger.Warn("notification push failed",
				zap.String(fieldOperation, opPush),
				zap.String(fieldReason, reasonPushFailed),
				zap.String(fieldRecipientID, notification.RecipientID),
				zap.Error(err))
		}
	}()
}

// nextTimestamp never returns a value at or before the previous one.
func (s *Service) nextTimestamp() time.Time {
	s.timeMu.Lock()
	defer s.timeMu.Unlock()
	now := s.clock().UTC()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}
