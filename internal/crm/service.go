package crm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
	"github.com/MarcoPoloResearchLab/talenthub/internal/notifications"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	EventActivityCreated   = "activity:created"
	EventActivityUpdated   = "activity:updated"
	EventActivityDeleted   = "activity:deleted"
	EventConsultantCreated = "consultant:created"
	EventConsultantUpdated = "consultant:updated"
	EventClientCreated     = "client:created"
	EventClientUpdated     = "client:updated"
	EventClientDeleted     = "client:deleted"

	entityConsultant = "consultant"
	entityClient     = "client"

	reasonInvalidInput = "invalid_input"
	reasonNotFound     = "not_found"
	reasonQueryFailed  = "query_failed"
	reasonIDFailed     = "id_generation_failed"

	fieldOperation = "operation"
	fieldEvent     = "event"
	fieldEntityID  = "entity_id"
	fieldRecipient = "recipient_id"

	defaultOperationTimeout = 5 * time.Second
)

var (
	ErrActivityNotFound   = errors.New("crm: activity not found")
	ErrConsultantNotFound = errors.New("crm: consultant not found")
	ErrClientNotFound     = errors.New("crm: client not found")
)

// EventPublisher pushes entity change events to every joined connection.
type EventPublisher interface {
	PublishAll(ctx context.Context, event string, data interface{}) error
}

// ServiceConfig describes the dependencies of Service.
type ServiceConfig struct {
	Database         *gorm.DB
	Notifier         notifications.Dispatcher
	Events           EventPublisher
	Clock            func() time.Time
	IDGenerator      func() (string, error)
	OperationTimeout time.Duration
	Logger           *zap.Logger
}

// Service runs the business actions. Notification and event failures never
// fail the action; they are logged.
type Service struct {
	db       *gorm.DB
	notifier notifications.Dispatcher
	events   EventPublisher
	clock    func() time.Time
	newID    func() (string, error)
	timeout  time.Duration
	validate *validator.Validate
	logger   *zap.Logger
}

// NewService validates dependencies and applies defaults.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("crm: database connection required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("crm: notifier required")
	}
	if cfg.Events == nil {
		return nil, fmt.Errorf("crm: event publisher required")
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
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		notifier: cfg.Notifier,
		events:   cfg.Events,
		clock:    clock,
		newID:    newID,
		timeout:  timeout,
		validate: validator.New(),
		logger:   logger,
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) validateInput(op string, input interface{}) error {
	if err := s.validate.Struct(input); err != nil {
		return apperr.Validation(op, reasonInvalidInput, err)
	}
	return nil
}

func (s *Service) id(op string) (string, error) {
	id, err := s.newID()
	if err != nil {
		return "", apperr.Internal(op, reasonIDFailed, err)
	}
	return id, nil
}

func (s *Service) take(ctx context.Context, op string, target interface{}, id string, missing error) error {
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(op, reasonNotFound, missing)
	}
	if err != nil {
		return apperr.Unavailable(op, reasonQueryFailed, err)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, op, event string, data interface{}) {
	if err := s.events.PublishAll(ctx, event, data); err != nil {
		s.logger.Warn("entity event publish failed",
			zap.String(fieldOperation, op),
			zap.String(fieldEvent, event),
			zap.Error(err))
	}
}

func (s *Service) notify(ctx context.Context, op string, event notifications.Event) {
	if _, err := s.notifier.Dispatch(ctx, event); err != nil {
		s.logger.Warn("notification dispatch failed",
			zap.String(fieldOperation, op),
			zap.String(fieldRecipient, event.RecipientID),
			zap.String(fieldEntityID, event.EntityID),
			zap.Error(err))
	}
}

func (s *Service) notifyAll(ctx context.Context, op string, events []notifications.Event) {
	if len(events) == 0 {
		return
	}
	for _, outcome := range s.notifier.DispatchAll(ctx, events) {
		if outcome.Err != nil {
			s.logger.Warn("notification dispatch failed",
				zap.String(fieldOperation, op),
				zap.String(fieldRecipient, outcome.RecipientID),
				zap.Error(outcome.Err))
		}
	}
}
