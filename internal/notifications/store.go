// Package notifications persists per-recipient notification records and
// dispatches new ones to live connections.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
	"gorm.io/gorm"
)

const (
	opStoreCreate      = "notifications.create"
	opStoreGet         = "notifications.get"
	opStoreList        = "notifications.list"
	opStoreCountUnread = "notifications.count_unread"
	opStoreMarkRead    = "notifications.mark_read"
	opStoreMarkAllRead = "notifications.mark_all_read"
	opStoreClear       = "notifications.clear"

	reasonQueryFailed   = "query_failed"
	reasonNotFound      = "notification_not_found"
	reasonMissingFields = "missing_fields"

	columnRecipientID = "recipient_id"
	columnRead        = "is_read"
	orderNewestFirst  = "timestamp DESC, id DESC"

	defaultStoreTimeout = 3 * time.Second
)

// ErrNotificationNotFound indicates no record matched the id (and recipient, when scoped).
var ErrNotificationNotFound = errors.New("notifications: notification not found")

// StoreConfig describes the dependencies of Store.
type StoreConfig struct {
	Database         *gorm.DB
	OperationTimeout time.Duration
}

// Store is the durable notification log.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewStore validates dependencies and applies defaults.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("notifications: database connection required")
	}
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Store{db: cfg.Database, timeout: timeout}, nil
}

// Create appends a record.
func (s *Store) Create(ctx context.Context, notification *Notification) error {
	if notification == nil || notification.ID == "" || strings.TrimSpace(notification.RecipientID) == "" || !notification.Type.Valid() {
		return apperr.Validation(opStoreCreate, reasonMissingFields, nil)
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.WithContext(opCtx).Create(notification).Error; err != nil {
		return apperr.Unavailable(opStoreCreate, reasonQueryFailed, err)
	}
	return nil
}

// Get returns the record with id.
func (s *Store) Get(ctx context.Context, id string) (Notification, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var notification Notification
	err := s.db.WithContext(opCtx).Where("id = ?", id).Take(&notification).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Notification{}, apperr.NotFound(opStoreGet, reasonNotFound, ErrNotificationNotFound)
	}
	if err != nil {
		return Notification{}, apperr.Unavailable(opStoreGet, reasonQueryFailed, err)
	}
	return notification, nil
}

// ListAll returns every record, newest first.
func (s *Store) ListAll(ctx context.Context, options ListOptions) ([]Notification, error) {
	return s.list(ctx, "", options)
}

// ListByRecipient returns the records of recipientID, newest first.
func (s *Store) ListByRecipient(ctx context.Context, recipientID string, options ListOptions) ([]Notification, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, apperr.Validation(opStoreList, reasonMissingFields, nil)
	}
	return s.list(ctx, recipientID, options)
}

func (s *Store) list(ctx context.Context, recipientID string, options ListOptions) ([]Notification, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := s.db.WithContext(opCtx).Model(&Notification{})
	if recipientID != "" {
		query = query.Where(columnRecipientID+" = ?", recipientID)
	}
	if options.UnreadOnly {
		query = query.Where(columnRead+" = ?", false)
	}
	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}
	notifications := make([]Notification, 0)
	if err := query.Order(orderNewestFirst).Find(&notifications).Error; err != nil {
		return nil, apperr.Unavailable(opStoreList, reasonQueryFailed, err)
	}
	return notifications, nil
}

// CountUnread returns how many records of recipientID are unread.
func (s *Store) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var count int64
	err := s.db.WithContext(opCtx).Model(&Notification{}).
		Where(columnRecipientID+" = ? AND "+columnRead+" = ?", recipientID, false).
		Count(&count).Error
	if err != nil {
		return 0, apperr.Unavailable(opStoreCountUnread, reasonQueryFailed, err)
	}
	return count, nil
}

// MarkRead flags one record of recipientID as read and returns it.
func (s *Store) MarkRead(ctx context.Context, id, recipientID string) (Notification, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var notification Notification
	err := s.db.WithContext(opCtx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND "+columnRecipientID+" = ?", id, recipientID).Take(&notification).Error; err != nil {
			return err
		}
		if notification.Read {
			return nil
		}
		notification.Read = true
		return tx.Model(&Notification{}).Where("id = ?", id).Update(columnRead, true).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Notification{}, apperr.NotFound(opStoreMarkRead, reasonNotFound, ErrNotificationNotFound)
	}
	if err != nil {
		return Notification{}, apperr.Unavailable(opStoreMarkRead, reasonQueryFailed, err)
	}
	return notification, nil
}

// MarkAllRead flags every unread record of recipientID. Applying it twice is a no-op.
func (s *Store) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result := s.db.WithContext(opCtx).Model(&Notification{}).
		Where(columnRecipientID+" = ? AND "+columnRead+" = ?", recipientID, false).
		Update(columnRead, true)
	if result.Error != nil {
		return 0, apperr.Unavailable(opStoreMarkAllRead, reasonQueryFailed, result.Error)
	}
	return result.RowsAffected, nil
}

// Clear deletes every record of recipientID.
func (s *Store) Clear(ctx context.Context, recipientID string) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result := s.db.WithContext(opCtx).Where(columnRecipientID+" = ?", recipientID).Delete(&Notification{})
	if result.Error != nil {
		return 0, apperr.Unavailable(opStoreClear, reasonQueryFailed, result.Error)
	}
	return result.RowsAffected, nil
}
