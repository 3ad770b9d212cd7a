package notifications

import (
	"time"
)

// Type enumerates what a notification is about.
type Type string

const (
	TypeAssignment   Type = "assignment"
	TypeAvailability Type = "availability"
	TypeCall         Type = "call"
	TypeEmail        Type = "email"
	TypeComment      Type = "comment"
	TypeTodo         Type = "todo"
)

// Valid reports whether t is a known notification type.
func (t Type) Valid() bool {
	switch t {
	case TypeAssignment, TypeAvailability, TypeCall, TypeEmail, TypeComment, TypeTodo:
		return true
	default:
		return false
	}
}

// Notification is an immutable fact delivered to one recipient. Only the read
// flag changes after creation.
type Notification struct {
	ID          string    `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	Type        Type      `gorm:"column:type;size:32;not null" json:"type"`
	Message     string    `gorm:"column:message;type:text;not null" json:"message"`
	EntityType  string    `gorm:"column:entity_type;size:64" json:"entity_type,omitempty"`
	EntityID    string    `gorm:"column:entity_id;size:64" json:"entity_id,omitempty"`
	RecipientID string    `gorm:"column:recipient_id;size:36;not null;index:idx_notifications_recipient_time,priority:1" json:"recipient_id"`
	Read        bool      `gorm:"column:is_read;not null;default:false" json:"read"`
	Timestamp   time.Time `gorm:"column:timestamp;not null;index:idx_notifications_recipient_time,priority:2" json:"timestamp"`
}

// TableName exposes the table backing notifications.
func (Notification) TableName() string {
	return "notifications"
}

// ListOptions filters list queries. Limit <= 0 means no limit.
type ListOptions struct {
	UnreadOnly bool
	Limit      int
}
