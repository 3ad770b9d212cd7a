// Package crm holds the business records whose changes produce notifications:
// consultants, clients and the activities logged against them.
package crm

import (
	"time"
)

// Availability statuses of a consultant.
const (
	AvailabilityAvailable = "available"
	AvailabilityNextMonth = "next_month"
	AvailabilityCustom    = "custom"
	AvailabilityOnMission = "on_mission"
)

// Activity types with a dedicated notification type.
const (
	ActivityCall    = "call"
	ActivityEmail   = "email"
	ActivityComment = "comment"
	ActivityMeeting = "meeting"
	ActivityTodo    = "todo"
)

const (
	ActivityStatusPending = "pending"
	ActivityStatusDone    = "done"
)

// Availability tells when a consultant can start a new mission.
type Availability struct {
	Status string     `gorm:"column:status;size:32;not null;default:available" json:"status"`
	Date   *time.Time `gorm:"column:date" json:"date"`
}

// Consultant is owned by one commercial.
type Consultant struct {
	ID           string       `gorm:"column:id;primaryKey;size:36" json:"id"`
	Name         string       `gorm:"column:name;size:200;not null" json:"name"`
	CommercialID string       `gorm:"column:commercial_id;size:36;index" json:"commercial_id"`
	Availability Availability `gorm:"embedded;embeddedPrefix:availability_" json:"availability"`
	LastActivity *time.Time   `gorm:"column:last_activity" json:"last_activity"`
	CreatedAt    time.Time    `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing consultants.
func (Consultant) TableName() string {
	return "consultants"
}

// Commercial is a sales account assigned to a client.
type Commercial struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Client is followed by any number of commercials.
type Client struct {
	ID           string       `gorm:"column:id;primaryKey;size:36" json:"id"`
	Name         string       `gorm:"column:name;size:200;not null" json:"name"`
	Commercials  []Commercial `gorm:"column:commercials;type:text;serializer:json" json:"commercials"`
	LastActivity *time.Time   `gorm:"column:last_activity" json:"last_activity"`
	CreatedAt    time.Time    `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing clients.
func (Client) TableName() string {
	return "clients"
}

// CommercialIDs returns the distinct non-empty commercial ids in order.
func (c Client) CommercialIDs() []string {
	seen := make(map[string]struct{}, len(c.Commercials))
	ids := make([]string, 0, len(c.Commercials))
	for _, commercial := range c.Commercials {
		if commercial.ID == "" {
			continue
		}
		if _, ok := seen[commercial.ID]; ok {
			continue
		}
		seen[commercial.ID] = struct{}{}
		ids = append(ids, commercial.ID)
	}
	return ids
}

// Activity is one interaction logged against a consultant or a client.
type Activity struct {
	ID             string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	Type           string    `gorm:"column:type;size:32;not null" json:"type"`
	ActorID        string    `gorm:"column:actor_id;size:36;not null" json:"actor_id"`
	ActorName      string    `gorm:"column:actor_name;size:200" json:"user"`
	Content        string    `gorm:"column:content;type:text" json:"content"`
	ConsultantID   string    `gorm:"column:consultant_id;size:36;index" json:"consultant_id,omitempty"`
	ConsultantName string    `gorm:"column:consultant_name;size:200" json:"consultant_name,omitempty"`
	ClientID       string    `gorm:"column:client_id;size:36;index" json:"client_id,omitempty"`
	ClientName     string    `gorm:"column:client_name;size:200" json:"client_name,omitempty"`
	AssigneeID     string    `gorm:"column:assignee_id;size:36" json:"assignee_id,omitempty"`
	Status         string    `gorm:"column:status;size:32;not null;default:pending" json:"status"`
	Timestamp      time.Time `gorm:"column:timestamp;not null" json:"timestamp"`
}

// TableName exposes the table backing activities.
func (Activity) TableName() string {
	return "activities"
}

// Actor is the authenticated account performing a business action.
type Actor struct {
	ID   string
	Name string
}
