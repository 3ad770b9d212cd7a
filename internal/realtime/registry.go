package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

const (
	// EventJoined acknowledges a join.
	EventJoined = "joined"
	// EventError reports a rejected client event.
	EventError = "error"
)

// ErrEmptyRecipient is returned when joining without a recipient.
var ErrEmptyRecipient = errors.New("realtime: recipient id required")

// Event is one frame pushed to a connection.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data,omitempty"`
}

// Encode renders the wire frame.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Connection is one live client attached to the registry.
type Connection interface {
	ID() string
	// Send must not block; a full or closed connection returns an error.
	Send(event Event) error
}

// Delivery counts the connections a broadcast reached.
type Delivery struct {
	Attempted int
	Failed    int
}

// Delivered is the number of connections that accepted the event.
func (d Delivery) Delivered() int {
	return d.Attempted - d.Failed
}

// Registry maps recipients to their live connections. A connection is
// associated with at most one recipient.
type Registry struct {
	mu          sync.RWMutex
	recipients  map[string]map[string]Connection
	connections map[string]string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		recipients:  make(map[string]map[string]Connection),
		connections: make(map[string]string),
	}
}

// Join binds connection to recipientID. Joining the same recipient twice is a
// no-op; joining another recipient moves the association.
func (r *Registry) Join(connection Connection, recipientID string) error {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return ErrEmptyRecipient
	}
	connectionID := connection.ID()

	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.connections[connectionID]; ok {
		if current == recipientID {
			return nil
		}
		r.detachLocked(connectionID, current)
	}
	if _, ok := r.recipients[recipientID]; !ok {
		r.recipients[recipientID] = make(map[string]Connection)
	}
	r.recipients[recipientID][connectionID] = connection
	r.connections[connectionID] = recipientID
	return nil
}

// Leave removes every association of connection. Unknown connections are ignored.
func (r *Registry) Leave(connection Connection) {
	connectionID := connection.ID()
	r.mu.Lock()
	if current, ok := r.connections[connectionID]; ok {
		r.detachLocked(connectionID, current)
	}
	r.mu.Unlock()
}

// Broadcast sends event to every connection of recipientID.
func (r *Registry) Broadcast(recipientID string, event Event) Delivery {
	r.mu.RLock()
	subscribers := r.recipients[recipientID]
	if len(subscribers) == 0 {
		r.mu.RUnlock()
		return Delivery{}
	}
	copies := make([]Connection, 0, len(subscribers))
	for _, connection := range subscribers {
		copies = append(copies, connection)
	}
	r.mu.RUnlock()
	return send(copies, event)
}

// BroadcastJoined sends event to every joined connection.
func (r *Registry) BroadcastJoined(event Event) Delivery {
	r.mu.RLock()
	copies := make([]Connection, 0, len(r.connections))
	for _, subscribers := range r.recipients {
		for _, connection := range subscribers {
			copies = append(copies, connection)
		}
	}
	r.mu.RUnlock()
	return send(copies, event)
}

// Connections returns how many connections recipientID currently has.
func (r *Registry) Connections(recipientID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.recipients[recipientID])
}

// RecipientOf returns the recipient connection is joined to.
func (r *Registry) RecipientOf(connection Connection) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recipientID, ok := r.connections[connection.ID()]
	return recipientID, ok
}

func (r *Registry) detachLocked(connectionID, recipientID string) {
	delete(r.connections, connectionID)
	subscribers := r.recipients[recipientID]
	if subscribers == nil {
		return
	}
	delete(subscribers, connectionID)
	if len(subscribers) == 0 {
		delete(r.recipients, recipientID)
	}
}

func send(connections []Connection, event Event) Delivery {
	delivery := Delivery{Attempted: len(connections)}
	for _, connection := range connections {
		if err := connection.Send(event); err != nil {
			delivery.Failed++
		}
	}
	return delivery
}
