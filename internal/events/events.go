package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventRecordCreated = "record_created"
	EventRecordUpdated = "record_updated"
	EventRecordDeleted = "record_deleted"
)

// RecordChangePayload is the minimal snapshot published when a table-store
// record changes. Data may be nil; consumers re-read the record then.
type RecordChangePayload struct {
	TableName string         `json:"table_name"`
	RecordID  string         `json:"record_id"`
	Operation string         `json:"operation"`
	Data      map[string]any `json:"data,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// Bus provides in-process pub/sub for record-change events.
type Bus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handler errors are
// swallowed: a change notification must never abort the write it follows.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *Bus) PublishJSON(eventType string, payload any) error {
	if b == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.Publish(&Event{Type: eventType, Payload: data})
	return nil
}

// PublishRecordChange maps an operation to its event type and publishes
// the change.
func (b *Bus) PublishRecordChange(payload RecordChangePayload) error {
	eventType := EventRecordUpdated
	switch payload.Operation {
	case "create":
		eventType = EventRecordCreated
	case "delete":
		eventType = EventRecordDeleted
	}
	return b.PublishJSON(eventType, payload)
}

// DecodeRecordChange unpacks a record-change event payload.
func DecodeRecordChange(event *Event) (RecordChangePayload, error) {
	var payload RecordChangePayload
	err := json.Unmarshal(event.Payload, &payload)
	return payload, err
}
