// Package shared contains common domain types, errors and events
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Profile writers publish these explicitly so that the
// match cache is superseded by a named call rather than a storage hook.
const (
	// Profile events
	EventProfileUpdated EventType = "profile.updated"
	EventProfileDeleted EventType = "profile.deleted"

	// Catalog events
	EventCatalogUpdated EventType = "catalog.updated"

	// Matching events
	EventMatchesPrecomputed EventType = "matching.precomputed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Profile Events
// ═══════════════════════════════════════════════════════════════════════════

// ProfileUpdatedEvent is emitted by the profile writer after a transcript or
// preference change has been committed.
type ProfileUpdatedEvent struct {
	BaseEvent
	StudentID string   `json:"student_id"`
	Fields    []string `json:"fields,omitempty"` // e.g. "transcript", "preferences"
}

// NewProfileUpdatedEvent creates a new ProfileUpdatedEvent.
func NewProfileUpdatedEvent(studentID string, fields ...string) ProfileUpdatedEvent {
	return ProfileUpdatedEvent{
		BaseEvent: NewBaseEvent(EventProfileUpdated, studentID),
		StudentID: studentID,
		Fields:    fields,
	}
}

// Payload implements Event interface.
func (e ProfileUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"fields":     e.Fields,
	}
}

// ProfileDeletedEvent is emitted when a student profile is removed.
type ProfileDeletedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
}

// NewProfileDeletedEvent creates a new ProfileDeletedEvent.
func NewProfileDeletedEvent(studentID string) ProfileDeletedEvent {
	return ProfileDeletedEvent{
		BaseEvent: NewBaseEvent(EventProfileDeleted, studentID),
		StudentID: studentID,
	}
}

// Payload implements Event interface.
func (e ProfileDeletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Catalog Events
// ═══════════════════════════════════════════════════════════════════════════

// CatalogUpdatedEvent is emitted after catalog edits. Cached match sets are
// keyed by catalog version, so consumers only need to log or warm caches.
type CatalogUpdatedEvent struct {
	BaseEvent
	ProgramIDs []string `json:"program_ids,omitempty"`
}

// NewCatalogUpdatedEvent creates a new CatalogUpdatedEvent.
func NewCatalogUpdatedEvent(programIDs ...string) CatalogUpdatedEvent {
	return CatalogUpdatedEvent{
		BaseEvent:  NewBaseEvent(EventCatalogUpdated, "catalog"),
		ProgramIDs: programIDs,
	}
}

// Payload implements Event interface.
func (e CatalogUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"program_ids": e.ProgramIDs,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Matching Events
// ═══════════════════════════════════════════════════════════════════════════

// MatchesPrecomputedEvent is emitted after a precompute stored fresh results.
type MatchesPrecomputedEvent struct {
	BaseEvent
	StudentID string   `json:"student_id"`
	Modes     []string `json:"modes"`
	Programs  int      `json:"programs"`
}

// Payload implements Event interface.
func (e MatchesPrecomputedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"modes":      e.Modes,
		"programs":   e.Programs,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
