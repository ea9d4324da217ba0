package shared

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven parts of the session
// lifecycle. Each event represents something significant that happened.
const (
	// Session events
	EventWriteToDatabase EventType = "session.write_to_database"
	EventSessionReady    EventType = "session.ready"
	EventStatusChanged   EventType = "session.status_changed"

	// Story events
	EventStateChanged     EventType = "story.state_changed"
	EventMCScoreRecorded  EventType = "story.mc_score_recorded"
	EventResponseRecorded EventType = "story.response_recorded"

	// Option events
	EventOptionChanged EventType = "option.changed"
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
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
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
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// WriteToDatabaseEvent requests a full story-state write-back.
// It carries no payload; the handler reads the current state itself.
type WriteToDatabaseEvent struct {
	BaseEvent
}

// Payload implements Event interface.
func (e WriteToDatabaseEvent) Payload() map[string]interface{} {
	return map[string]interface{}{}
}

// NewWriteToDatabaseEvent creates a new WriteToDatabaseEvent.
// The aggregate is the session identified by its correlation ID.
func NewWriteToDatabaseEvent(sessionID string) WriteToDatabaseEvent {
	return WriteToDatabaseEvent{
		BaseEvent: NewBaseEvent(EventWriteToDatabase, sessionID),
	}
}

// SessionReadyEvent is emitted exactly once when bootstrap completes.
type SessionReadyEvent struct {
	BaseEvent
	StudentID int    `json:"student_id"`
	Story     string `json:"story"`
}

// Payload implements Event interface.
func (e SessionReadyEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"story":      e.Story,
	}
}

// NewSessionReadyEvent creates a new SessionReadyEvent.
func NewSessionReadyEvent(sessionID string, studentID int, story string) SessionReadyEvent {
	return SessionReadyEvent{
		BaseEvent: NewBaseEvent(EventSessionReady, sessionID),
		StudentID: studentID,
		Story:     story,
	}
}

// StatusChangedEvent is emitted when the loading status message changes.
// The last value is authoritative; listeners must overwrite, not append.
type StatusChangedEvent struct {
	BaseEvent
	Message string `json:"message"`
}

// Payload implements Event interface.
func (e StatusChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"message": e.Message,
	}
}

// NewStatusChangedEvent creates a new StatusChangedEvent.
func NewStatusChangedEvent(sessionID, message string) StatusChangedEvent {
	return StatusChangedEvent{
		BaseEvent: NewBaseEvent(EventStatusChanged, sessionID),
		Message:   message,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Story Events
// ═══════════════════════════════════════════════════════════════════════════

// StateChangedEvent is emitted when the story moves to a different stage.
type StateChangedEvent struct {
	BaseEvent
	Story      string `json:"story"`
	StageIndex int    `json:"stage_index"`
}

// Payload implements Event interface.
func (e StateChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"story":       e.Story,
		"stage_index": e.StageIndex,
	}
}

// NewStateChangedEvent creates a new StateChangedEvent.
func NewStateChangedEvent(sessionID, story string, stageIndex int) StateChangedEvent {
	return StateChangedEvent{
		BaseEvent:  NewBaseEvent(EventStateChanged, sessionID),
		Story:      story,
		StageIndex: stageIndex,
	}
}

// MCScoreRecordedEvent is emitted when a multiple-choice result is recorded.
type MCScoreRecordedEvent struct {
	BaseEvent
	StageIndex    int    `json:"stage_index"`
	Tag           string `json:"tag"`
	Score         int    `json:"score"`
	Choice        int    `json:"choice"`
	Tries         int    `json:"tries"`
	WrongAttempts int    `json:"wrong_attempts"`
}

// Payload implements Event interface.
func (e MCScoreRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"stage_index":    e.StageIndex,
		"tag":            e.Tag,
		"score":          e.Score,
		"choice":         e.Choice,
		"tries":          e.Tries,
		"wrong_attempts": e.WrongAttempts,
	}
}

// NewMCScoreRecordedEvent creates a new MCScoreRecordedEvent.
func NewMCScoreRecordedEvent(sessionID string, stageIndex int, tag string, score, choice, tries, wrongAttempts int) MCScoreRecordedEvent {
	return MCScoreRecordedEvent{
		BaseEvent:     NewBaseEvent(EventMCScoreRecorded, sessionID),
		StageIndex:    stageIndex,
		Tag:           tag,
		Score:         score,
		Choice:        choice,
		Tries:         tries,
		WrongAttempts: wrongAttempts,
	}
}

// ResponseRecordedEvent is emitted when a free-response answer is recorded.
type ResponseRecordedEvent struct {
	BaseEvent
	StageIndex int    `json:"stage_index"`
	Tag        string `json:"tag"`
	Response   string `json:"response"`
}

// Payload implements Event interface.
func (e ResponseRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"stage_index": e.StageIndex,
		"tag":         e.Tag,
		"response":    e.Response,
	}
}

// NewResponseRecordedEvent creates a new ResponseRecordedEvent.
func NewResponseRecordedEvent(sessionID string, stageIndex int, tag, response string) ResponseRecordedEvent {
	return ResponseRecordedEvent{
		BaseEvent:  NewBaseEvent(EventResponseRecorded, sessionID),
		StageIndex: stageIndex,
		Tag:        tag,
		Response:   response,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Option Events
// ═══════════════════════════════════════════════════════════════════════════

// OptionChangedEvent is emitted after a per-student option write fires.
type OptionChangedEvent struct {
	BaseEvent
	Option string      `json:"option"`
	Value  interface{} `json:"value"`
}

// Payload implements Event interface.
func (e OptionChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"option": e.Option,
		"value":  e.Value,
	}
}

// NewOptionChangedEvent creates a new OptionChangedEvent.
func NewOptionChangedEvent(sessionID, option string, value interface{}) OptionChangedEvent {
	return OptionChangedEvent{
		BaseEvent: NewBaseEvent(EventOptionChanged, sessionID),
		Option:    option,
		Value:     value,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Contracts
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

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
