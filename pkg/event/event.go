// pkg/event/event.go
package event

import (
	"sync"
)

// Type represents the type of event
type Type string

// Simulation event types
const (
	SessionStarted   Type = "session_started"
	SessionStopped   Type = "session_stopped"
	DepthWarning     Type = "depth_warning"
	MovementResumed  Type = "movement_resumed"
	AutoDepthChanged Type = "auto_depth_changed"
	ControlsRejected Type = "controls_rejected"
	PilotJoined      Type = "pilot_joined"
	PilotLeft        Type = "pilot_left"
)

// Event is the base interface for all events
type Event interface {
	GetType() Type
	GetSource() interface{}
}

// BaseEvent provides common functionality for all events
type BaseEvent struct {
	EventType Type
	Source    interface{}
}

// GetType returns the event type
func (e *BaseEvent) GetType() Type {
	return e.EventType
}

// GetSource returns the event source
func (e *BaseEvent) GetSource() interface{} {
	return e.Source
}

// Handler is a function that handles events
type Handler func(Event)

// Subscription identifies a registered handler. Cancel removes it.
type Subscription struct {
	ID     uint64
	Cancel func()
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus manages event subscriptions and dispatching
type Bus struct {
	handlers map[Type][]subscriber
	nextID   uint64
	mu       sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]subscriber),
		nextID:   1,
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType Type, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], subscriber{id: id, handler: handler})

	return &Subscription{
		ID: id,
		Cancel: func() {
			b.unsubscribe(eventType, id)
		},
	}
}

func (b *Bus) unsubscribe(eventType Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

// Publish sends an event to all subscribed handlers. Handlers run
// synchronously on the publishing goroutine.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := append([]subscriber(nil), b.handlers[event.GetType()]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(event)
	}
}

// DepthEvent carries the hull position when the depth safety lock changes
type DepthEvent struct {
	BaseEvent
	Tick         uint64
	Depth        float64
	WarningDepth float64
}

// NewDepthEvent creates a new depth event
func NewDepthEvent(eventType Type, source interface{}, tick uint64, depth, warningDepth float64) *DepthEvent {
	return &DepthEvent{
		BaseEvent: BaseEvent{
			EventType: eventType,
			Source:    source,
		},
		Tick:         tick,
		Depth:        depth,
		WarningDepth: warningDepth,
	}
}

// AutoDepthEvent reports the auto-depth mode being switched
type AutoDepthEvent struct {
	BaseEvent
	Enabled      bool
	DesiredDepth float64
}

// NewAutoDepthEvent creates a new auto-depth event
func NewAutoDepthEvent(source interface{}, enabled bool, desiredDepth float64) *AutoDepthEvent {
	return &AutoDepthEvent{
		BaseEvent: BaseEvent{
			EventType: AutoDepthChanged,
			Source:    source,
		},
		Enabled:      enabled,
		DesiredDepth: desiredDepth,
	}
}

// RejectedEvent reports a control input refused at the boundary
type RejectedEvent struct {
	BaseEvent
	Reason string
}

// NewRejectedEvent creates a new rejected-controls event
func NewRejectedEvent(source interface{}, reason string) *RejectedEvent {
	return &RejectedEvent{
		BaseEvent: BaseEvent{
			EventType: ControlsRejected,
			Source:    source,
		},
		Reason: reason,
	}
}

// PilotEvent reports a helm connection joining or leaving
type PilotEvent struct {
	BaseEvent
	ClientID  uint64
	PilotName string
}

// NewPilotEvent creates a new pilot event
func NewPilotEvent(eventType Type, source interface{}, clientID uint64, pilotName string) *PilotEvent {
	return &PilotEvent{
		BaseEvent: BaseEvent{
			EventType: eventType,
			Source:    source,
		},
		ClientID:  clientID,
		PilotName: pilotName,
	}
}
