// pkg/event/event_test.go
package event

import (
	"sync"
	"testing"
)

func TestNewEventBus_Creation_ReturnsInitializedBus(t *testing.T) {
	bus := NewEventBus()

	if bus == nil {
		t.Fatal("NewEventBus() returned nil")
	}

	if bus.handlers == nil {
		t.Error("handlers map not initialized")
	}

	if bus.nextID != 1 {
		t.Errorf("expected nextID to be 1, got %d", bus.nextID)
	}
}

func TestBaseEvent_GetType_ReturnsCorrectType(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		source    interface{}
	}{
		{
			name:      "DepthWarning event",
			eventType: DepthWarning,
			source:    "session",
		},
		{
			name:      "PilotJoined event",
			eventType: PilotJoined,
			source:    42,
		},
		{
			name:      "Empty source",
			eventType: SessionStarted,
			source:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := &BaseEvent{
				EventType: tt.eventType,
				Source:    tt.source,
			}

			if event.GetType() != tt.eventType {
				t.Errorf("GetType() = %v, want %v", event.GetType(), tt.eventType)
			}

			if event.GetSource() != tt.source {
				t.Errorf("GetSource() = %v, want %v", event.GetSource(), tt.source)
			}
		})
	}
}

func TestBusSubscribe_MultipleHandlers_UniqueIDs(t *testing.T) {
	bus := NewEventBus()
	noop := func(e Event) {}

	sub1 := bus.Subscribe(DepthWarning, noop)
	sub2 := bus.Subscribe(DepthWarning, noop)
	_ = bus.Subscribe(MovementResumed, noop)

	if sub1.ID == 0 || sub1.ID == sub2.ID {
		t.Errorf("expected distinct non-zero IDs, got %d and %d", sub1.ID, sub2.ID)
	}

	bus.mu.RLock()
	warnings := len(bus.handlers[DepthWarning])
	resumes := len(bus.handlers[MovementResumed])
	bus.mu.RUnlock()

	if warnings != 2 {
		t.Errorf("expected 2 handlers for DepthWarning, got %d", warnings)
	}
	if resumes != 1 {
		t.Errorf("expected 1 handler for MovementResumed, got %d", resumes)
	}
}

func TestBusPublish_WithSubscribers_CallsHandlersInOrder(t *testing.T) {
	bus := NewEventBus()
	var order []int

	bus.Subscribe(DepthWarning, func(e Event) { order = append(order, 1) })
	bus.Subscribe(DepthWarning, func(e Event) { order = append(order, 2) })
	bus.Subscribe(MovementResumed, func(e Event) { order = append(order, 3) })

	bus.Publish(NewDepthEvent(DepthWarning, "test", 10, 110.5, 110))

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected handlers [1 2], got %v", order)
	}
}

func TestBusPublish_NoSubscribers_NoError(t *testing.T) {
	bus := NewEventBus()
	bus.Publish(&BaseEvent{EventType: SessionStopped})
}

func TestSubscriptionCancel_ValidSubscription_RemovesHandler(t *testing.T) {
	bus := NewEventBus()
	called := false

	sub := bus.Subscribe(DepthWarning, func(e Event) { called = true })
	sub.Cancel()

	bus.mu.RLock()
	remaining := len(bus.handlers[DepthWarning])
	bus.mu.RUnlock()
	if remaining != 0 {
		t.Errorf("expected 0 handlers after cancel, got %d", remaining)
	}

	bus.Publish(&BaseEvent{EventType: DepthWarning})
	if called {
		t.Error("handler should not be called after cancellation")
	}

	// A second cancel is harmless.
	sub.Cancel()
}

func TestSubscriptionCancel_DuringPublish_DoesNotDeadlock(t *testing.T) {
	bus := NewEventBus()
	calls := 0

	var sub *Subscription
	sub = bus.Subscribe(MovementResumed, func(e Event) {
		calls++
		sub.Cancel()
	})

	bus.Publish(&BaseEvent{EventType: MovementResumed})
	bus.Publish(&BaseEvent{EventType: MovementResumed})

	if calls != 1 {
		t.Errorf("expected one-shot handler to run once, ran %d times", calls)
	}
}

func TestCancelMultipleSubscriptions_OnlyTargetRemoved(t *testing.T) {
	bus := NewEventBus()
	var first, second, other bool

	sub1 := bus.Subscribe(DepthWarning, func(e Event) { first = true })
	bus.Subscribe(DepthWarning, func(e Event) { second = true })
	bus.Subscribe(ControlsRejected, func(e Event) { other = true })

	sub1.Cancel()
	bus.Publish(&BaseEvent{EventType: DepthWarning})
	bus.Publish(NewRejectedEvent("test", "non-finite torque"))

	if first {
		t.Error("cancelled handler should not be called")
	}
	if !second || !other {
		t.Errorf("remaining handlers should run, got second=%v other=%v", second, other)
	}
}

func TestBus_ConcurrentSubscribeAndPublish_ThreadSafe(t *testing.T) {
	bus := NewEventBus()
	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0

	handler := func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}

	const subscribers = 10
	wg.Add(subscribers)
	for i := 0; i < subscribers; i++ {
		go func() {
			defer wg.Done()
			bus.Subscribe(DepthWarning, handler)
		}()
	}
	wg.Wait()

	wg.Add(3)
	for i := 0; i < 3; i++ {
		go func() {
			defer wg.Done()
			bus.Publish(&BaseEvent{EventType: DepthWarning})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != subscribers*3 {
		t.Errorf("expected %d handler calls, got %d", subscribers*3, count)
	}
}

func TestEventConstructors_ValidParameters_ReturnCorrectEvents(t *testing.T) {
	depth := NewDepthEvent(DepthWarning, "engine", 120, 110.2, 110)
	if depth.GetType() != DepthWarning || depth.Tick != 120 || depth.Depth != 110.2 || depth.WarningDepth != 110 {
		t.Errorf("unexpected depth event %+v", depth)
	}

	auto := NewAutoDepthEvent("engine", true, 30)
	if auto.GetType() != AutoDepthChanged || !auto.Enabled || auto.DesiredDepth != 30 {
		t.Errorf("unexpected auto-depth event %+v", auto)
	}

	rejected := NewRejectedEvent("engine", "ballast is NaN")
	if rejected.GetType() != ControlsRejected || rejected.Reason != "ballast is NaN" {
		t.Errorf("unexpected rejected event %+v", rejected)
	}

	pilot := NewPilotEvent(PilotLeft, "server", 7, "nemo")
	if pilot.GetType() != PilotLeft || pilot.ClientID != 7 || pilot.PilotName != "nemo" {
		t.Errorf("unexpected pilot event %+v", pilot)
	}
	if pilot.GetSource() != "server" {
		t.Errorf("GetSource() = %v, want server", pilot.GetSource())
	}
}
