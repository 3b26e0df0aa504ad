package events

import (
	"sync"
	"testing"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

// mockSubscriber implements Subscriber for testing.
type mockSubscriber struct {
	mu       sync.Mutex
	events   []Event
	isClosed bool
}

func (m *mockSubscriber) Receive(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockSubscriber) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isClosed
}

func (m *mockSubscriber) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Event, len(m.events))
	copy(cp, m.events)
	return cp
}

func TestBusEmitToActor(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{}
	other := &mockSubscriber{}

	actor := gamedb.DBRef(1)
	bus.Subscribe(actor, sub)
	bus.Subscribe(gamedb.DBRef(2), other)

	ev := Event{
		Type:  EvResolve,
		Actor: actor,
		Spec:  "u:!=me",
		Refs:  []gamedb.DBRef{2, 3},
	}
	bus.Emit(ev)

	events := sub.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Spec != "u:!=me" {
		t.Errorf("expected spec %q, got %q", "u:!=me", events[0].Spec)
	}
	if len(events[0].Refs) != 2 {
		t.Errorf("expected 2 refs, got %d", len(events[0].Refs))
	}
	if len(other.Events()) != 0 {
		t.Error("another actor's subscriber saw the event")
	}
}

func TestBusGlobalSubscriber(t *testing.T) {
	bus := NewBus()
	global := &mockSubscriber{}
	bus.SubscribeGlobal(global)

	ev := Event{Type: EvOpFailure, Actor: gamedb.DBRef(5), Op: "mapfile", Err: "map file /etc/x not found"}
	bus.Emit(ev)
	bus.Emit(Event{Type: EvBlueprint, Actor: gamedb.Nothing, Spec: "/obj/torch"})

	events := global.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 global events, got %d", len(events))
	}
	if events[0].Op != "mapfile" {
		t.Errorf("expected op %q, got %q", "mapfile", events[0].Op)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{}
	actor := gamedb.DBRef(1)

	bus.Subscribe(actor, sub)
	bus.Unsubscribe(actor, sub)

	bus.Emit(Event{Type: EvResolve, Actor: actor, Spec: "me"})

	if len(sub.Events()) != 0 {
		t.Error("expected no events after unsubscribe")
	}
	if bus.ActorSubscribers(actor) != 0 {
		t.Errorf("expected no subscribers, got %d", bus.ActorSubscribers(actor))
	}
}

func TestBusClosedSubscriberSkipped(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{isClosed: true}
	actor := gamedb.DBRef(1)

	bus.Subscribe(actor, sub)
	bus.Emit(Event{Type: EvResolve, Actor: actor})

	if len(sub.Events()) != 0 {
		t.Error("closed subscriber should not receive events")
	}
}

func TestBusCleanup(t *testing.T) {
	bus := NewBus()
	active := &mockSubscriber{}
	closed := &mockSubscriber{isClosed: true}
	actor := gamedb.DBRef(1)

	bus.Subscribe(actor, active)
	bus.Subscribe(actor, closed)
	bus.Subscribe(gamedb.DBRef(2), &mockSubscriber{isClosed: true})
	bus.SubscribeGlobal(&mockSubscriber{isClosed: true})

	bus.Cleanup()

	if bus.ActorSubscribers(actor) != 1 {
		t.Errorf("expected 1 active subscriber, got %d", bus.ActorSubscribers(actor))
	}
	if bus.ActorSubscribers(gamedb.DBRef(2)) != 0 {
		t.Errorf("expected actor 2 to be dropped")
	}
}

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		t    EventType
		want string
	}{
		{EvResolve, "resolve"},
		{EvSyntaxError, "syntax_error"},
		{EvOpFailure, "op_failure"},
		{EvBind, "bind"},
		{EvBlueprint, "blueprint"},
		{EvResolveError, "resolve_error"},
		{EventType(999), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("EventType(%d).String() = %q, want %q", tt.t, got, tt.want)
		}
	}
}
