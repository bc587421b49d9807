package events

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe("test_event", func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	if err := bus.PublishJSON("test_event", map[string]string{"foo": "bar"}); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if received.Type != "test_event" {
		t.Errorf("expected type test_event, got %s", received.Type)
	}
	if received.ID == 0 {
		t.Errorf("expected event id to be assigned")
	}

	var decoded map[string]string
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded["foo"] != "bar" {
		t.Errorf("expected foo=bar, got %s", decoded["foo"])
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "event"})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	seen := map[string]int{}
	bus.SubscribeAll(BookingEvents, func(e *Event) error { seen[e.Type]++; return nil })

	for _, typ := range BookingEvents {
		bus.Publish(&Event{Type: typ})
	}
	bus.Publish(&Event{Type: "unrelated"})

	if len(seen) != len(BookingEvents) {
		t.Errorf("expected %d event types, got %d", len(BookingEvents), len(seen))
	}
}

func TestEventBusHandlerErrors(t *testing.T) {
	bus := NewEventBus()
	var reported error
	bus.OnError(func(_ *Event, err error) { reported = err })

	calls := 0
	bus.Subscribe("event", func(_ *Event) error { calls++; return errors.New("boom") })
	bus.Subscribe("event", func(_ *Event) error { calls++; return nil })

	bus.Publish(&Event{Type: "event"})

	if calls != 2 {
		t.Errorf("a failing handler must not stop the others, got %d calls", calls)
	}
	if reported == nil || reported.Error() != "boom" {
		t.Errorf("expected handler error to be reported, got %v", reported)
	}
}

func TestNilBusPublishJSON(t *testing.T) {
	var bus *EventBus
	if err := bus.PublishJSON("event", map[string]string{}); err != nil {
		t.Errorf("nil bus must be a no-op, got %v", err)
	}
}

func TestDecodeBooking(t *testing.T) {
	bus := NewEventBus()
	var got BookingEventPayload
	bus.Subscribe(EventBookingCreated, func(e *Event) error {
		var err error
		got, err = DecodeBooking(e)
		return err
	})

	if err := bus.PublishJSON(EventBookingCreated, BookingEventPayload{BookingID: "b-1", Status: "pending"}); err != nil {
		t.Fatal(err)
	}
	if got.BookingID != "b-1" || got.Status != "pending" {
		t.Errorf("unexpected payload: %+v", got)
	}
}
