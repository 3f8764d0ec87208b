package events

import "testing"

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(2, EventTradeLogged, EventTickCompleted)

	bus.Publish(EventTradeLogged, "u1", "a")
	bus.Publish(EventSignal, "u1", "ignored")
	bus.Publish(EventTickCompleted, "", "b")
	bus.Publish(EventTickCompleted, "", "dropped")

	first, second := <-ch, <-ch
	if first.Payload != "a" || first.UserID != "u1" || second.Payload != "b" {
		t.Fatalf("got %+v, %+v", first, second)
	}
	if bus.Dropped() != 1 {
		t.Fatalf("dropped = %d", bus.Dropped())
	}

	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	bus.Publish(EventTradeLogged, "u1", "after")
}
