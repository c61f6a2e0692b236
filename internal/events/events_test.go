package events

import (
	"context"
	"testing"
	"time"
)

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	b := NewBroker(4)
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	b.Publish(context.Background(), Event{Type: TypeTxPosted, TxID: "tx-1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.TxID != "tx-1" || ev.Type != TypeTxPosted {
				t.Fatalf("unexpected event: %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(context.Background(), Event{Type: TypeTxPosted})
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(context.Background(), Event{TxID: "a"})
	b.Publish(context.Background(), Event{TxID: "b"}) // dropped, buffer full

	ev := <-ch
	if ev.TxID != "a" {
		t.Fatalf("expected first event, got %+v", ev)
	}
	select {
	case ev := <-ch:
		t.Fatalf("expected second event dropped, got %+v", ev)
	default:
	}
}
