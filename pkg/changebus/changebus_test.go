package changebus

import "testing"

func TestSubscriberReceivesEventForItsCollection(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("docs")
	defer sub.Unsubscribe()

	b.Publish([]Event{{Collection: "docs", Op: "insert", DocID: "1"}})

	select {
	case ev := <-sub.C():
		if ev.DocID != "1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestSubscriberDoesNotReceiveOtherCollectionEvents(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("docs")
	defer sub.Unsubscribe()

	b.Publish([]Event{{Collection: "other", Op: "insert", DocID: "1"}})

	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event delivered: %+v", ev)
	default:
	}
}

func TestFullBufferDropsAndCounts(t *testing.T) {
	b := New(1)
	sub := b.Subscribe("docs")
	defer sub.Unsubscribe()

	b.Publish([]Event{{Collection: "docs", DocID: "1"}})
	b.Publish([]Event{{Collection: "docs", DocID: "2"}}) // buffer full, dropped

	if sub.Dropped() != 1 {
		t.Fatalf("expected dropped count 1, got %d", sub.Dropped())
	}
	ev := <-sub.C()
	if ev.DocID != "1" {
		t.Fatalf("expected first event to survive, got %+v", ev)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("docs")
	sub.Unsubscribe()

	b.Publish([]Event{{Collection: "docs", DocID: "1"}})

	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event after unsubscribe: %+v", ev)
	default:
	}
}
