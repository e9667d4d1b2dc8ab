// ABOUTME: Subscription: a live feed of committed writes to one collection

package docbase

import "github.com/nainya/docbase/pkg/changebus"

// ChangeEvent describes one committed write delivered to a Subscription.
type ChangeEvent struct {
	Collection string
	Op         string // "insert", "update", "delete"
	DocID      string
}

// Subscription is a bounded queue of a collection's change events, opened
// by CollectionHandle.Watch. A subscriber that falls behind has newly
// published events silently dropped once its buffer is full, rather than
// stalling commits; call Dropped to detect that.
type Subscription struct {
	sub  *changebus.Subscription
	out  chan ChangeEvent
	done chan struct{}
}

func newSubscription(sub *changebus.Subscription) *Subscription {
	s := &Subscription{sub: sub, out: make(chan ChangeEvent), done: make(chan struct{})}
	go s.pump()
	return s
}

// pump forwards and translates events until Close. It owns out's lifetime:
// it's the only writer, and closes out (and the changebus subscription)
// when done fires.
func (s *Subscription) pump() {
	defer close(s.out)
	defer s.sub.Unsubscribe()
	for {
		select {
		case ev, ok := <-s.sub.C():
			if !ok {
				return
			}
			select {
			case s.out <- ChangeEvent{Collection: ev.Collection, Op: ev.Op, DocID: ev.DocID}:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

// Events returns the channel new change events arrive on. It is closed
// once Close is called.
func (s *Subscription) Events() <-chan ChangeEvent { return s.out }

// Dropped reports how many events this subscription has missed because its
// buffer was full when they were published.
func (s *Subscription) Dropped() uint64 { return s.sub.Dropped() }

// Close stops delivery and releases the subscription's buffer. Safe to
// call more than once.
func (s *Subscription) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
