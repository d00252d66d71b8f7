package watch

// Subscriber receives a lossy stream of filesystem events. Modeled directly
// on internal/ws's client: a buffered channel added/removed under a mutex,
// written via a non-blocking send that drops on a full buffer. An event sent
// while the buffer is full is discarded and counted in Dropped(); no marker
// is queued in its place. KindBurst events come only from the watcher's
// per-path rate cap.
type Subscriber struct {
	ch      chan Event
	dropped int
}

func newSubscriber(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Subscriber{ch: make(chan Event, bufSize)}
}

// Events returns the subscriber's read-only event channel.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events this subscriber has missed because its
// buffer was full when they were sent.
func (s *Subscriber) Dropped() int {
	return s.dropped
}

func (s *Subscriber) send(ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.dropped++
	}
}

func (s *Subscriber) close() {
	close(s.ch)
}
