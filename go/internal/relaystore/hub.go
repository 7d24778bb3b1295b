package relaystore

import (
	"context"
	"sync"
)

// hub fans change events out to subscribers. Each subscriber has an unbounded
// queue drained by its own goroutine, so a slow callback never blocks writers.
type hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	prefix string
	fn     func(Event)

	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

// add registers fn below prefix with replay queued ahead of live events.
// Callers that need replay and registration to be atomic with writes hold
// their own lock around add.
func (h *hub) add(prefix string, fn func(Event), replay []Event) (*subscriber, error) {
	s := &subscriber{
		prefix: prefix,
		fn:     fn,
		queue:  replay,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	if len(replay) > 0 {
		s.signal <- struct{}{}
	}
	go s.run()
	return s, nil
}

func (h *hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.stop()
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if Within(ev.Path, s.prefix) {
			s.push(ev)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.closed = true
	h.mu.Unlock()
	for s := range subs {
		s.stop()
	}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(ev)
		}
	}
}

// detach returns the unsubscribe function handed to callers and ties the
// subscription to ctx.
func (h *hub) detach(ctx context.Context, s *subscriber) func() {
	go func() {
		select {
		case <-ctx.Done():
			h.remove(s)
		case <-s.done:
		}
	}()
	return func() { h.remove(s) }
}
