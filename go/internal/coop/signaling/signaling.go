package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopblocks/go/internal/coop/board"
	"github.com/mcdev12/coopblocks/go/internal/relaystore"
)

// Root is the path under which every room keeps its signaling data.
const Root = "webrtc/signaling"

// Signaling exchanges descriptions and candidates for one room. The host
// publishes the offer, the guest the answer; each side appends its own
// candidates under its slot.
type Signaling struct {
	store relaystore.Store
	room  string
	slot  board.Slot

	mu     sync.Mutex
	unsubs []func()
	seen   map[string]struct{}
}

func New(store relaystore.Store, room string, slot board.Slot) *Signaling {
	return &Signaling{
		store: store,
		room:  room,
		slot:  slot,
		seen:  make(map[string]struct{}),
	}
}

func (s *Signaling) path(elem ...string) string {
	return relaystore.Join(append([]string{Root, s.room}, elem...)...)
}

func (s *Signaling) SendOffer(ctx context.Context, d Description) error {
	return s.sendDescription(ctx, "offer", d)
}

func (s *Signaling) SendAnswer(ctx context.Context, d Description) error {
	return s.sendDescription(ctx, "answer", d)
}

func (s *Signaling) sendDescription(ctx context.Context, name string, d Description) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := s.store.Write(ctx, s.path(name), b); err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	log.Debug().Str("room", s.room).Str("kind", name).Msg("description published")
	return nil
}

// SendCandidate appends c to this side's candidate list.
func (s *Signaling) SendCandidate(ctx context.Context, c Candidate) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if _, err := s.store.Append(ctx, s.path("candidates", strconv.Itoa(int(s.slot))), b); err != nil {
		return fmt.Errorf("failed to publish candidate: %w", err)
	}
	return nil
}

// OnOffer calls fn for every valid offer published in the room. Malformed
// offers are logged and skipped.
func (s *Signaling) OnOffer(ctx context.Context, fn func(Description)) error {
	return s.onDescription(ctx, TypeOffer, fn)
}

func (s *Signaling) OnAnswer(ctx context.Context, fn func(Description)) error {
	return s.onDescription(ctx, TypeAnswer, fn)
}

func (s *Signaling) onDescription(ctx context.Context, want DescriptionType, fn func(Description)) error {
	unsub, err := s.store.Subscribe(ctx, s.path(string(want)), func(ev relaystore.Event) {
		if ev.Type != relaystore.EventPut {
			return
		}
		d, err := ParseDescription(ev.Value, want)
		if err != nil {
			log.Warn().Err(err).Str("room", s.room).Msg("ignoring signaling description")
			return
		}
		fn(d)
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", want, err)
	}
	s.track(unsub)
	return nil
}

// OnCandidate calls fn once per distinct candidate published by the peer.
func (s *Signaling) OnCandidate(ctx context.Context, fn func(Candidate)) error {
	peer := s.path("candidates", strconv.Itoa(int(s.slot.Other())))
	unsub, err := s.store.Subscribe(ctx, peer, func(ev relaystore.Event) {
		if ev.Type != relaystore.EventPut {
			return
		}
		var c Candidate
		if err := json.Unmarshal(ev.Value, &c); err != nil || c.Candidate == "" {
			log.Warn().Str("path", ev.Path).Msg("ignoring malformed candidate")
			return
		}
		if !s.firstSighting(c) {
			return
		}
		fn(c)
	})
	if err != nil {
		return fmt.Errorf("failed to watch candidates: %w", err)
	}
	s.track(unsub)
	return nil
}

func (s *Signaling) firstSighting(c Candidate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[c.Key()]; ok {
		return false
	}
	s.seen[c.Key()] = struct{}{}
	return true
}

func (s *Signaling) track(unsub func()) {
	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsub)
	s.mu.Unlock()
}

// Cleanup drops every subscription and removes the room's signaling data.
func (s *Signaling) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.seen = make(map[string]struct{})
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if err := s.store.Remove(ctx, s.path()); err != nil {
		return fmt.Errorf("failed to remove signaling data: %w", err)
	}
	return nil
}
