package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopblocks/go/internal/coop/protocol"
	"github.com/mcdev12/coopblocks/go/internal/coop/signaling"
	"github.com/mcdev12/coopblocks/go/internal/relaystore"
)

// Hybrid negotiates the peer channel through the relay store and then syncs
// directly. The relay carries nothing but signaling.
type Hybrid struct {
	*Transport

	store relaystore.Store
	room  string

	mu  sync.Mutex
	sig *signaling.Signaling
}

var _ protocol.Provider = (*Hybrid)(nil)

func NewHybrid(store relaystore.Store, room string, cfg Config, clock clockwork.Clock) *Hybrid {
	return &Hybrid{
		Transport: New(cfg, clock),
		store:     store,
		room:      room,
	}
}

// Start opens the peer listener and runs the signaling exchange in the
// background: the host publishes an offer and waits for the answer, the
// guest answers the first offer it sees.
func (h *Hybrid) Start(ctx context.Context, handler protocol.Handler, role protocol.Role) error {
	if err := h.Transport.Start(ctx, handler, role); err != nil {
		return err
	}

	sig := signaling.New(h.store, h.room, role.Slot())
	h.mu.Lock()
	h.sig = sig
	h.mu.Unlock()

	fail := func(err error) error {
		h.Transport.Endpoint.SetConnectionState(protocol.Failed)
		return err
	}

	run := context.WithoutCancel(ctx)
	if err := sig.OnCandidate(run, h.Transport.AddCandidate); err != nil {
		return fail(err)
	}

	if role == protocol.Host {
		if err := sig.OnAnswer(run, func(d signaling.Description) {
			if err := h.Transport.acceptAnswer(run, d); err != nil {
				log.Warn().Err(err).Str("room", h.room).Msg("rejecting answer")
			}
		}); err != nil {
			return fail(err)
		}
		offer, cands, err := h.Transport.describe(ctx, signaling.TypeOffer)
		if err != nil {
			return err
		}
		if err := sig.SendOffer(ctx, offer); err != nil {
			return fail(err)
		}
		h.trickle(ctx, sig, cands)
		return nil
	}

	var once sync.Once
	if err := sig.OnOffer(run, func(d signaling.Description) {
		once.Do(func() { h.answer(run, sig, d) })
	}); err != nil {
		return fail(err)
	}
	return nil
}

func (h *Hybrid) answer(ctx context.Context, sig *signaling.Signaling, offer signaling.Description) {
	answer, cands, err := h.Transport.acceptOffer(ctx, offer)
	if err != nil {
		log.Warn().Err(err).Str("room", h.room).Msg("rejecting offer")
		return
	}
	if err := sig.SendAnswer(ctx, answer); err != nil {
		log.Error().Err(err).Str("room", h.room).Msg("failed to publish answer")
		h.Transport.Endpoint.SetConnectionState(protocol.Failed)
		return
	}
	h.trickle(ctx, sig, cands)
}

// trickle publishes each local candidate separately so the peer can dial
// candidates it learns after the description.
func (h *Hybrid) trickle(ctx context.Context, sig *signaling.Signaling, cands []string) {
	for _, c := range cands {
		if err := sig.SendCandidate(ctx, signaling.Candidate{Candidate: c}); err != nil {
			log.Warn().Err(err).Str("candidate", c).Msg("failed to publish candidate")
		}
	}
}

// Stop removes the room's signaling data and stops the peer transport.
func (h *Hybrid) Stop() error {
	h.mu.Lock()
	sig := h.sig
	h.sig = nil
	h.mu.Unlock()

	var cleanupErr error
	if sig != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cleanupErr = sig.Cleanup(ctx)
	}
	if err := h.Transport.Stop(); err != nil {
		return err
	}
	if cleanupErr != nil {
		return fmt.Errorf("hybrid stop: %w", cleanupErr)
	}
	return nil
}
