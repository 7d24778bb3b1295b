// Package relay synchronises a cooperative session through a shared
// relaystore.Store. Each side announces itself under the room's presence
// path and appends outbound messages to its own mailbox; the peer consumes
// and deletes them.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopblocks/go/internal/coop/board"
	"github.com/mcdev12/coopblocks/go/internal/coop/protocol"
	"github.com/mcdev12/coopblocks/go/internal/relaystore"
)

// Root is the path under which rooms keep their relay data.
const Root = "coop/rooms"

// Config holds relay transport settings.
type Config struct {
	Room         string
	SenderID     string
	Endpoint     protocol.EndpointConfig
	StoreTimeout time.Duration
}

// DefaultConfig returns the standard relay settings for room.
func DefaultConfig(room, senderID string) Config {
	return Config{
		Room:         room,
		SenderID:     senderID,
		Endpoint:     protocol.DefaultEndpointConfig(),
		StoreTimeout: 5 * time.Second,
	}
}

// Transport is a protocol.Provider backed by a relay store.
type Transport struct {
	*protocol.Endpoint

	store relaystore.Store
	cfg   Config

	mu    sync.Mutex
	slot  board.Slot
	unsub func()
}

var _ protocol.Provider = (*Transport)(nil)

func New(store relaystore.Store, cfg Config, clock clockwork.Clock) *Transport {
	t := &Transport{store: store, cfg: cfg}
	t.Endpoint = protocol.NewEndpoint(cfg.SenderID, t, clock, cfg.Endpoint)
	return t
}

// RoomPath returns the relay subtree of room.
func RoomPath(room string) string {
	return relaystore.Join(Root, room)
}

func (t *Transport) presencePath(slot board.Slot) string {
	return relaystore.Join(RoomPath(t.cfg.Room), "presence", strconv.Itoa(int(slot)))
}

func (t *Transport) mailboxPath(slot board.Slot) string {
	return relaystore.Join(RoomPath(t.cfg.Room), "sync", strconv.Itoa(int(slot)))
}

// Start clears this side's stale mailbox, announces presence and subscribes
// to the room. The transport is connected while the peer's presence exists.
func (t *Transport) Start(ctx context.Context, h protocol.Handler, role protocol.Role) error {
	t.Endpoint.Attach(h, role)
	t.Endpoint.SetConnectionState(protocol.Connecting)

	slot := role.Slot()
	t.mu.Lock()
	t.slot = slot
	t.mu.Unlock()

	fail := func(err error) error {
		t.Endpoint.SetConnectionState(protocol.Failed)
		return err
	}

	if err := t.store.Remove(ctx, t.mailboxPath(slot)); err != nil {
		return fail(fmt.Errorf("failed to clear mailbox: %w", err))
	}
	presence, err := json.Marshal(t.cfg.SenderID)
	if err != nil {
		return fail(fmt.Errorf("failed to encode presence: %w", err))
	}
	if err := t.store.Write(ctx, t.presencePath(slot), presence); err != nil {
		return fail(fmt.Errorf("failed to announce presence: %w", err))
	}

	unsub, err := t.store.Subscribe(context.WithoutCancel(ctx), RoomPath(t.cfg.Room), t.handleEvent)
	if err != nil {
		return fail(fmt.Errorf("failed to subscribe to room: %w", err))
	}
	t.mu.Lock()
	t.unsub = unsub
	t.mu.Unlock()

	log.Info().
		Str("room", t.cfg.Room).
		Str("sender", t.cfg.SenderID).
		Stringer("slot", slot).
		Msg("relay transport started")
	return nil
}

func (t *Transport) handleEvent(ev relaystore.Event) {
	rel := strings.TrimPrefix(ev.Path, RoomPath(t.cfg.Room)+"/")
	segs := strings.Split(rel, "/")
	if len(segs) < 2 {
		return
	}
	n, err := strconv.Atoi(segs[1])
	if err != nil {
		return
	}
	from := board.Slot(n)

	t.mu.Lock()
	peer := t.slot.Other()
	t.mu.Unlock()
	if from != peer {
		return
	}

	switch {
	case segs[0] == "presence" && len(segs) == 2:
		if ev.Type == relaystore.EventPut {
			t.Endpoint.SetConnectionState(protocol.Connected)
		} else {
			t.Endpoint.SetConnectionState(protocol.Disconnected)
		}
	case segs[0] == "sync" && len(segs) == 3 && ev.Type == relaystore.EventPut:
		t.Endpoint.Receive(ev.Value)
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.StoreTimeout)
		defer cancel()
		if err := t.store.Remove(ctx, ev.Path); err != nil {
			log.Warn().Err(err).Str("path", ev.Path).Msg("failed to consume relay message")
		}
	}
}

// Send appends data to this side's mailbox.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	slot := t.slot
	t.mu.Unlock()
	if _, err := t.store.Append(ctx, t.mailboxPath(slot), data); err != nil {
		return fmt.Errorf("relay append: %w", err)
	}
	return nil
}

// Stop withdraws presence and the mailbox, detaches the subscription and
// resets the endpoint.
func (t *Transport) Stop() error {
	t.mu.Lock()
	unsub, slot := t.unsub, t.slot
	t.unsub = nil
	t.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	t.Endpoint.Detach()

	if slot == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.StoreTimeout)
	defer cancel()
	if err := t.store.Remove(ctx, t.presencePath(slot)); err != nil {
		return fmt.Errorf("failed to withdraw presence: %w", err)
	}
	if err := t.store.Remove(ctx, t.mailboxPath(slot)); err != nil {
		return fmt.Errorf("failed to remove mailbox: %w", err)
	}
	return nil
}
