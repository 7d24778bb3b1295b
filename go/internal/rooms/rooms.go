// Package rooms tracks cooperative game rooms in the relay store.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopblocks/go/internal/relaystore"
)

// Root is the path under which rooms are stored.
const Root = "tetrisCoop/rooms"

// MaxPlayers is the capacity of a cooperative room.
const MaxPlayers = 2

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
)

// Info describes a room.
type Info struct {
	ID        string   `json:"id"`
	HostID    string   `json:"hostId"`
	Players   []string `json:"players"`
	CreatedAt int64    `json:"createdAt"`
}

// Manager creates, joins and watches rooms.
type Manager struct {
	store relaystore.Store
	clock clockwork.Clock

	// mu serialises read-modify-write cycles issued by this process.
	mu sync.Mutex
}

func NewManager(store relaystore.Store, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{store: store, clock: clock}
}

func roomPath(id string) string {
	return relaystore.Join(Root, id)
}

func newRoomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateRoom stores a new room with hostID as its only player.
func (m *Manager) CreateRoom(ctx context.Context, hostID string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := newRoomID()
	for {
		_, err := m.store.ReadOnce(ctx, roomPath(id))
		if errors.Is(err, relaystore.ErrNotFound) {
			break
		}
		if err != nil {
			return Info{}, fmt.Errorf("failed to check room id: %w", err)
		}
		id = newRoomID()
	}

	info := Info{
		ID:        id,
		HostID:    hostID,
		Players:   []string{hostID},
		CreatedAt: m.clock.Now().UnixMilli(),
	}
	if err := m.put(ctx, info); err != nil {
		return Info{}, err
	}
	log.Info().Str("room", id).Str("host", hostID).Msg("room created")
	return info, nil
}

// JoinRoom adds playerID to the room. Rejoining is a no-op.
func (m *Manager) JoinRoom(ctx context.Context, id, playerID string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := m.GetRoom(ctx, id)
	if err != nil {
		return Info{}, err
	}
	if slices.Contains(info.Players, playerID) {
		return info, nil
	}
	if len(info.Players) >= MaxPlayers {
		return Info{}, fmt.Errorf("%s: %w", id, ErrRoomFull)
	}
	info.Players = append(info.Players, playerID)
	if err := m.put(ctx, info); err != nil {
		return Info{}, err
	}
	log.Info().Str("room", id).Str("player", playerID).Msg("player joined room")
	return info, nil
}

// GetRoom reads the room once.
func (m *Manager) GetRoom(ctx context.Context, id string) (Info, error) {
	raw, err := m.store.ReadOnce(ctx, roomPath(id))
	if errors.Is(err, relaystore.ErrNotFound) {
		return Info{}, fmt.Errorf("%s: %w", id, ErrRoomNotFound)
	}
	if err != nil {
		return Info{}, fmt.Errorf("failed to read room: %w", err)
	}
	return decode(id, raw)
}

// Watch calls fn with the room on every change and with nil once it is
// deleted.
func (m *Manager) Watch(ctx context.Context, id string, fn func(*Info)) (func(), error) {
	path := roomPath(id)
	return m.store.Subscribe(ctx, path, func(ev relaystore.Event) {
		if ev.Path != path {
			return
		}
		if ev.Type == relaystore.EventDelete {
			fn(nil)
			return
		}
		info, err := decode(id, ev.Value)
		if err != nil {
			log.Warn().Err(err).Str("room", id).Msg("ignoring malformed room")
			return
		}
		fn(&info)
	})
}

func (m *Manager) DeleteRoom(ctx context.Context, id string) error {
	if err := m.store.Remove(ctx, roomPath(id)); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

func (m *Manager) put(ctx context.Context, info Info) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := m.store.Write(ctx, roomPath(info.ID), b); err != nil {
		return fmt.Errorf("failed to write room: %w", err)
	}
	return nil
}

func decode(id string, raw []byte) (Info, error) {
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, fmt.Errorf("failed to decode room %s: %w", id, err)
	}
	info.ID = id
	return info, nil
}
