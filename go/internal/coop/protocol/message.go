package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/coopblocks/go/internal/coop/board"
	"github.com/mcdev12/coopblocks/go/internal/coop/controller"
)

// Kind is the wire discriminator of a sync message.
type Kind string

const (
	KindSeed     Kind = "seed"
	KindInput    Kind = "input"
	KindState    Kind = "state"
	KindSnapshot Kind = "snapshot"
	KindPing     Kind = "ping"
	KindPong     Kind = "pong"
)

// ErrMalformedMessage is returned by Decode for payloads that are not a
// well-formed sync message.
var ErrMalformedMessage = errors.New("malformed sync message")

// Header carries the ordering metadata shared by every message.
type Header struct {
	Sender    string     `json:"sender"`
	Slot      board.Slot `json:"slot"`
	Seq       uint64     `json:"seq"`
	Timestamp int64      `json:"ts"` // unix milliseconds
}

// Message is a closed union; the only implementations live in this package.
type Message interface {
	Kind() Kind
	Meta() Header
	setMeta(Header)
}

type SeedMessage struct {
	Header
	Seed int64
}

type InputMessage struct {
	Header
	Action controller.Action
}

// StateMessage carries either an incremental state push or a snapshot.
type StateMessage struct {
	Header
	Mode  Mode
	State State
}

type PingMessage struct {
	Header
	Sent int64
}

// PongMessage echoes the timestamp of the ping it answers.
type PongMessage struct {
	Header
	Echo int64
}

func (m *SeedMessage) Kind() Kind  { return KindSeed }
func (m *InputMessage) Kind() Kind { return KindInput }
func (m *PingMessage) Kind() Kind  { return KindPing }
func (m *PongMessage) Kind() Kind  { return KindPong }

func (m *StateMessage) Kind() Kind {
	if m.Mode == ModeSnapshot {
		return KindSnapshot
	}
	return KindState
}

func (h *Header) Meta() Header     { return *h }
func (h *Header) setMeta(v Header) { *h = v }

type envelope struct {
	Type Kind `json:"type"`
	Header
	Seed   *int64            `json:"seed,omitempty"`
	Action controller.Action `json:"action,omitempty"`
	State  *State            `json:"state,omitempty"`
	Ping   int64             `json:"pingTs,omitempty"`
}

// Encode serialises m into its JSON envelope.
func Encode(m Message) ([]byte, error) {
	env := envelope{Type: m.Kind(), Header: m.Meta()}
	switch v := m.(type) {
	case *SeedMessage:
		seed := v.Seed
		env.Seed = &seed
	case *InputMessage:
		env.Action = v.Action
	case *StateMessage:
		st := v.State
		env.State = &st
	case *PingMessage:
		env.Ping = v.Sent
	case *PongMessage:
		env.Ping = v.Echo
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrMalformedMessage)
	}
	return json.Marshal(env)
}

// Decode parses a JSON envelope into its concrete message.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var m Message
	switch env.Type {
	case KindSeed:
		if env.Seed == nil {
			return nil, fmt.Errorf("%w: seed message without seed", ErrMalformedMessage)
		}
		m = &SeedMessage{Seed: *env.Seed}
	case KindInput:
		a, err := controller.ParseAction(string(env.Action))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		m = &InputMessage{Action: a}
	case KindState, KindSnapshot:
		if env.State == nil {
			return nil, fmt.Errorf("%w: %s message without state", ErrMalformedMessage, env.Type)
		}
		mode := ModeIncremental
		if env.Type == KindSnapshot {
			mode = ModeSnapshot
		}
		m = &StateMessage{Mode: mode, State: *env.State}
	case KindPing:
		m = &PingMessage{Sent: env.Ping}
	case KindPong:
		m = &PongMessage{Echo: env.Ping}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, env.Type)
	}
	m.setMeta(env.Header)
	return m, nil
}
