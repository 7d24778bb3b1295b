package protocol

import (
	"github.com/mcdev12/coopblocks/go/internal/coop/board"
	"github.com/mcdev12/coopblocks/go/internal/coop/piece"
)

// Mode selects how a received State is reconciled.
type Mode int

const (
	// ModeIncremental merges only the sender's piece and the pause flag.
	ModeIncremental Mode = iota
	// ModeSnapshot overrides every field unconditionally.
	ModeSnapshot
)

func (m Mode) String() string {
	if m == ModeSnapshot {
		return "snapshot"
	}
	return "incremental"
}

// SlotState is the per-player part of a State.
type SlotState struct {
	Piece    *piece.Descriptor `json:"piece"`
	Position board.Position    `json:"position"`
	Next     piece.Type        `json:"nextPiece,omitempty"`
	Score    int               `json:"score"`
	Lines    int               `json:"lines"`
}

// State is the serialised view of a session exchanged between peers.
type State struct {
	Board    [][]bool  `json:"board,omitempty"`
	Player1  SlotState `json:"player1"`
	Player2  SlotState `json:"player2"`
	Score    int       `json:"score"`
	Lines    int       `json:"lines"`
	Level    int       `json:"level"`
	Paused   bool      `json:"isPaused"`
	GameOver bool      `json:"gameOver"`
}

// Slot returns the per-player state for slot.
func (s *State) Slot(slot board.Slot) *SlotState {
	if slot == board.Slot2 {
		return &s.Player2
	}
	return &s.Player1
}

// ConnectionState is the lifecycle of a transport.
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	Failed       ConnectionState = "failed"
)

// Role is fixed for the lifetime of a session.
type Role int

const (
	Host Role = iota + 1
	Guest
)

// Slot returns the player slot a role drives: the host is always slot 1.
func (r Role) Slot() board.Slot {
	if r == Guest {
		return board.Slot2
	}
	return board.Slot1
}

func (r Role) String() string {
	if r == Guest {
		return "guest"
	}
	return "host"
}

// RoleForSlot is the inverse of Role.Slot.
func RoleForSlot(s board.Slot) Role {
	if s == board.Slot2 {
		return Guest
	}
	return Host
}
