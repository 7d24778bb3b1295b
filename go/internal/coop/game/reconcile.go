package game

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopblocks/go/internal/coop/board"
	"github.com/mcdev12/coopblocks/go/internal/coop/controller"
	"github.com/mcdev12/coopblocks/go/internal/coop/protocol"
)

var _ protocol.Handler = (*Session)(nil)

// ApplyRemoteInput replays the peer's action on the peer's slot.
func (s *Session) ApplyRemoteInput(slot board.Slot, a controller.Action) {
	if slot == s.localSlot() || !slot.Valid() {
		return
	}

	s.mu.Lock()
	if !s.ready || s.paused || s.gameOver {
		s.mu.Unlock()
		return
	}
	out := s.ctrl.HandleAction(slot, a)
	var fx effects
	if out.Locked {
		fx = s.afterLockLocked([]board.Slot{slot})
	}
	s.mu.Unlock()

	s.apply(context.Background(), fx)
}

// ApplyRemoteState reconciles a received state. A snapshot overrides every
// field; an incremental state only updates the peer's piece, when it differs,
// and the pause flag.
func (s *Session) ApplyRemoteState(st protocol.State, mode protocol.Mode) {
	s.mu.Lock()
	switch mode {
	case protocol.ModeSnapshot:
		s.applySnapshotLocked(st)
	default:
		s.mergeLocked(st)
	}
	s.mu.Unlock()

	s.render()
}

func (s *Session) applySnapshotLocked(st protocol.State) {
	if st.Board != nil {
		s.ctrl.SetBoard(st.Board)
	}
	for _, slot := range []board.Slot{board.Slot1, board.Slot2} {
		ss := st.Slot(slot)
		s.setPieceLocked(slot, ss)
		if ss.Next != "" {
			s.ctrl.SetNextPiece(slot, ss.Next)
		}
		s.scores[slot] = ss.Score
		s.lines[slot] = ss.Lines
	}
	if st.Level > 0 {
		s.level = st.Level
	}
	s.paused = st.Paused
	s.gameOver = st.GameOver
}

func (s *Session) mergeLocked(st protocol.State) {
	other := s.localSlot().Other()
	ss := st.Slot(other)
	if s.pieceDiffers(other, ss) {
		s.setPieceLocked(other, ss)
	}
	s.paused = st.Paused
}

func (s *Session) setPieceLocked(slot board.Slot, ss *protocol.SlotState) {
	if ss.Piece == nil {
		s.ctrl.ClearPiece(slot)
		return
	}
	if err := s.ctrl.SetPiece(slot, *ss.Piece, ss.Position); err != nil {
		log.Warn().Err(err).Stringer("slot", slot).Msg("ignoring remote piece")
	}
}

func (s *Session) pieceDiffers(slot board.Slot, ss *protocol.SlotState) bool {
	cur := s.ctrl.Piece(slot)
	if cur == nil || ss.Piece == nil {
		return (cur == nil) != (ss.Piece == nil)
	}
	return cur.Descriptor() != *ss.Piece || s.ctrl.Position(slot) != ss.Position
}
