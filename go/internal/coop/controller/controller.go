// Package controller drives the two simultaneously falling pieces of a
// cooperative game. Slot 1 plays in the left zone of the shared board and
// slot 2 in the right zone; neither piece may ever leave its zone.
package controller

import (
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopblocks/go/internal/coop/board"
	"github.com/mcdev12/coopblocks/go/internal/coop/piece"
	"github.com/mcdev12/coopblocks/go/internal/coop/sequence"
)

type slotState struct {
	active   *piece.Piece
	position board.Position
	next     piece.Type
}

// GravityResult reports which slots locked their piece during a gravity step.
type GravityResult struct {
	Slot1Locked bool
	Slot2Locked bool
}

// Locked reports whether slot locked.
func (g GravityResult) Locked(slot board.Slot) bool {
	if slot == board.Slot2 {
		return g.Slot2Locked
	}
	return g.Slot1Locked
}

// Any reports whether either slot locked.
func (g GravityResult) Any() bool {
	return g.Slot1Locked || g.Slot2Locked
}

// LinesResult reports rows removed after a lock.
type LinesResult struct {
	LinesCleared int
	Indices      []int
}

// Outcome is the effect of a handled action.
type Outcome struct {
	Moved  bool
	Locked bool
}

// DualPieceController owns one active piece and one preview per slot.
type DualPieceController struct {
	board   *board.Board
	streams *sequence.Streams
	slots   map[board.Slot]*slotState
}

// New returns a controller over b whose piece streams derive from seed.
func New(b *board.Board, seed int64) *DualPieceController {
	c := &DualPieceController{
		board: b,
		slots: map[board.Slot]*slotState{
			board.Slot1: {},
			board.Slot2: {},
		},
	}
	c.Reseed(seed)
	return c
}

// Board returns the shared board.
func (c *DualPieceController) Board() *board.Board {
	return c.board
}

// Reseed resets both piece streams and previews from base. Active pieces are
// left untouched.
func (c *DualPieceController) Reseed(base int64) {
	c.streams = sequence.NewStreams(base)
	for _, slot := range []board.Slot{board.Slot1, board.Slot2} {
		c.slots[slot].next = c.streams.Slot(int(slot)).Consume()
	}
}

// Reset removes both active pieces.
func (c *DualPieceController) Reset() {
	for _, s := range c.slots {
		s.active = nil
		s.position = board.Position{}
	}
}

func (c *DualPieceController) state(slot board.Slot) *slotState {
	s, ok := c.slots[slot]
	if !ok {
		return c.slots[board.Slot1]
	}
	return s
}

// NextPiece returns the preview for slot.
func (c *DualPieceController) NextPiece(slot board.Slot) piece.Type {
	return c.state(slot).next
}

// Piece returns a copy of slot's active piece, or nil.
func (c *DualPieceController) Piece(slot board.Slot) *piece.Piece {
	p := c.state(slot).active
	if p == nil {
		return nil
	}
	return p.Clone()
}

// Position returns the origin of slot's active piece.
func (c *DualPieceController) Position(slot board.Slot) board.Position {
	return c.state(slot).position
}

// SpawnBoth spawns for slot 1 then slot 2 and reports whether both succeeded.
func (c *DualPieceController) SpawnBoth() bool {
	ok1 := c.Spawn(board.Slot1)
	ok2 := c.Spawn(board.Slot2)
	return ok1 && ok2
}

// Spawn consumes slot's preview, draws a new preview and places the consumed
// piece at the slot's spawn position. It returns false, without installing
// the piece, when the spawn position is blocked.
func (c *DualPieceController) Spawn(slot board.Slot) bool {
	s := c.state(slot)
	p := piece.New(s.next)
	s.next = c.streams.Slot(int(slot)).Consume()

	pos := c.board.SpawnPosition(slot)
	if !c.fits(slot, p, pos.X, pos.Y) {
		log.Warn().Stringer("slot", slot).Str("piece", string(p.Type)).Msg("spawn position blocked")
		return false
	}
	s.active = p
	s.position = pos
	return true
}

// fits checks board validity and zone containment together.
func (c *DualPieceController) fits(slot board.Slot, p *piece.Piece, x, y int) bool {
	zone := c.board.ZoneFor(slot)
	for _, cell := range p.Cells() {
		if !zone.Contains(x + cell.Col) {
			return false
		}
	}
	return c.board.IsValidPosition(p, x, y)
}

// Move shifts slot's piece by (dx, dy) when the destination is inside the
// slot's zone and free of collisions.
func (c *DualPieceController) Move(slot board.Slot, dx, dy int) bool {
	s := c.state(slot)
	if s.active == nil {
		return false
	}
	nx, ny := s.position.X+dx, s.position.Y+dy
	if !c.fits(slot, s.active, nx, ny) {
		return false
	}
	s.position = board.Position{X: nx, Y: ny}
	return true
}

// Rotate turns slot's piece clockwise, trying the wall-kick offsets when the
// in-place rotation does not fit. If every attempt fails the piece keeps its
// previous rotation and position.
func (c *DualPieceController) Rotate(slot board.Slot) bool {
	s := c.state(slot)
	if s.active == nil {
		return false
	}
	from := s.active.Rotation
	x, y := s.position.X, s.position.Y

	s.active.Rotate()
	if c.fits(slot, s.active, x, y) {
		return true
	}
	for _, k := range piece.WallKicks(s.active.Type, from) {
		if c.fits(slot, s.active, x+k.X, y+k.Y) {
			s.position = board.Position{X: x + k.X, Y: y + k.Y}
			return true
		}
	}

	s.active.Rotation = from
	return false
}

// HardDrop moves slot's piece down until blocked and locks it there.
func (c *DualPieceController) HardDrop(slot board.Slot) bool {
	s := c.state(slot)
	if s.active == nil {
		return false
	}
	for c.fits(slot, s.active, s.position.X, s.position.Y+1) {
		s.position.Y++
	}
	c.lock(s)
	return true
}

func (c *DualPieceController) lock(s *slotState) {
	c.board.LockPiece(s.active, s.position.X, s.position.Y)
	s.active = nil
}

// HandleAction applies a player action to slot.
func (c *DualPieceController) HandleAction(slot board.Slot, a Action) Outcome {
	if c.state(slot).active == nil {
		return Outcome{}
	}
	switch a {
	case ActionMoveLeft:
		return Outcome{Moved: c.Move(slot, -1, 0)}
	case ActionMoveRight:
		return Outcome{Moved: c.Move(slot, 1, 0)}
	case ActionRotate:
		return Outcome{Moved: c.Rotate(slot)}
	case ActionSoftDrop:
		return Outcome{Moved: c.Move(slot, 0, 1)}
	case ActionHardDrop:
		return Outcome{Moved: true, Locked: c.HardDrop(slot)}
	}
	return Outcome{}
}

// ApplyGravity moves each active piece down one row, locking pieces that
// cannot move. Locked slots are not respawned.
func (c *DualPieceController) ApplyGravity() GravityResult {
	return GravityResult{
		Slot1Locked: c.gravity(board.Slot1),
		Slot2Locked: c.gravity(board.Slot2),
	}
}

func (c *DualPieceController) gravity(slot board.Slot) bool {
	s := c.state(slot)
	if s.active == nil {
		return false
	}
	if c.Move(slot, 0, 1) {
		return false
	}
	c.lock(s)
	return true
}

// CheckAndClearLines removes completed rows from the board.
func (c *DualPieceController) CheckAndClearLines() LinesResult {
	res := c.board.ClearLines()
	return LinesResult{LinesCleared: res.Count, Indices: res.Indices}
}

// SetNextPiece forces slot's preview. Reserved for reconciliation.
func (c *DualPieceController) SetNextPiece(slot board.Slot, t piece.Type) {
	if !t.Valid() {
		return
	}
	c.state(slot).next = t
}

// SetPiece forces slot's active piece and position without validation.
// Reserved for reconciliation.
func (c *DualPieceController) SetPiece(slot board.Slot, d piece.Descriptor, pos board.Position) error {
	p, err := piece.FromDescriptor(d)
	if err != nil {
		return err
	}
	s := c.state(slot)
	s.active = p
	s.position = pos
	return nil
}

// ClearPiece removes slot's active piece. Reserved for reconciliation.
func (c *DualPieceController) ClearPiece(slot board.Slot) {
	c.state(slot).active = nil
}

// SetBoard replaces the locked cells. Reserved for reconciliation.
func (c *DualPieceController) SetBoard(cells [][]bool) {
	c.board.SetCells(cells)
}
