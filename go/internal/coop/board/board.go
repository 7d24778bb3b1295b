package board

import (
	"fmt"

	"github.com/mcdev12/coopblocks/go/internal/coop/piece"
)

// Default cooperative board dimensions: two 12-column zones side by side.
const (
	Width  = 24
	Height = 12
)

// Slot is one of the two fixed player identities of a session.
type Slot int

const (
	Slot1 Slot = 1
	Slot2 Slot = 2
)

// Valid reports whether s is 1 or 2.
func (s Slot) Valid() bool {
	return s == Slot1 || s == Slot2
}

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	if s == Slot1 {
		return Slot2
	}
	return Slot1
}

func (s Slot) String() string {
	return fmt.Sprintf("P%d", int(s))
}

// Zone is an inclusive column range owned by one slot.
type Zone struct {
	StartX int `json:"startX"`
	EndX   int `json:"endX"`
}

// Contains reports whether column x lies inside the zone.
func (z Zone) Contains(x int) bool {
	return x >= z.StartX && x <= z.EndX
}

// Position is a piece origin on the board.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ClearResult describes the rows removed by ClearLines.
type ClearResult struct {
	Count   int
	Indices []int
}

// Board is the shared occupancy grid. Rows are indexed top to bottom.
type Board struct {
	width  int
	height int
	grid   [][]bool
}

// New returns an empty board with the cooperative dimensions.
func New() *Board {
	return NewWithSize(Width, Height)
}

// NewWithSize returns an empty board of the given dimensions.
func NewWithSize(width, height int) *Board {
	b := &Board{width: width, height: height}
	b.grid = emptyGrid(width, height)
	return b
}

func emptyGrid(width, height int) [][]bool {
	g := make([][]bool, height)
	for y := range g {
		g[y] = make([]bool, width)
	}
	return g
}

// Width returns the number of columns.
func (b *Board) Width() int { return b.width }

// Height returns the number of rows.
func (b *Board) Height() int { return b.height }

// Occupied reports whether the cell at (x, y) holds a locked block.
// Out-of-range coordinates are reported as unoccupied.
func (b *Board) Occupied(x, y int) bool {
	if !b.inBounds(x, y) {
		return false
	}
	return b.grid[y][x]
}

// Set marks a single cell. Out-of-range coordinates are ignored.
func (b *Board) Set(x, y int, filled bool) {
	if b.inBounds(x, y) {
		b.grid[y][x] = filled
	}
}

func (b *Board) inBounds(x, y int) bool {
	return x >= 0 && x < b.width && y >= 0 && y < b.height
}

// ZoneFor returns the columns owned by slot. The board is split in half.
func (b *Board) ZoneFor(slot Slot) Zone {
	half := b.width / 2
	if slot == Slot2 {
		return Zone{StartX: half, EndX: b.width - 1}
	}
	return Zone{StartX: 0, EndX: half - 1}
}

// SpawnPosition centres a four-wide piece in the slot's zone, at the top.
func (b *Board) SpawnPosition(slot Slot) Position {
	return Position{X: b.ZoneFor(slot).StartX + 4, Y: 0}
}

// IsValidPosition checks bounds and collisions with locked cells. It does not
// know about zones; zone containment is enforced by the controller.
func (b *Board) IsValidPosition(p *piece.Piece, x, y int) bool {
	for _, c := range p.Cells() {
		nx, ny := x+c.Col, y+c.Row
		if !b.inBounds(nx, ny) {
			return false
		}
		if b.grid[ny][nx] {
			return false
		}
	}
	return true
}

// LockPiece writes the piece's cells into the grid. Cells outside the board
// are dropped.
func (b *Board) LockPiece(p *piece.Piece, x, y int) {
	for _, c := range p.Cells() {
		b.Set(x+c.Col, y+c.Row, true)
	}
}

// ClearLines removes every full row and inserts as many empty rows at the top,
// keeping the remaining rows in their relative order.
func (b *Board) ClearLines() ClearResult {
	var indices []int
	kept := make([][]bool, 0, b.height)
	for y, row := range b.grid {
		if full(row) {
			indices = append(indices, y)
			continue
		}
		kept = append(kept, row)
	}
	if len(indices) == 0 {
		return ClearResult{}
	}

	g := emptyGrid(b.width, len(indices))
	b.grid = append(g, kept...)
	return ClearResult{Count: len(indices), Indices: indices}
}

func full(row []bool) bool {
	for _, c := range row {
		if !c {
			return false
		}
	}
	return true
}

// Cells returns a copy of the grid.
func (b *Board) Cells() [][]bool {
	out := make([][]bool, b.height)
	for y, row := range b.grid {
		out[y] = append([]bool(nil), row...)
	}
	return out
}

// SetCells replaces the grid with a copy of cells. Rows or columns beyond the
// board dimensions are ignored and missing ones are left empty.
func (b *Board) SetCells(cells [][]bool) {
	g := emptyGrid(b.width, b.height)
	for y := 0; y < b.height && y < len(cells); y++ {
		copy(g[y], cells[y])
	}
	b.grid = g
}

// Reset clears every cell.
func (b *Board) Reset() {
	b.grid = emptyGrid(b.width, b.height)
}
