package board

import (
	"testing"

	"github.com/mcdev12/coopblocks/go/internal/coop/piece"
)

func fillRow(b *Board, y int) {
	for x := 0; x < b.Width(); x++ {
		b.Set(x, y, true)
	}
}

func TestClearLinesPreservesOrder(t *testing.T) {
	b := NewWithSize(Width, 12)
	fillRow(b, 10)
	fillRow(b, 11)
	b.Set(5, 9, true)

	res := b.ClearLines()
	if res.Count != 2 {
		t.Fatalf("cleared %d rows, want 2", res.Count)
	}
	if len(res.Indices) != 2 || res.Indices[0] != 10 || res.Indices[1] != 11 {
		t.Fatalf("indices = %v, want [10 11]", res.Indices)
	}
	if !b.Occupied(5, 11) {
		t.Fatal("block at (5, 9) should have moved to (5, 11)")
	}
	if b.Occupied(5, 9) {
		t.Fatal("(5, 9) should be empty after the shift")
	}
	for _, y := range []int{0, 1} {
		for x := 0; x < b.Width(); x++ {
			if b.Occupied(x, y) {
				t.Fatalf("row %d not empty at column %d", y, x)
			}
		}
	}
}

func TestClearLinesNonAdjacent(t *testing.T) {
	b := New()
	fillRow(b, 11)
	fillRow(b, 8)
	b.Set(0, 10, true)
	b.Set(1, 9, true)
	b.Set(2, 7, true)

	if res := b.ClearLines(); res.Count != 2 {
		t.Fatalf("cleared %d rows, want 2", res.Count)
	}
	for _, c := range []struct{ x, y int }{{0, 11}, {1, 10}, {2, 9}} {
		if !b.Occupied(c.x, c.y) {
			t.Fatalf("expected block at (%d, %d)", c.x, c.y)
		}
	}
}

func TestLockPieceDropsOutOfBoundsCells(t *testing.T) {
	b := New()
	p := piece.New(piece.TypeI)
	p.Rotation = 1

	b.LockPiece(p, 0, Height-2)

	if !b.Occupied(2, Height-1) || !b.Occupied(2, Height-2) {
		t.Fatal("in-bounds cells should be locked")
	}
	filled := 0
	for _, row := range b.Cells() {
		for _, c := range row {
			if c {
				filled++
			}
		}
	}
	if filled != 2 {
		t.Fatalf("locked %d cells, want 2", filled)
	}
}

func TestIsValidPosition(t *testing.T) {
	b := New()
	p := piece.New(piece.TypeO)
	b.Set(10, 5, true)

	tests := []struct {
		name string
		x, y int
		want bool
	}{
		{name: "open", x: 0, y: 0, want: true},
		{name: "left edge", x: -1, y: 0, want: false},
		{name: "right edge", x: Width - 1, y: 0, want: false},
		{name: "floor", x: 0, y: Height - 1, want: false},
		{name: "collision", x: 9, y: 4, want: false},
		{name: "zone boundary ignored", x: 11, y: 0, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.IsValidPosition(p, tt.x, tt.y); got != tt.want {
				t.Fatalf("IsValidPosition(%d, %d) = %v, want %v", tt.x, tt.y, got, tt.want)
			}
		})
	}
}

func TestZonesAndSpawn(t *testing.T) {
	b := New()
	if z := b.ZoneFor(Slot1); z != (Zone{StartX: 0, EndX: 11}) {
		t.Fatalf("slot 1 zone = %+v", z)
	}
	if z := b.ZoneFor(Slot2); z != (Zone{StartX: 12, EndX: 23}) {
		t.Fatalf("slot 2 zone = %+v", z)
	}
	if p := b.SpawnPosition(Slot2); p != (Position{X: 16, Y: 0}) {
		t.Fatalf("slot 2 spawn = %+v", p)
	}
}

func TestSetCellsCopies(t *testing.T) {
	b := New()
	cells := b.Cells()
	cells[3][4] = true
	if b.Occupied(4, 3) {
		t.Fatal("Cells must return a copy")
	}
	b.SetCells(cells)
	cells[3][5] = true
	if !b.Occupied(4, 3) || b.Occupied(5, 3) {
		t.Fatal("SetCells must copy its input")
	}
}
