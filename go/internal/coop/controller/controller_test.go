package controller

import (
	"math/rand"
	"testing"

	"github.com/mcdev12/coopblocks/go/internal/coop/board"
	"github.com/mcdev12/coopblocks/go/internal/coop/piece"
)

func assertInZone(t *testing.T, c *DualPieceController, slot board.Slot) {
	t.Helper()
	p := c.Piece(slot)
	if p == nil {
		return
	}
	zone := c.Board().ZoneFor(slot)
	pos := c.Position(slot)
	for _, cell := range p.Cells() {
		x, y := pos.X+cell.Col, pos.Y+cell.Row
		if !zone.Contains(x) {
			t.Fatalf("%s piece %s rot %d has column %d outside %+v", slot, p.Type, p.Rotation, x, zone)
		}
		if y < 0 || y >= c.Board().Height() {
			t.Fatalf("%s piece has row %d out of bounds", slot, y)
		}
	}
}

func TestZoneContainment(t *testing.T) {
	actions := []Action{ActionMoveLeft, ActionMoveRight, ActionRotate, ActionSoftDrop, ActionHardDrop, ActionHold}
	rng := rand.New(rand.NewSource(7))

	for _, slot := range []board.Slot{board.Slot1, board.Slot2} {
		c := New(board.New(), 2024)
		if !c.SpawnBoth() {
			t.Fatal("initial spawn failed")
		}
		for i := 0; i < 5000; i++ {
			a := actions[rng.Intn(len(actions))]
			if a == ActionHardDrop && rng.Intn(4) != 0 {
				a = ActionMoveRight
				if rng.Intn(2) == 0 {
					a = ActionMoveLeft
				}
			}
			out := c.HandleAction(slot, a)
			assertInZone(t, c, slot)
			if out.Locked {
				c.CheckAndClearLines()
				if !c.Spawn(slot) {
					c.Board().Reset()
					c.Reset()
					c.SpawnBoth()
				}
			}
		}
	}
}

func TestSpawnPlacesPreviewAndDrawsNext(t *testing.T) {
	c := New(board.New(), 12345)
	preview := c.NextPiece(board.Slot1)

	if !c.Spawn(board.Slot1) {
		t.Fatal("spawn failed on empty board")
	}
	if got := c.Piece(board.Slot1).Type; got != preview {
		t.Fatalf("spawned %s, want preview %s", got, preview)
	}
	if pos := c.Position(board.Slot1); pos != (board.Position{X: 4, Y: 0}) {
		t.Fatalf("spawn position = %+v", pos)
	}
	if c.Piece(board.Slot2) != nil {
		t.Fatal("slot 2 should not have spawned")
	}
}

func TestSpawnBlockedDoesNotInstall(t *testing.T) {
	b := board.New()
	for x := 0; x < board.Width; x++ {
		b.Set(x, 0, true)
		b.Set(x, 1, true)
	}
	c := New(b, 1)

	if c.Spawn(board.Slot1) {
		t.Fatal("spawn should fail when the spawn rows are filled")
	}
	if c.Piece(board.Slot1) != nil {
		t.Fatal("blocked spawn must not install a piece")
	}
}

func TestControllersAgreeForSameSeed(t *testing.T) {
	a := New(board.New(), 555)
	b := New(board.New(), 555)
	for i := 0; i < 20; i++ {
		for _, slot := range []board.Slot{board.Slot1, board.Slot2} {
			a.Spawn(slot)
			b.Spawn(slot)
			if a.Piece(slot).Type != b.Piece(slot).Type || a.NextPiece(slot) != b.NextPiece(slot) {
				t.Fatalf("draw %d slot %s diverged", i, slot)
			}
		}
	}
}

func TestRotateWallKickAtZoneEdge(t *testing.T) {
	c := New(board.New(), 1)
	// Vertical I: occupied column is x+2, so x=21 puts it on column 23.
	if err := c.SetPiece(board.Slot2, piece.Descriptor{Type: piece.TypeI, Rotation: 1}, board.Position{X: 21, Y: 4}); err != nil {
		t.Fatal(err)
	}

	ok := c.Rotate(board.Slot2)
	assertInZone(t, c, board.Slot2)

	p := c.Piece(board.Slot2)
	pos := c.Position(board.Slot2)
	if ok {
		if p.Rotation != 2 {
			t.Fatalf("rotation = %d, want 2", p.Rotation)
		}
		if pos.X >= 21 {
			t.Fatalf("kick should shift left, x = %d", pos.X)
		}
		return
	}
	if p.Rotation != 1 || pos != (board.Position{X: 21, Y: 4}) {
		t.Fatalf("failed rotation must revert, got rot %d at %+v", p.Rotation, pos)
	}
}

func TestRotateRevertsWhenEveryKickFails(t *testing.T) {
	b := board.New()
	for y := 0; y < board.Height; y++ {
		for x := 0; x < board.Width; x++ {
			b.Set(x, y, true)
		}
	}
	for y := 4; y < 8; y++ {
		b.Set(23, y, false)
	}
	c := New(b, 1)
	if err := c.SetPiece(board.Slot2, piece.Descriptor{Type: piece.TypeI, Rotation: 1}, board.Position{X: 21, Y: 4}); err != nil {
		t.Fatal(err)
	}

	if c.Rotate(board.Slot2) {
		t.Fatal("rotation should fail in a one-column shaft")
	}
	p := c.Piece(board.Slot2)
	if p.Rotation != 1 {
		t.Fatalf("rotation = %d, want 1", p.Rotation)
	}
	if pos := c.Position(board.Slot2); pos != (board.Position{X: 21, Y: 4}) {
		t.Fatalf("position = %+v, want unchanged", pos)
	}
}

func TestMoveRejectedAtZoneBoundary(t *testing.T) {
	c := New(board.New(), 1)
	if err := c.SetPiece(board.Slot1, piece.Descriptor{Type: piece.TypeO}, board.Position{X: 10, Y: 0}); err != nil {
		t.Fatal(err)
	}
	if c.Move(board.Slot1, 1, 0) {
		t.Fatal("slot 1 piece must not cross into column 12")
	}
	if err := c.SetPiece(board.Slot2, piece.Descriptor{Type: piece.TypeO}, board.Position{X: 12, Y: 0}); err != nil {
		t.Fatal(err)
	}
	if c.Move(board.Slot2, -1, 0) {
		t.Fatal("slot 2 piece must not cross into column 11")
	}
}

func TestHardDropLocksImmediately(t *testing.T) {
	c := New(board.New(), 1)
	if err := c.SetPiece(board.Slot1, piece.Descriptor{Type: piece.TypeO}, board.Position{X: 0, Y: 0}); err != nil {
		t.Fatal(err)
	}

	out := c.HandleAction(board.Slot1, ActionHardDrop)
	if !out.Locked {
		t.Fatal("hard drop should report a lock")
	}
	if c.Piece(board.Slot1) != nil {
		t.Fatal("locked piece must not stay active")
	}
	last := board.Height - 1
	for _, cell := range [][2]int{{0, last}, {1, last}, {0, last - 1}, {1, last - 1}} {
		if !c.Board().Occupied(cell[0], cell[1]) {
			t.Fatalf("expected locked cell at %v", cell)
		}
	}
}

func TestGravityLocksWithoutRespawn(t *testing.T) {
	c := New(board.New(), 1)
	if err := c.SetPiece(board.Slot2, piece.Descriptor{Type: piece.TypeO}, board.Position{X: 14, Y: board.Height - 3}); err != nil {
		t.Fatal(err)
	}

	if res := c.ApplyGravity(); res.Any() {
		t.Fatalf("first step should move, got %+v", res)
	}
	res := c.ApplyGravity()
	if res.Slot1Locked || !res.Slot2Locked {
		t.Fatalf("gravity result = %+v, want only slot 2 locked", res)
	}
	if c.Piece(board.Slot2) != nil {
		t.Fatal("gravity must not respawn")
	}
}

func TestHoldIsIgnored(t *testing.T) {
	c := New(board.New(), 3)
	c.SpawnBoth()
	before := *c.Piece(board.Slot1)
	next := c.NextPiece(board.Slot1)

	if out := c.HandleAction(board.Slot1, ActionHold); out.Moved || out.Locked {
		t.Fatalf("hold outcome = %+v", out)
	}
	if *c.Piece(board.Slot1) != before || c.NextPiece(board.Slot1) != next {
		t.Fatal("hold must not change pieces")
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction("ROTATE"); err != nil || a != ActionRotate {
		t.Fatalf("ParseAction(ROTATE) = %q, %v", a, err)
	}
	if _, err := ParseAction("JUMP"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}
