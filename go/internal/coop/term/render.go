// Package term draws a cooperative session in the terminal and turns key
// presses into session commands.
package term

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nsf/termbox-go"

	"github.com/mcdev12/coopblocks/go/internal/coop/board"
	"github.com/mcdev12/coopblocks/go/internal/coop/piece"
	"github.com/mcdev12/coopblocks/go/internal/coop/protocol"
)

// Status is the connection summary shown above the board.
type Status struct {
	Room       string
	Role       protocol.Role
	Connection protocol.ConnectionState
	Latency    time.Duration
}

type cell struct {
	ch rune
	fg termbox.Attribute
	bg termbox.Attribute
}

// canvas is an off-screen grid; Screen copies it to the terminal.
type canvas struct {
	w, h  int
	cells []cell
}

func newCanvas(w, h int) *canvas {
	c := &canvas{w: w, h: h, cells: make([]cell, w*h)}
	for i := range c.cells {
		c.cells[i] = cell{ch: ' ', fg: termbox.ColorDefault, bg: termbox.ColorDefault}
	}
	return c
}

func (c *canvas) set(x, y int, ch rune, fg, bg termbox.Attribute) {
	if x < 0 || y < 0 || x >= c.w || y >= c.h {
		return
	}
	c.cells[y*c.w+x] = cell{ch: ch, fg: fg, bg: bg}
}

func (c *canvas) at(x, y int) cell {
	return c.cells[y*c.w+x]
}

func (c *canvas) text(x, y int, s string, fg termbox.Attribute) {
	for _, r := range s {
		c.set(x, y, r, fg, termbox.ColorDefault)
		x++
	}
}

const (
	boardX   = 1
	boardY   = 2
	sidebarW = 30
)

var slotColor = map[board.Slot]termbox.Attribute{
	board.Slot1: termbox.ColorCyan,
	board.Slot2: termbox.ColorYellow,
}

// layout draws st into a canvas sized for the board plus the sidebar.
func layout(st protocol.State, status Status) *canvas {
	rows := len(st.Board)
	cols := board.Width
	if rows > 0 {
		cols = len(st.Board[0])
	} else {
		rows = board.Height
	}

	c := newCanvas(boardX+cols*2+2+sidebarW, boardY+rows+4)

	c.text(0, 0, fmt.Sprintf("coopblocks  room %s  %s  %s  %dms",
		status.Room, status.Role, status.Connection, status.Latency.Milliseconds()), termbox.ColorWhite|termbox.AttrBold)

	// Frame.
	for y := 0; y < rows; y++ {
		c.set(boardX-1, boardY+y, '│', termbox.ColorWhite, termbox.ColorDefault)
		c.set(boardX+cols*2, boardY+y, '│', termbox.ColorWhite, termbox.ColorDefault)
	}
	for x := boardX - 1; x <= boardX+cols*2; x++ {
		c.set(x, boardY+rows, '─', termbox.ColorWhite, termbox.ColorDefault)
	}

	half := cols / 2
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			px := boardX + x*2
			filled := y < len(st.Board) && x < len(st.Board[y]) && st.Board[y][x]
			if filled {
				c.set(px, boardY+y, '[', termbox.ColorWhite, termbox.ColorDefault)
				c.set(px+1, boardY+y, ']', termbox.ColorWhite, termbox.ColorDefault)
				continue
			}
			dot := termbox.ColorBlue
			if x >= half {
				dot = termbox.ColorMagenta
			}
			c.set(px+1, boardY+y, '.', dot, termbox.ColorDefault)
		}
	}

	for _, slot := range []board.Slot{board.Slot1, board.Slot2} {
		ss := st.Slot(slot)
		if ss.Piece == nil {
			continue
		}
		p, err := piece.FromDescriptor(*ss.Piece)
		if err != nil {
			continue
		}
		for _, pc := range p.Cells() {
			x, y := ss.Position.X+pc.Col, ss.Position.Y+pc.Row
			if x < 0 || x >= cols || y < 0 || y >= rows {
				continue
			}
			px := boardX + x*2
			c.set(px, boardY+y, '[', slotColor[slot]|termbox.AttrBold, termbox.ColorDefault)
			c.set(px+1, boardY+y, ']', slotColor[slot]|termbox.AttrBold, termbox.ColorDefault)
		}
	}

	sx := boardX + cols*2 + 3
	line := boardY
	for _, slot := range []board.Slot{board.Slot1, board.Slot2} {
		ss := st.Slot(slot)
		c.text(sx, line, fmt.Sprintf("%s  score %d", slot, ss.Score), slotColor[slot])
		c.text(sx, line+1, fmt.Sprintf("    lines %d  next %s", ss.Lines, ss.Next), termbox.ColorDefault)
		line += 3
	}
	c.text(sx, line, fmt.Sprintf("team  %d", st.Score), termbox.ColorWhite|termbox.AttrBold)
	c.text(sx, line+1, fmt.Sprintf("lines %d  level %d", st.Lines, st.Level), termbox.ColorDefault)

	switch {
	case st.GameOver:
		c.text(sx, line+3, "GAME OVER  (R to restart)", termbox.ColorRed|termbox.AttrBold)
	case st.Paused:
		c.text(sx, line+3, "PAUSED", termbox.ColorYellow|termbox.AttrBold)
	}

	c.text(0, boardY+rows+2, Help, termbox.ColorDefault)
	return c
}

// Screen owns the terminal while a session runs.
type Screen struct {
	mu     sync.Mutex
	status Status
}

// Open initialises the terminal. Close must be called to restore it.
func Open() (*Screen, error) {
	if err := termbox.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialise terminal: %w", err)
	}
	termbox.SetInputMode(termbox.InputEsc)
	return &Screen{}, nil
}

func (s *Screen) Close() {
	termbox.Close()
}

func (s *Screen) SetStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Draw renders st. Safe for concurrent use.
func (s *Screen) Draw(st protocol.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := layout(st, s.status)
	if err := termbox.Clear(termbox.ColorDefault, termbox.ColorDefault); err != nil {
		return err
	}
	for y := 0; y < c.h; y++ {
		for x := 0; x < c.w; x++ {
			cl := c.at(x, y)
			termbox.SetCell(x, y, cl.ch, cl.fg, cl.bg)
		}
	}
	return termbox.Flush()
}

// Inputs streams translated key presses until ctx is done.
func (s *Screen) Inputs(ctx context.Context) <-chan Input {
	out := make(chan Input)
	go func() {
		defer close(out)
		for {
			ev := termbox.PollEvent()
			switch ev.Type {
			case termbox.EventInterrupt, termbox.EventError:
				return
			}
			in := Translate(ev)
			if in.Command == CommandNone {
				continue
			}
			select {
			case out <- in:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		termbox.Interrupt()
	}()
	return out
}
