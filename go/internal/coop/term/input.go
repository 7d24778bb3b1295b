package term

import (
	"github.com/nsf/termbox-go"

	"github.com/mcdev12/coopblocks/go/internal/coop/board"
	"github.com/mcdev12/coopblocks/go/internal/coop/controller"
)

// Command is what a key press asks the session to do.
type Command int

const (
	CommandNone Command = iota
	CommandAction
	CommandPause
	CommandRestart
	CommandQuit
)

// Input is a translated key press.
type Input struct {
	Command Command
	Action  controller.Action
	// Layout is the slot whose key layout produced an action. Two players
	// sharing one keyboard are told apart by it.
	Layout board.Slot
}

// Both layouts drive the local slot: WASD with Q/E, or the arrows with
// Space and Enter.
var runeActions = map[rune]controller.Action{
	'a': controller.ActionMoveLeft,
	'd': controller.ActionMoveRight,
	'w': controller.ActionRotate,
	's': controller.ActionSoftDrop,
	'q': controller.ActionHardDrop,
	'e': controller.ActionHold,
}

var keyActions = map[termbox.Key]controller.Action{
	termbox.KeyArrowLeft:  controller.ActionMoveLeft,
	termbox.KeyArrowRight: controller.ActionMoveRight,
	termbox.KeyArrowUp:    controller.ActionRotate,
	termbox.KeyArrowDown:  controller.ActionSoftDrop,
	termbox.KeySpace:      controller.ActionHardDrop,
	termbox.KeyEnter:      controller.ActionHold,
}

// Translate maps a terminal event to an Input.
func Translate(ev termbox.Event) Input {
	if ev.Type != termbox.EventKey {
		return Input{}
	}
	switch ev.Key {
	case termbox.KeyEsc, termbox.KeyCtrlC:
		return Input{Command: CommandQuit}
	}
	if a, ok := keyActions[ev.Key]; ok && ev.Ch == 0 {
		return Input{Command: CommandAction, Action: a, Layout: board.Slot2}
	}

	ch := ev.Ch
	if ch >= 'A' && ch <= 'Z' {
		ch += 'a' - 'A'
	}
	switch ch {
	case 'p':
		return Input{Command: CommandPause}
	case 'r':
		return Input{Command: CommandRestart}
	case 'x':
		return Input{Command: CommandQuit}
	}
	if a, ok := runeActions[ch]; ok {
		return Input{Command: CommandAction, Action: a, Layout: board.Slot1}
	}
	return Input{}
}

// Help is the controls line shown under the board.
const Help = "WASD/arrows move+rotate  Q/Space drop  E/Enter hold  P pause  R restart  Esc quit"
