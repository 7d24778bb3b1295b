package controller

import "fmt"

// Action is a discrete player input.
type Action string

const (
	ActionMoveLeft  Action = "MOVE_LEFT"
	ActionMoveRight Action = "MOVE_RIGHT"
	ActionRotate    Action = "ROTATE"
	ActionSoftDrop  Action = "SOFT_DROP"
	ActionHardDrop  Action = "HARD_DROP"
	ActionHold      Action = "HOLD"
)

// ParseAction validates a wire action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionMoveLeft, ActionMoveRight, ActionRotate, ActionSoftDrop, ActionHardDrop, ActionHold:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}
