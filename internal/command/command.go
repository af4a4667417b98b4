// Package command models motion commands for the rover and everything that
// moves them between components: the serial and network wire codecs, the
// parser that pulls a command out of a language-model reply, and the
// [Dispatcher], which is the only path by which a command reaches the
// actuator link.
package command

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

// Action is a motion verb understood by the actuator board.
type Action string

const (
	Forward  Action = "forward"
	Backward Action = "backward"
	Left     Action = "left"
	Right    Action = "right"
	Stop     Action = "stop"
	Turn     Action = "turn"
)

// Actions lists every valid action in a stable order.
var Actions = []Action{Forward, Backward, Left, Right, Stop, Turn}

// ErrUnknownAction is returned when an action word is not one of [Actions].
var ErrUnknownAction = errors.New("command: unknown action")

// ParseAction normalises s (case and surrounding space) and validates it.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// ParamDirection is the params key carrying the direction of a turn.
const ParamDirection = "direction"

// Command is one motion request. A Command is immutable: construct it with
// [New] and do not modify Params afterwards.
type Command struct {
	Action Action
	Params map[string]any
}

// New returns a Command owning a private copy of params.
func New(action Action, params map[string]any) Command {
	p := maps.Clone(params)
	if p == nil {
		p = map[string]any{}
	}
	return Command{Action: action, Params: p}
}

// Param returns the value of a parameter and whether it is set.
func (c Command) Param(key string) (any, bool) {
	v, ok := c.Params[key]
	return v, ok
}

// Direction returns the lowercase direction parameter, or "" when absent or
// not a string.
func (c Command) Direction() string {
	v, ok := c.Params[ParamDirection].(string)
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// String returns a compact human-readable form for logs.
func (c Command) String() string {
	if d := c.Direction(); d != "" {
		return string(c.Action) + "(" + d + ")"
	}
	return string(c.Action)
}
