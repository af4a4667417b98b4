package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Format selects how a command is written to the actuator board.
type Format string

const (
	// FormatWord writes the bare lowercase action word. A turn with a left or
	// right direction is written as that direction. This is what the stock
	// board firmware reads.
	FormatWord Format = "word"

	// FormatJSON writes {"action":...,"params":{...}}.
	FormatJSON Format = "json"
)

// IsValid reports whether f is a known format.
func (f Format) IsValid() bool {
	return f == FormatWord || f == FormatJSON
}

// ModeManual is the mode tag carried by command-in requests.
const ModeManual = "manual"

// wireCommand is the JSON shape of a command-in request.
type wireCommand struct {
	Mode   string         `json:"mode,omitempty"`
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// boardCommand is the JSON line written to the actuator. The board expects
// params even when there are none.
type boardCommand struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// EncodeLine serialises c as one newline-terminated line in format f.
func EncodeLine(c Command, f Format) ([]byte, error) {
	switch f {
	case FormatWord, "":
		word := string(c.Action)
		if c.Action == Turn {
			switch d := c.Direction(); d {
			case string(Left), string(Right):
				word = d
			}
		}
		return []byte(word + "\n"), nil
	case FormatJSON:
		b, err := json.Marshal(boardCommand{Action: string(c.Action), Params: nonNil(c.Params)})
		if err != nil {
			return nil, fmt.Errorf("command: encode: %w", err)
		}
		return append(b, '\n'), nil
	default:
		return nil, fmt.Errorf("command: unknown wire format %q", f)
	}
}

// EncodeManual serialises c as a command-in request:
// {"mode":"manual","action":...,"params":{...}} followed by a newline.
func EncodeManual(c Command) ([]byte, error) {
	wc := wireCommand{Mode: ModeManual, Action: string(c.Action)}
	if len(c.Params) > 0 {
		wc.Params = c.Params
	}
	b, err := json.Marshal(wc)
	if err != nil {
		return nil, fmt.Errorf("command: encode manual: %w", err)
	}
	return append(b, '\n'), nil
}

// DecodeLine parses one command line. It accepts a JSON object carrying an
// "action" field (with optional "mode" and "params") or a bare action word.
// Top-level fields other than mode, action and params are folded into params,
// so {"action":"turn","direction":"left"} yields a turn with a direction.
func DecodeLine(line []byte) (Command, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Command{}, errors.New("command: empty line")
	}
	if line[0] != '{' {
		a, err := ParseAction(string(line))
		if err != nil {
			return Command{}, err
		}
		return New(a, nil), nil
	}

	var obj map[string]any
	if err := json.Unmarshal(line, &obj); err != nil {
		return Command{}, fmt.Errorf("command: decode: %w", err)
	}
	return fromObject(obj)
}

// fromObject builds a Command from a decoded JSON object.
func fromObject(obj map[string]any) (Command, error) {
	raw, ok := obj["action"].(string)
	if !ok {
		return Command{}, fmt.Errorf("%w: missing action", ErrUnknownAction)
	}
	a, err := ParseAction(raw)
	if err != nil {
		return Command{}, err
	}
	params := map[string]any{}
	if p, ok := obj["params"].(map[string]any); ok {
		for k, v := range p {
			params[k] = v
		}
	}
	for k, v := range obj {
		switch k {
		case "action", "params", "mode":
			continue
		}
		if _, set := params[k]; !set {
			params[k] = v
		}
	}
	return Command{Action: a, Params: params}, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
