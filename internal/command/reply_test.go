package command

import (
	"errors"
	"testing"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		speech    string
		action    Action // "" means no command
		direction string
	}{
		{
			name:   "strict envelope",
			raw:    `{"speech":"Moving forward","command":{"action":"forward","params":{}}}`,
			speech: "Moving forward",
			action: Forward,
		},
		{
			name:      "prose around json",
			raw:       "Sure thing!\n" + `{"speech":"Turning left","command":{"action":"turn","direction":"left"}}` + "\nEnjoy.",
			speech:    "Turning left",
			action:    Turn,
			direction: "left",
		},
		{
			name:   "null command",
			raw:    `{"speech":"Hello!","command":null}`,
			speech: "Hello!",
		},
		{
			name:   "speech only",
			raw:    `{"speech":"I can hear you."}`,
			speech: "I can hear you.",
		},
		{
			name:   "no braces",
			raw:    "  I am not sure what you mean.  ",
			speech: "I am not sure what you mean.",
		},
		{
			name:   "braces inside strings",
			raw:    `{"speech":"use {curly} braces }","command":{"action":"stop"}}`,
			speech: "use {curly} braces }",
			action: Stop,
		},
		{
			name:   "nested params",
			raw:    `{"speech":"Go","command":{"action":"forward","params":{"speed":{"pct":50}}}}`,
			speech: "Go",
			action: Forward,
		},
		{
			name:   "trailing commas repaired",
			raw:    `{"speech":"Stopping","command":{"action":"stop",},}`,
			speech: "Stopping",
			action: Stop,
		},
		{
			name:   "single quotes repaired",
			raw:    `{'speech': 'Backing up', 'command': {'action': 'backward'}}`,
			speech: "Backing up",
			action: Backward,
		},
		{
			name:   "unrelated object becomes speech",
			raw:    `The answer is {"x": 1}`,
			speech: `The answer is {"x": 1}`,
		},
		{
			name:   "unterminated object becomes speech",
			raw:    `{"speech":"half`,
			speech: `{"speech":"half`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseReply(tt.raw)
			if r.Speech != tt.speech {
				t.Errorf("Speech = %q, want %q", r.Speech, tt.speech)
			}
			if tt.action == "" {
				if r.Command != nil {
					t.Errorf("Command = %v, want nil", r.Command)
				}
				return
			}
			if r.Command == nil {
				t.Fatalf("Command = nil, want %s (CommandErr: %v)", tt.action, r.CommandErr)
			}
			if r.Command.Action != tt.action {
				t.Errorf("Action = %q, want %q", r.Command.Action, tt.action)
			}
			if r.Command.Direction() != tt.direction {
				t.Errorf("Direction = %q, want %q", r.Command.Direction(), tt.direction)
			}
		})
	}
}

func TestParseReply_UnknownAction(t *testing.T) {
	r := ParseReply(`{"speech":"Dancing!","command":{"action":"dance"}}`)
	if r.Command != nil {
		t.Fatalf("Command = %v, want nil", r.Command)
	}
	if !errors.Is(r.CommandErr, ErrUnknownAction) {
		t.Errorf("CommandErr = %v, want ErrUnknownAction", r.CommandErr)
	}
	if r.Speech != "Dancing!" {
		t.Errorf("Speech = %q", r.Speech)
	}
}

func TestExtractObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"nothing here", "", false},
		{"{never closed", "", false},
		{"stray } then {\"a\":1}", `{"a":1}`, true},
		{`x {"a":{"b":2}} y {"c":3}`, `{"a":{"b":2}}`, true},
		{`{"s":"\"}"}`, `{"s":"\"}"}`, true},
		{"{ {inner} ", "{inner}", true},
	}
	for _, tt := range tests {
		got, ok := ExtractObject(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ExtractObject(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
