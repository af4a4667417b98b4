package command

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Reply is the structured form of a language-model answer.
type Reply struct {
	// Speech is the text to speak back to the user.
	Speech string

	// Command is the proposed motion, or nil when the model proposed none or
	// the reply could not be read as structured output.
	Command *Command

	// CommandErr is set when the reply carried a command object that could
	// not be turned into a [Command] (for example an unknown action). Command
	// is nil in that case.
	CommandErr error
}

// replyEnvelope is the JSON shape the model is prompted to produce.
type replyEnvelope struct {
	Speech  *string         `json:"speech"`
	Command json.RawMessage `json:"command"`
}

// ParseReply normalises a free-text model reply. The first balanced {...}
// substring is decoded as {"speech":...,"command":...}; if it is not valid
// JSON a repair pass is attempted. When no object is found, or the object is
// not a reply envelope, the whole trimmed text becomes Speech and Command is
// nil. ParseReply never fails.
func ParseReply(raw string) Reply {
	text := strings.TrimSpace(raw)
	obj, ok := ExtractObject(text)
	if !ok {
		return Reply{Speech: text}
	}

	var env replyEnvelope
	if err := unmarshalRepaired([]byte(obj), &env); err != nil {
		return Reply{Speech: text}
	}
	if env.Speech == nil && isNull(env.Command) {
		return Reply{Speech: text}
	}

	r := Reply{}
	if env.Speech != nil {
		r.Speech = strings.TrimSpace(*env.Speech)
	}
	if isNull(env.Command) {
		return r
	}

	var cmdObj map[string]any
	if err := json.Unmarshal(env.Command, &cmdObj); err != nil {
		r.CommandErr = err
		return r
	}
	cmd, err := fromObject(cmdObj)
	if err != nil {
		r.CommandErr = err
		return r
	}
	r.Command = &cmd
	return r
}

// ExtractObject returns the first balanced {...} substring of s. Braces inside
// JSON string literals are ignored. It reports false when s contains no
// complete object.
func ExtractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		if end, ok := matchBrace(s, start); ok {
			return s[start : end+1], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing the one at open.
func matchBrace(s string, open int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// unmarshalRepaired unmarshals data into v. On a syntax error it repairs the
// JSON (trailing commas, single quotes, unquoted keys) and tries once more.
func unmarshalRepaired(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syn *json.SyntaxError
	if !errors.As(err, &syn) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return rerr
	}
	return json.Unmarshal([]byte(fixed), v)
}

func isNull(m json.RawMessage) bool {
	s := strings.TrimSpace(string(m))
	return s == "" || s == "null"
}
