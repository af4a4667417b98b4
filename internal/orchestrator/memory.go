package orchestrator

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

var (
	nameStatement = regexp.MustCompile(`(?i)\bmy name is ([\p{L}][\p{L}'-]*)`)
	nameQuestion  = regexp.MustCompile(`(?i)\bwhat(?:'s| is) my name\b`)
	repeatRequest = regexp.MustCompile(`(?i)\b(?:repeat the question|what did i (?:just )?say)\b`)
)

// Memory answers a small set of session questions without the language
// model: the user's name and a repeat of the previous request.
//
// All methods are safe for concurrent use.
type Memory struct {
	mu   sync.Mutex
	name string
	last string
}

// NewMemory returns an empty session memory.
func NewMemory() *Memory {
	return &Memory{}
}

// Answer checks transcript against the memory rules. When a rule matches it
// returns the reply to speak and true. Every transcript that is not itself a
// repeat request becomes the new "previous" transcript.
func (m *Memory) Answer(transcript string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if repeatRequest.MatchString(transcript) {
		if m.last == "" {
			return "You haven't said anything yet.", true
		}
		return "You said: " + m.last, true
	}
	m.last = strings.TrimSpace(transcript)

	if match := nameStatement.FindStringSubmatch(transcript); match != nil {
		m.name = capitalize(match[1])
		return "Nice to meet you, " + m.name + ".", true
	}
	if nameQuestion.MatchString(transcript) {
		if m.name == "" {
			return "I don't know your name yet.", true
		}
		return "Your name is " + m.name + ".", true
	}
	return "", false
}

// Name returns the remembered user name, or "" when none was given.
func (m *Memory) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
