package orchestrator

import (
	"sync"
	"time"

	"github.com/MrWong99/roverlink/pkg/provider/llm"
)

// History keeps the most recent conversation turns and replays them to the
// language model as context.
//
// The history enforces a maximum turn count and, when maxAge is positive, a
// maximum age. Turns exceeding either limit are evicted on every [History.Add].
//
// All methods are safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	turns   []Turn
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
}

// Turn is one user utterance and the reply spoken back.
type Turn struct {
	// User is the transcript of the user's utterance.
	User string

	// Assistant is the text that was spoken in reply. Empty when nothing
	// was spoken.
	Assistant string

	// Timestamp records when the turn completed.
	Timestamp time.Time
}

// NewHistory creates a history that retains at most maxSize turns. A
// non-positive maxAge disables age eviction.
func NewHistory(maxSize int, maxAge time.Duration) *History {
	if maxSize < 0 {
		maxSize = 0
	}
	return &History{
		turns:   make([]Turn, 0, maxSize),
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Add appends a turn and evicts turns that exceed the configured limits.
func (h *History) Add(user, assistant string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, Turn{User: user, Assistant: assistant, Timestamp: h.now()})
	h.evict()
}

// Messages flattens the retained turns into alternating user and assistant
// messages, oldest first. Turns with no reply contribute only the user
// message.
func (h *History) Messages() []llm.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msgs := make([]llm.Message, 0, 2*len(h.turns))
	for _, t := range h.turns {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.User})
		if t.Assistant != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: t.Assistant})
		}
	}
	return msgs
}

// Turns returns all retained turns in chronological order.
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len reports the number of retained turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// evict removes turns that are too old or exceed maxSize.
// Must be called with h.mu held.
//
// Surviving turns are copied to a fresh backing array so evicted turns can
// be collected.
func (h *History) evict() {
	start := 0
	if h.maxAge > 0 {
		cutoff := h.now().Add(-h.maxAge)
		for start < len(h.turns) && h.turns[start].Timestamp.Before(cutoff) {
			start++
		}
	}

	keep := h.turns[start:]
	if len(keep) > h.maxSize {
		keep = keep[len(keep)-h.maxSize:]
	}

	if start > 0 || len(keep) < len(h.turns) {
		fresh := make([]Turn, len(keep), h.maxSize)
		copy(fresh, keep)
		h.turns = fresh
	}
}
