package command

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// StopWords are the spoken words that halt the rover without a round trip to
// the language model.
var StopWords = []string{"stop", "halt", "freeze"}

// fillerWords may surround a stop word without defeating the shortcut.
var fillerWords = map[string]struct{}{
	"please": {}, "now": {}, "ok": {}, "okay": {}, "robot": {}, "rover": {},
}

const (
	defaultStopThreshold = 0.80
	maxShortcutWords     = 4
)

// StopMatcher recognises short transcripts that mean "stop". Transcription
// engines routinely mangle a single shouted word ("stahp", "stopp"),
// so every word is compared phonetically with Double Metaphone and
// ranked with Jaro-Winkler. Safe for concurrent use.
type StopMatcher struct {
	words     []string
	codes     map[string]struct{}
	threshold float64
}

// NewStopMatcher returns a matcher for words, or [StopWords] when none are
// given.
func NewStopMatcher(words ...string) *StopMatcher {
	if len(words) == 0 {
		words = StopWords
	}
	m := &StopMatcher{
		codes:     make(map[string]struct{}, len(words)*2),
		threshold: defaultStopThreshold,
	}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		m.words = append(m.words, w)
		p, s := matchr.DoubleMetaphone(w)
		if p != "" {
			m.codes[p] = struct{}{}
		}
		if s != "" {
			m.codes[s] = struct{}{}
		}
	}
	return m
}

// Match reports whether transcript consists only of stop words, optionally
// with filler such as "please" or "now". Long sentences never match: "stop
// at the door" is left for the language model.
func (m *StopMatcher) Match(transcript string) bool {
	tokens := tokenize(transcript)
	if len(tokens) == 0 || len(tokens) > maxShortcutWords {
		return false
	}
	hits := 0
	for _, t := range tokens {
		if _, filler := fillerWords[t]; filler {
			continue
		}
		if !m.matchWord(t) {
			return false
		}
		hits++
	}
	return hits > 0
}

// matchWord reports whether a single lowercase token sounds like a stop word.
func (m *StopMatcher) matchWord(tok string) bool {
	p, s := matchr.DoubleMetaphone(tok)
	_, pOK := m.codes[p]
	_, sOK := m.codes[s]
	phonetic := (p != "" && pOK) || (s != "" && sOK)
	for _, w := range m.words {
		if tok == w {
			return true
		}
		if phonetic && matchr.JaroWinkler(tok, w, false) >= m.threshold {
			return true
		}
	}
	return false
}

// tokenize lowercases s and splits it on anything that is not a letter.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}
