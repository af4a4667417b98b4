package energy

import (
	"testing"

	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/provider/vad"
)

func frame(level float32) audio.Frame {
	s := make([]float32, 64)
	for i := range s {
		s[i] = level
	}
	return audio.Frame{Samples: s, SampleRate: 16000}
}

func newSession(t *testing.T, threshold float64, silence int) *Session {
	t.Helper()
	h, err := New().NewSession(vad.Config{SampleRate: 16000, SpeechThreshold: threshold, SilenceFrames: silence})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return h.(*Session)
}

func TestSession_Hysteresis(t *testing.T) {
	s := newSession(t, 0.25, 3)

	steps := []struct {
		level float32
		want  vad.VADEventType
	}{
		{0.0, vad.VADSilence},
		{0.25, vad.VADSilence}, // equal to threshold is not speech
		{0.5, vad.VADSpeechStart},
		{0.5, vad.VADSpeechContinue},
		{0.0, vad.VADSpeechContinue},
		{0.0, vad.VADSpeechContinue},
		{0.5, vad.VADSpeechContinue}, // resets the silent run
		{0.0, vad.VADSpeechContinue},
		{0.0, vad.VADSpeechContinue},
		{0.0, vad.VADSpeechEnd},
		{0.0, vad.VADSilence},
		{0.9, vad.VADSpeechStart},
	}
	for i, st := range steps {
		ev, err := s.ProcessFrame(frame(st.level))
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if ev.Type != st.want {
			t.Errorf("step %d (level %v): got %s, want %s", i, st.level, ev.Type, st.want)
		}
	}
}

func TestSession_ResetReturnsToIdle(t *testing.T) {
	s := newSession(t, 0.1, 2)
	if ev, _ := s.ProcessFrame(frame(0.5)); ev.Type != vad.VADSpeechStart {
		t.Fatalf("got %s", ev.Type)
	}
	s.Reset()
	if ev, _ := s.ProcessFrame(frame(0.5)); ev.Type != vad.VADSpeechStart {
		t.Errorf("after Reset got %s, want speech_start", ev.Type)
	}
}

func TestSession_SetThreshold(t *testing.T) {
	s := newSession(t, 0.1, 2)
	s.SetThreshold(0.6)
	if ev, _ := s.ProcessFrame(frame(0.5)); ev.Type != vad.VADSilence {
		t.Errorf("got %s, want silence under raised threshold", ev.Type)
	}
	if s.Threshold() != 0.6 {
		t.Errorf("Threshold = %v", s.Threshold())
	}
}

func TestSession_Level(t *testing.T) {
	s := newSession(t, 0.1, 2)
	ev, _ := s.ProcessFrame(frame(0.25))
	if ev.Level != 0.25 {
		t.Errorf("Level = %v, want 0.25", ev.Level)
	}
}

func TestSession_Closed(t *testing.T) {
	s := newSession(t, 0.1, 2)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := s.ProcessFrame(frame(0.5)); err != ErrClosed {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestNewSession_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"zero threshold", vad.Config{SpeechThreshold: 0, SilenceFrames: 3}},
		{"negative threshold", vad.Config{SpeechThreshold: -1, SilenceFrames: 3}},
		{"zero silence", vad.Config{SpeechThreshold: 0.03, SilenceFrames: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New().NewSession(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
