package espeak

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"

	"github.com/MrWong99/roverlink/pkg/audio"
)

// newFake returns a Provider whose binary is the test executable itself and
// whose runner returns out/err instead of spawning a process.
func newFake(t *testing.T, out []byte, runErr error, opts ...Option) (*Provider, *[]string) {
	t.Helper()
	p, err := New(append([]Option{WithCommand(os.Args[0])}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var gotArgs []string
	p.run = func(_ context.Context, _ string, args ...string) ([]byte, error) {
		gotArgs = args
		return out, runErr
	}
	return p, &gotArgs
}

func TestNew_MissingBinary(t *testing.T) {
	if _, err := New(WithCommand("definitely-not-espeak-roverlink")); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestSynthesize_ResamplesToOutputRate(t *testing.T) {
	wav := audio.EncodeFloat32WAV(make([]float32, 22050), 22050)
	p, args := newFake(t, wav, nil, WithVoice("en-us"), WithRate(150))

	ch, err := p.Synthesize(context.Background(), "Stopping.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	var n int
	for f := range ch {
		if f.SampleRate != 24000 {
			t.Fatalf("sample rate = %d, want 24000", f.SampleRate)
		}
		n += len(f.Samples)
	}
	// One second at 24kHz, padded to whole frames.
	if n < 24000 || n > 24000+1024 {
		t.Errorf("samples = %d, want about 24000", n)
	}

	want := []string{"--stdout", "-v", "en-us", "-s", "150", "--", "Stopping."}
	if !slices.Equal(*args, want) {
		t.Errorf("args = %q, want %q", *args, want)
	}
}

func TestSynthesize_CommandFails(t *testing.T) {
	p, _ := newFake(t, nil, errors.New("exit status 1"))
	if _, err := p.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("expected error when espeak fails")
	}
}

func TestSynthesize_BadOutput(t *testing.T) {
	p, _ := newFake(t, []byte("garbage"), nil)
	if _, err := p.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for non-WAV output")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := newFake(t, nil, nil)
	if _, err := p.Synthesize(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty text")
	}
}
