package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/provider/llm"
	llmmock "github.com/MrWong99/roverlink/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/roverlink/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/roverlink/pkg/provider/tts/mock"
)

// tryOrder returns a call function that records which members were tried
// and fails for the names in failing.
func tryOrder(tried *[]string, failing ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		*tried = append(*tried, name)
		for _, f := range failing {
			if f == name {
				return "", errTest
			}
		}
		return "reply from " + name, nil
	}
}

func TestChain_PreferenceOrder(t *testing.T) {
	c := NewChain[string]("stt", ChainConfig{})
	c.Add("deepgram", "deepgram")
	c.Add("whisper", "whisper")

	var tried []string
	got, err := Call(c, tryOrder(&tried))
	if err != nil || got != "reply from deepgram" {
		t.Fatalf("Call = %q, %v", got, err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want only the first member", tried)
	}
	if c.Serving() != "deepgram" {
		t.Errorf("Serving = %q", c.Serving())
	}
}

func TestChain_FailoverReportsErrorAndSwitch(t *testing.T) {
	var errs, switches []string
	c := NewChain[string]("stt", ChainConfig{
		OnError:  func(p string, _ error) { errs = append(errs, p) },
		OnSwitch: func(from, to string) { switches = append(switches, from+">"+to) },
	})
	c.Add("deepgram", "deepgram")
	c.Add("whisper", "whisper")

	var tried []string
	if _, err := Call(c, tryOrder(&tried)); err != nil {
		t.Fatal(err)
	}
	got, err := Call(c, tryOrder(&tried, "deepgram"))
	if err != nil || got != "reply from whisper" {
		t.Fatalf("Call = %q, %v", got, err)
	}

	if len(errs) != 1 || errs[0] != "deepgram" {
		t.Errorf("OnError saw %v, want [deepgram]", errs)
	}
	if len(switches) != 1 || switches[0] != "deepgram>whisper" {
		t.Errorf("OnSwitch saw %v", switches)
	}
}

func TestChain_OpenMemberIsSkipped(t *testing.T) {
	c := NewChain[string]("llm", ChainConfig{
		Breaker: []BreakerOption{WithThreshold(2), WithCooldown(time.Hour)},
	})
	c.Add("ollama", "ollama")
	c.Add("openai", "openai")

	var tried []string
	for range 2 {
		_, _ = Call(c, tryOrder(&tried, "ollama"))
	}
	if c.Members()[0].State != StateOpen {
		t.Fatalf("members = %+v, want ollama open", c.Members())
	}

	tried = nil
	if _, err := Call(c, tryOrder(&tried)); err != nil {
		t.Fatal(err)
	}
	if len(tried) != 1 || tried[0] != "openai" {
		t.Errorf("tried = %v, want [openai]", tried)
	}
	if !c.Available() {
		t.Error("chain with a closed member reported unavailable")
	}
}

func TestChain_AllFailJoinsErrors(t *testing.T) {
	c := NewChain[string]("tts", ChainConfig{Breaker: []BreakerOption{WithThreshold(1)}})
	c.Add("coqui", "coqui")
	c.Add("espeak", "espeak")

	var tried []string
	_, err := Call(c, tryOrder(&tried, "coqui", "espeak"))
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping the member errors", err)
	}
	if c.Available() {
		t.Error("chain reported available with every breaker open")
	}

	// Every breaker is open now; the next call is rejected without trying.
	tried = nil
	_, err = Call(c, tryOrder(&tried))
	if !errors.Is(err, ErrOpen) || len(tried) != 0 {
		t.Errorf("err = %v tried = %v, want ErrOpen and no attempts", err, tried)
	}
}

func TestChain_Empty(t *testing.T) {
	c := NewChain[string]("llm", ChainConfig{})
	if _, err := Call(c, func(string) (string, error) { return "", nil }); !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestChain_CancellationStopsWalk(t *testing.T) {
	var errs []string
	c := NewChain[string]("llm", ChainConfig{
		OnError: func(p string, _ error) { errs = append(errs, p) },
	})
	c.Add("ollama", "ollama")
	c.Add("openai", "openai")

	var tried []string
	_, err := Call(c, func(name string) (string, error) {
		tried = append(tried, name)
		return "", context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if len(tried) != 1 || len(errs) != 0 {
		t.Errorf("tried = %v errors = %v", tried, errs)
	}
}

func TestSTTChain_EmptyTranscriptIsAnAnswer(t *testing.T) {
	primary := &sttmock.Provider{Text: ""}
	secondary := &sttmock.Provider{Text: "go forward"}
	c := NewSTTChain(ChainConfig{})
	c.Add("deepgram", primary)
	c.Add("whisper", secondary)

	got, err := c.Transcribe(context.Background(), make([]float32, 160), 16000)
	if err != nil || got != "" {
		t.Fatalf("Transcribe = %q, %v", got, err)
	}
	if secondary.CallCount() != 0 {
		t.Error("empty transcript triggered failover")
	}
	if call := primary.TranscribeCalls[0]; call.Samples != 160 || call.SampleRate != 16000 {
		t.Errorf("primary call = %+v", call)
	}
}

func TestLLMChain_Failover(t *testing.T) {
	c := NewLLMChain(ChainConfig{})
	c.Add("ollama", &llmmock.Provider{CompleteErr: errors.New("connection refused")})
	backup := llmmock.Reply(`{"speech":"Stopping."}`)
	c.Add("openai", backup)

	req := llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "stop"}}}
	resp, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != `{"speech":"Stopping."}` {
		t.Errorf("content = %q", resp.Content)
	}
	if got := backup.Calls()[0].Req.Messages[0].Content; got != "stop" {
		t.Errorf("backup saw %q", got)
	}
	if names := c.Names(); len(names) != 2 || names[1] != "openai" {
		t.Errorf("Names = %v", names)
	}
}

func TestTTSChain_Failover(t *testing.T) {
	c := NewTTSChain(ChainConfig{})
	c.Add("deepgram", &ttsmock.Provider{Err: errors.New("no api key")})
	backup := &ttsmock.Provider{FrameCount: 2}
	c.Add("espeak", backup)

	ch, err := c.Synthesize(context.Background(), "Moving forward")
	if err != nil {
		t.Fatal(err)
	}
	audio.Drain(ch)
	if got := backup.Spoken(); len(got) != 1 || got[0] != "Moving forward" {
		t.Errorf("backup spoke %v", got)
	}
	if c.Stage() != "tts" || c.Serving() != "espeak" {
		t.Errorf("stage=%q serving=%q", c.Stage(), c.Serving())
	}
}
