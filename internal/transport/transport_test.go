package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/roverlink/internal/observe"
	"github.com/MrWong99/roverlink/pkg/audio"
	audiomock "github.com/MrWong99/roverlink/pkg/audio/mock"
)

const testBlock = 8

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

// serveInBackground runs serve until the test ends.
func serveInBackground(t *testing.T, serve func(ctx context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("serve did not stop")
		}
	})
}

func rampFrame(seq uint64, base float32) audio.Frame {
	s := make([]float32, testBlock)
	for i := range s {
		s[i] = base + float32(i)/100
	}
	return audio.Frame{Samples: s, Seq: seq, SampleRate: audio.DefaultSampleRate}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFlag(t *testing.T) {
	var nilFlag *Flag
	if nilFlag.Cancelled() {
		t.Error("nil flag reports cancelled")
	}
	var f Flag
	if f.Cancelled() {
		t.Error("zero flag reports cancelled")
	}
	if !f.Cancel() {
		t.Error("first Cancel should raise the flag")
	}
	if f.Cancel() {
		t.Error("second Cancel should report already raised")
	}
	if !f.Cancelled() {
		t.Error("flag not raised")
	}
}

func TestAudioSenderToReceiver(t *testing.T) {
	ln := listen(t)
	got := make(chan audio.Frame, 16)
	rx := NewAudioReceiver(testBlock, audio.DefaultSampleRate)
	serveInBackground(t, func(ctx context.Context) error {
		return rx.Serve(ctx, ln, func(f audio.Frame) { got <- f })
	})

	frames := make(chan audio.Frame, 5)
	for i := range 5 {
		frames <- rampFrame(uint64(100+i), float32(i)/10)
	}
	close(frames)

	tx := NewAudioSender(ln.Addr().String(), WithSenderMetrics(testMetrics(t)))
	if err := tx.Run(context.Background(), frames); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sent, dropped := tx.Stats(); sent != 5 || dropped != 0 {
		t.Fatalf("stats = %d sent, %d dropped", sent, dropped)
	}

	for i := range 5 {
		select {
		case f := <-got:
			want := rampFrame(0, float32(i)/10)
			if f.Seq != uint64(i) {
				t.Errorf("frame %d seq = %d", i, f.Seq)
			}
			for j := range want.Samples {
				if f.Samples[j] != want.Samples[j] {
					t.Fatalf("frame %d sample %d = %v, want %v", i, j, f.Samples[j], want.Samples[j])
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d never arrived", i)
		}
	}
}

func TestAudioReceiver_ReassemblesSplitReads(t *testing.T) {
	ln := listen(t)
	got := make(chan audio.Frame, 16)
	rx := NewAudioReceiver(testBlock, audio.DefaultSampleRate)
	serveInBackground(t, func(ctx context.Context) error {
		return rx.Serve(ctx, ln, func(f audio.Frame) { got <- f })
	})

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var payload []byte
	for i := range 3 {
		payload = audio.AppendFloat32(payload, rampFrame(0, float32(i)).Samples)
	}
	// Odd-sized chunks split samples and frames across writes.
	for off := 0; off < len(payload); off += 5 {
		end := min(off+5, len(payload))
		if _, err := conn.Write(payload[off:end]); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	// A trailing partial frame is discarded on close.
	_, _ = conn.Write([]byte{1, 2, 3})
	conn.Close()

	for i := range 3 {
		select {
		case f := <-got:
			if f.Samples[0] != float32(i) {
				t.Errorf("frame %d starts with %v", i, f.Samples[0])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d never arrived", i)
		}
	}
	select {
	case f := <-got:
		t.Errorf("unexpected extra frame %v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAudioReceiver_SequenceContinuesAcrossConnections(t *testing.T) {
	ln := listen(t)
	got := make(chan audio.Frame, 16)
	rx := NewAudioReceiver(testBlock, audio.DefaultSampleRate)
	serveInBackground(t, func(ctx context.Context) error {
		return rx.Serve(ctx, ln, func(f audio.Frame) { got <- f })
	})

	for range 2 {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		if _, err := conn.Write(audio.EncodeFloat32(rampFrame(0, 0).Samples)); err != nil {
			t.Fatalf("write: %v", err)
		}
		conn.Close()
	}
	for want := range uint64(2) {
		select {
		case f := <-got:
			if f.Seq != want {
				t.Errorf("seq = %d, want %d", f.Seq, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("frame never arrived")
		}
	}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestAudioSender_DropsDuringOutageAndReconnects(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	tx := NewAudioSender("robot:50005", WithReconnectBackoff(time.Second, 4*time.Second), WithSenderMetrics(testMetrics(t)))
	tx.now = clock.Now

	var mu sync.Mutex
	dials := 0
	fail := true
	peers := make(chan net.Conn, 4)
	tx.dial = func(context.Context, string, string) (net.Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if fail {
			return nil, errors.New("connection refused")
		}
		a, b := net.Pipe()
		peers <- b
		return a, nil
	}
	dialCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return dials
	}

	ctx := context.Background()
	f := rampFrame(0, 0)

	// Refused: dropped, and no redial until the backoff passes.
	if tx.send(ctx, f) {
		t.Fatal("frame delivered while receiver is down")
	}
	if tx.send(ctx, f) {
		t.Fatal("frame delivered during backoff")
	}
	if dialCount() != 1 {
		t.Fatalf("dials = %d, want 1 (no redial inside backoff)", dialCount())
	}

	mu.Lock()
	fail = false
	mu.Unlock()
	clock.Advance(time.Second)

	delivered := make(chan int, 1)
	go func() {
		peer := <-peers
		buf := make([]byte, testBlock*audio.BytesPerSample)
		n, _ := io.ReadFull(peer, buf)
		delivered <- n
		peer.Close()
	}()
	if !tx.send(ctx, f) {
		t.Fatal("frame not delivered after reconnect")
	}
	if n := <-delivered; n != testBlock*audio.BytesPerSample {
		t.Fatalf("receiver read %d bytes", n)
	}

	// The peer is gone: the write fails, the frame is dropped and the
	// sender waits for the backoff again.
	if tx.send(ctx, f) {
		t.Fatal("frame delivered to a closed peer")
	}
	before := dialCount()
	if tx.send(ctx, f) {
		t.Fatal("frame delivered during backoff after write failure")
	}
	if dialCount() != before {
		t.Error("redialled inside backoff")
	}
}

func TestAudioSender_RunCountsDrops(t *testing.T) {
	tx := NewAudioSender("127.0.0.1:1", WithSenderMetrics(testMetrics(t)))
	tx.dial = func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	frames := make(chan audio.Frame, 3)
	for i := range 3 {
		frames <- rampFrame(uint64(i), 0)
	}
	close(frames)
	if err := tx.Run(context.Background(), frames); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sent, dropped := tx.Stats(); sent != 0 || dropped != 3 {
		t.Errorf("stats = %d sent, %d dropped; want 0, 3", sent, dropped)
	}
}

// collectConn accepts one connection on ln and returns everything read from
// it until EOF.
func collectConn(t *testing.T, ln net.Listener) <-chan []byte {
	t.Helper()
	out := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			out <- nil
			return
		}
		defer conn.Close()
		b, _ := io.ReadAll(conn)
		out <- b
	}()
	return out
}

func frameChan(frames ...audio.Frame) <-chan audio.Frame {
	ch := make(chan audio.Frame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return ch
}

func TestSpeechSender_PrimesAndStreams(t *testing.T) {
	ln := listen(t)
	defer ln.Close()
	got := collectConn(t, ln)

	s := NewSpeechSender(ln.Addr().String(), DefaultTTSSampleRate, 6)
	err := s.Speak(context.Background(), frameChan(rampFrame(0, 0.5), rampFrame(1, 0.5), rampFrame(2, 0.5)), &Flag{})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}

	samples := audio.DecodeFloat32(<-got)
	if len(samples) != 6+3*testBlock {
		t.Fatalf("received %d samples, want %d", len(samples), 6+3*testBlock)
	}
	for i := range 6 {
		if samples[i] != 0 {
			t.Fatalf("prime sample %d = %v, want 0", i, samples[i])
		}
	}
	if samples[6] != 0.5 {
		t.Errorf("first reply sample = %v, want 0.5", samples[6])
	}
}

func TestSpeechSender_CancelledBeforeStart(t *testing.T) {
	ln := listen(t)
	defer ln.Close()
	got := collectConn(t, ln)

	flag := &Flag{}
	flag.Cancel()
	err := NewSpeechSender(ln.Addr().String(), DefaultTTSSampleRate, 4).
		Speak(context.Background(), frameChan(rampFrame(0, 0.5)), flag)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if n := len(audio.DecodeFloat32(<-got)); n != 4 {
		t.Errorf("receiver got %d samples, want only the 4 prime samples", n)
	}
}

func TestSpeechSender_StopsBetweenFrames(t *testing.T) {
	ln := listen(t)
	defer ln.Close()
	got := collectConn(t, ln)

	frames := make(chan audio.Frame)
	flag := &Flag{}
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		defer close(frames)
		frames <- rampFrame(0, 0.5)
		flag.Cancel()
		for i := range 10 {
			frames <- rampFrame(uint64(i+1), 0.5)
		}
	}()

	err := NewSpeechSender(ln.Addr().String(), DefaultTTSSampleRate, 0).Speak(context.Background(), frames, flag)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}

	b := <-got
	frameBytes := testBlock * audio.BytesPerSample
	if len(b)%frameBytes != 0 {
		t.Errorf("received %d bytes: cancelled mid-frame", len(b))
	}
	if len(b) > frameBytes {
		t.Errorf("received %d frames after cancellation, want at most 1", len(b)/frameBytes)
	}
	select {
	case <-produced:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked: remaining frames were not drained")
	}
}

func TestSpeechSender_DialFailure(t *testing.T) {
	ln := listen(t)
	addr := ln.Addr().String()
	ln.Close()

	frames := make(chan audio.Frame)
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		defer close(frames)
		frames <- rampFrame(0, 0)
	}()
	if err := NewSpeechSender(addr, 0, 0).Speak(context.Background(), frames, &Flag{}); err == nil {
		t.Fatal("expected dial error")
	}
	select {
	case <-produced:
	case <-time.After(2 * time.Second):
		t.Fatal("frames not drained after dial failure")
	}
}

func TestSpeechReceiver_PlaysAndToleratesEarlyClose(t *testing.T) {
	ln := listen(t)
	sink := &audiomock.Sink{}
	rx := NewSpeechReceiver(sink, testBlock, DefaultTTSSampleRate)
	serveInBackground(t, func(ctx context.Context) error { return rx.Serve(ctx, ln) })

	send := func(samples int) {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		if _, err := conn.Write(audio.EncodeFloat32(make([]float32, samples))); err != nil {
			t.Fatalf("write: %v", err)
		}
		conn.Close()
	}

	// Sender hung up after two and a half frames.
	send(2*testBlock + testBlock/2)
	waitFor(t, "first stream closed", func() bool {
		st := sink.Last()
		return st != nil && st.Closed()
	})
	first := sink.Last()
	if n := len(first.Frames()); n != 2 {
		t.Errorf("played %d frames, want 2", n)
	}
	if first.SampleRate != DefaultTTSSampleRate {
		t.Errorf("stream rate = %d", first.SampleRate)
	}

	// The receiver keeps serving after an early close.
	send(testBlock)
	waitFor(t, "second stream", func() bool { return sink.OpenCount() == 2 && sink.Last().Closed() })
}

func TestSinkPlayer(t *testing.T) {
	sink := &audiomock.Sink{}
	p := NewSinkPlayer(sink, DefaultTTSSampleRate, 4)
	if err := p.Speak(context.Background(), frameChan(rampFrame(0, 0.1), rampFrame(1, 0.2)), &Flag{}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	st := sink.Last()
	frames := st.Frames()
	if len(frames) != 3 {
		t.Fatalf("played %d frames, want prime + 2", len(frames))
	}
	if len(frames[0].Samples) != 4 || frames[0].Energy() != 0 {
		t.Errorf("prime frame = %v", frames[0].Samples)
	}
	if !st.Closed() {
		t.Error("stream not closed")
	}

	flag := &Flag{}
	flag.Cancel()
	if err := p.Speak(context.Background(), frameChan(rampFrame(0, 0.1)), flag); !errors.Is(err, ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
	if !sink.Last().Closed() {
		t.Error("cancelled stream not closed")
	}
}
