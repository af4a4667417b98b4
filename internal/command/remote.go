package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	// maxRequestBytes bounds a single command-in request line.
	maxRequestBytes = 4096

	defaultIOTimeout = 5 * time.Second
)

// Server is the command-in listener. Each connection carries exactly one
// request line (a manual envelope, a command object or a bare action word)
// and receives exactly one verdict line:
//
//	{"allowed":true,"reason":"","sent":true}
//
// Requests are executed through the wrapped [Executor], so a remote caller
// can never bypass the safety gate.
type Server struct {
	exec      Executor
	ioTimeout time.Duration
}

// NewServer returns a Server that dispatches requests through exec.
func NewServer(exec Executor) *Server {
	return &Server{exec: exec, ioTimeout: defaultIOTimeout}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("command: listen %s: %w", addr, err)
	}
	slog.Info("command: server listening", "addr", ln.Addr().String())
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln and
// waits for in-flight requests. It returns nil on cancellation.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("command: accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// handle serves one request on conn and closes it.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	_ = conn.SetDeadline(time.Now().Add(s.ioTimeout))

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 512), maxRequestBytes)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			slog.Warn("command: read request", "remote", remote, "err", err)
		}
		return
	}

	var out Outcome
	cmd, err := DecodeLine(sc.Bytes())
	if err != nil {
		slog.Warn("command: bad request", "remote", remote, "err", err)
		out = Outcome{Verdict: Verdict{Reason: "bad request"}, Err: err}
	} else {
		slog.Info("command: manual request", "remote", remote, "command", cmd.String())
		out = s.exec.Dispatch(ctx, cmd)
	}

	b, err := json.Marshal(out.wire())
	if err != nil {
		return
	}
	if _, err := conn.Write(append(b, '\n')); err != nil {
		slog.Warn("command: write verdict", "remote", remote, "err", err)
	}
}

// Client forwards commands to a remote command-in [Server], one connection
// per command. It implements [Executor] so a remote brain dispatches exactly
// like a local one.
type Client struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

// NewClient returns a Client for the server at addr (host:port). A zero
// timeout selects five seconds.
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultIOTimeout
	}
	return &Client{addr: addr, timeout: timeout}
}

var _ Executor = (*Client)(nil)

// Dispatch sends c and waits for the server's verdict. A transport failure
// yields an Outcome with Err set and Sent false.
func (c *Client) Dispatch(ctx context.Context, cmd Command) Outcome {
	out, err := c.roundTrip(ctx, cmd)
	if err != nil {
		return Outcome{Command: cmd, Err: err}
	}
	return out
}

func (c *Client) roundTrip(ctx context.Context, cmd Command) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	line, err := EncodeManual(cmd)
	if err != nil {
		return Outcome{}, err
	}
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return Outcome{}, fmt.Errorf("command: dial %s: %w", c.addr, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	if _, err := conn.Write(line); err != nil {
		return Outcome{}, fmt.Errorf("command: write request: %w", err)
	}
	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return Outcome{}, fmt.Errorf("command: read verdict: %w", err)
		}
		return Outcome{}, errors.New("command: server closed without verdict")
	}
	var w outcomeWire
	if err := json.Unmarshal(sc.Bytes(), &w); err != nil {
		return Outcome{}, fmt.Errorf("command: decode verdict: %w", err)
	}
	return w.outcome(cmd), nil
}
