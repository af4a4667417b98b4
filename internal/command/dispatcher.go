package command

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/roverlink/internal/observe"
)

// Verdict is a safety decision about one command. Reason is empty when
// Allowed is true.
type Verdict struct {
	Allowed bool
	Reason  string
}

// String renders the verdict for logs.
func (v Verdict) String() string {
	if v.Allowed {
		return "allowed"
	}
	return "rejected: " + v.Reason
}

// Gate approves or rejects commands. The safety interlock implements it.
type Gate interface {
	Evaluate(Command) Verdict
}

// Sender writes an approved command to the actuator link. Send must either
// write the whole command or return an error.
type Sender interface {
	Send(ctx context.Context, c Command) error
}

// Outcome is the result of dispatching one command.
type Outcome struct {
	Command Command
	Verdict Verdict

	// Sent is true only when the command was approved and fully written.
	Sent bool

	// Err is the write error of an approved command that could not be sent,
	// or a transport error of a remote dispatch.
	Err error
}

// Executor dispatches commands. [Dispatcher] executes locally; [Client]
// forwards to a remote command-in server.
type Executor interface {
	Dispatch(ctx context.Context, c Command) Outcome
}

// Dispatcher is the only path from a proposed command to the actuator link:
// every command is evaluated by the gate and only approved commands reach the
// sender. Safe for concurrent use when the gate and sender are.
type Dispatcher struct {
	gate     Gate
	sender   Sender
	metrics  *observe.Metrics
	recorder Recorder
}

// Recorder receives every dispatch outcome, allowed or not. Record must not
// block for long; it runs on the dispatching goroutine.
type Recorder interface {
	Record(Outcome)
}

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithMetrics records verdicts on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRecorder hands every outcome to r.
func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = r }
}

// NewDispatcher returns a Dispatcher that gates commands through gate before
// handing them to sender.
func NewDispatcher(gate Gate, sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{gate: gate, sender: sender}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

var _ Executor = (*Dispatcher)(nil)

// Dispatch evaluates c and, when allowed, sends it. A rejection is not an
// error: it is reported in Outcome.Verdict.
func (d *Dispatcher) Dispatch(ctx context.Context, c Command) (out Outcome) {
	if d.recorder != nil {
		defer func() { d.recorder.Record(out) }()
	}
	v := d.gate.Evaluate(c)
	d.metrics.RecordVerdict(ctx, string(c.Action), v.Allowed, v.Reason)
	out = Outcome{Command: c, Verdict: v}
	if !v.Allowed {
		slog.Info("dispatch: command rejected", "command", c.String(), "reason", v.Reason)
		return out
	}
	if err := d.sender.Send(ctx, c); err != nil {
		slog.Warn("dispatch: send failed", "command", c.String(), "err", err)
		out.Err = err
		return out
	}
	slog.Info("dispatch: command sent", "command", c.String())
	out.Sent = true
	return out
}

// outcomeWire is the verdict line returned by the command-in server.
type outcomeWire struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Sent    bool   `json:"sent"`
	Error   string `json:"error,omitempty"`
}

func (o Outcome) wire() outcomeWire {
	w := outcomeWire{Allowed: o.Verdict.Allowed, Reason: o.Verdict.Reason, Sent: o.Sent}
	if o.Err != nil {
		w.Error = o.Err.Error()
	}
	return w
}

func (w outcomeWire) outcome(c Command) Outcome {
	o := Outcome{Command: c, Verdict: Verdict{Allowed: w.Allowed, Reason: w.Reason}, Sent: w.Sent}
	if w.Error != "" {
		o.Err = errors.New(w.Error)
	}
	return o
}
