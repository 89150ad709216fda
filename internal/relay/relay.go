// Package relay runs an interactive session between a terminal and a topic:
// typed lines are published as envelopes, received envelopes are printed.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/ppiankov/topicrelay/internal/broker"
	"github.com/ppiankov/topicrelay/internal/envelope"
	"github.com/ppiankov/topicrelay/internal/metrics"
	"github.com/ppiankov/topicrelay/internal/policy"
	"github.com/ppiankov/topicrelay/internal/render"
)

// receiveBackoff spaces receive calls after a receive error.
const receiveBackoff = time.Second

// Config holds session settings.
type Config struct {
	Topic  string
	Prompt string
	Format render.Format
	Codec  envelope.Codec
	Policy policy.Table
}

// Relay owns one producer, one consumer and the terminal for a session.
type Relay struct {
	cfg      Config
	pub      Publisher
	consumer broker.Consumer
	in       io.Reader
	out      io.Writer
	diag     io.Writer
	metrics  *metrics.Metrics
	now      func() time.Time

	policy atomic.Pointer[policy.Table]
}

// Option configures a Relay.
type Option func(*Relay)

// WithDiagnostics sends skipped-error and retry reports to w instead of stderr.
func WithDiagnostics(w io.Writer) Option {
	return func(r *Relay) { r.diag = w }
}

// WithMetrics records session counters in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithClock replaces time.Now for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// New creates a relay reading lines from in and writing prompts and payloads to out.
func New(cfg Config, producer broker.Producer, consumer broker.Consumer, in io.Reader, out io.Writer, opts ...Option) (*Relay, error) {
	if producer == nil || consumer == nil {
		return nil, fmt.Errorf("relay requires a producer and a consumer")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("relay requires a topic")
	}
	if cfg.Format == "" {
		cfg.Format = render.Text
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	r := &Relay{
		cfg:      cfg,
		consumer: consumer,
		in:       in,
		out:      out,
		diag:     os.Stderr,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pub = Publisher{
		Producer: producer,
		Topic:    cfg.Topic,
		Codec:    cfg.Codec,
		Metrics:  r.metrics,
		Diag:     r.diag,
		Now:      r.now,
	}
	r.SetPolicy(cfg.Policy)
	return r, nil
}

// SetPolicy swaps the error-policy table. Safe to call while Run is active.
func (r *Relay) SetPolicy(t policy.Table) {
	r.policy.Store(&t)
}

// Policy returns the active error-policy table.
func (r *Relay) Policy() policy.Table {
	return *r.policy.Load()
}

type lineResult struct {
	line string
	err  error
}

type receiveResult struct {
	msg broker.Message
	err error
}

// Run drives the session until input ends, ctx is cancelled, or an error is
// aborted on by the policy table. End of input and cancellation return nil.
//
// Each iteration prints the prompt, then handles whichever of "next line" and
// "next message" arrives first. The other stays with its pump goroutine and
// competes again on the next iteration.
//
// The input goroutine may still be blocked reading in after Run returns, since
// an io.Reader cannot be interrupted. It exits on its next read, or never if in
// is never readable again. Callers that reuse in should close it first.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan lineResult)
	msgs := make(chan receiveResult)
	go r.readInput(ctx, lines)
	go r.receive(ctx, msgs)

	for {
		// A handler may have been interrupted by cancellation.
		if ctx.Err() != nil {
			return nil
		}
		if _, err := io.WriteString(r.out, r.cfg.Prompt); err != nil {
			return fmt.Errorf("write prompt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil

		case res := <-msgs:
			if err := r.handleMessage(res); err != nil {
				return err
			}

		case res := <-lines:
			if errors.Is(res.err, io.EOF) {
				return nil
			}
			if err := r.handleLine(ctx, res); err != nil {
				return err
			}
		}
	}
}

func (r *Relay) handleLine(ctx context.Context, res lineResult) error {
	if res.err != nil {
		if errors.Is(res.err, ErrInputClosed) {
			return res.err
		}
		return r.fail(policy.Input, res.err)
	}

	rule := r.Policy().For(policy.Publish)
	if err := r.pub.Publish(ctx, res.line, rule); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return r.fail(policy.Publish, err)
	}
	return nil
}

func (r *Relay) handleMessage(res receiveResult) error {
	if res.err != nil {
		return r.fail(policy.Receive, res.err)
	}
	r.metrics.IncReceived()

	e, err := envelope.Decode(res.msg.Value)
	if err != nil {
		r.metrics.IncMalformed()
		return r.fail(policy.Malformed, fmt.Errorf("%s[%d]@%d: %w", res.msg.Topic, res.msg.Partition, res.msg.Offset, err))
	}
	if err := render.Event(r.out, r.cfg.Format, e); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// fail applies the policy for kind. It returns nil when the error is skipped.
// A retry rule reaching here has exhausted its retries and aborts.
func (r *Relay) fail(kind policy.Kind, err error) error {
	action := r.Policy().For(kind).Action
	if action != policy.Skip {
		action = policy.Abort
	}
	r.metrics.IncError(string(kind), string(action))

	if action == policy.Skip {
		fmt.Fprintf(r.diag, "topicrelay: skipped %s error: %v\n", kind, err)
		return nil
	}
	return err
}

// readInput hands lines to the loop one at a time. A line is held here until
// the loop takes it.
func (r *Relay) readInput(ctx context.Context, out chan<- lineResult) {
	lr := newLineReader(r.in)
	for {
		line, err := lr.next()
		select {
		case out <- lineResult{line: line, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil && !errors.Is(err, ErrLineTooLong) && !errors.Is(err, ErrInvalidUTF8) {
			return
		}
	}
}

// receive hands messages to the loop one at a time, with the same ownership
// rule as readInput.
func (r *Relay) receive(ctx context.Context, out chan<- receiveResult) {
	for {
		msg, err := r.consumer.Receive(ctx)
		if ctx.Err() != nil {
			return
		}
		select {
		case out <- receiveResult{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			select {
			case <-time.After(receiveBackoff):
			case <-ctx.Done():
				return
			}
		}
	}
}
