package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/ppiankov/topicrelay/internal/broker"
	"github.com/ppiankov/topicrelay/internal/envelope"
	"github.com/ppiankov/topicrelay/internal/metrics"
	"github.com/ppiankov/topicrelay/internal/policy"
)

// Publisher wraps lines in envelopes and hands them to the broker.
type Publisher struct {
	Producer broker.Producer
	Topic    string
	Codec    envelope.Codec
	Metrics  *metrics.Metrics
	Diag     io.Writer
	Now      func() time.Time
}

// Publish encodes line and publishes it. Under a retry rule, failed attempts
// are repeated up to rule.MaxRetries times, spaced by rule.RetryInterval.
// Returns ctx.Err() if ctx ends first, or the last publish error.
func (p *Publisher) Publish(ctx context.Context, line string, rule policy.Rule) error {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	diag := p.Diag
	if diag == nil {
		diag = os.Stderr
	}

	value := p.Codec.Encode(line, now())
	attempts := rule.Attempts()
	start := time.Now()

	var (
		limiter *rate.Limiter
		err     error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if limiter == nil {
				limiter = rate.NewLimiter(rate.Every(rule.RetryInterval), 1)
				limiter.Allow()
			}
			if werr := limiter.Wait(ctx); werr != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			p.Metrics.IncPublishRetry()
		}

		err = p.Producer.Publish(ctx, p.Topic, value)
		if err == nil {
			p.Metrics.IncPublished()
			p.Metrics.ObservePublish(time.Since(start))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < attempts {
			fmt.Fprintf(diag, "topicrelay: publish attempt %d/%d failed: %v\n", attempt, attempts, err)
		}
	}
	return err
}
