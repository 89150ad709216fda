// Package policy decides what the relay does when a broker, codec, or input
// boundary returns an error.
package policy

import (
	"fmt"
	"time"
)

// Kind classifies an error by the boundary it came from.
type Kind string

const (
	Publish   Kind = "publish"
	Receive   Kind = "receive"
	Malformed Kind = "malformed"
	Input     Kind = "input"
)

// Kinds lists every error kind in table order.
var Kinds = []Kind{Publish, Receive, Malformed, Input}

// Action is the response to an error of some kind.
type Action string

const (
	// Abort ends the session with the error.
	Abort Action = "abort"
	// Retry repeats the failed call, then aborts once retries are exhausted.
	Retry Action = "retry"
	// Skip reports the error on the diagnostics stream and continues.
	Skip Action = "skip"
)

// Rule is the configured response for one error kind.
type Rule struct {
	Action        Action        `yaml:"action"`
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	RetryInterval time.Duration `yaml:"retry_interval,omitempty"`
}

// Attempts returns how many times a call governed by r is tried in total.
func (r Rule) Attempts() int {
	if r.Action != Retry {
		return 1
	}
	return 1 + r.MaxRetries
}

// Table maps each error kind to a rule.
type Table struct {
	Publish   Rule `yaml:"publish"`
	Receive   Rule `yaml:"receive"`
	Malformed Rule `yaml:"malformed"`
	Input     Rule `yaml:"input"`
}

// Default returns the resilient table: publishes are retried, a single bad
// message or bad line is skipped, broker receive failures end the session.
func Default() Table {
	return Table{
		Publish:   Rule{Action: Retry, MaxRetries: 3, RetryInterval: 200 * time.Millisecond},
		Receive:   Rule{Action: Abort},
		Malformed: Rule{Action: Skip},
		Input:     Rule{Action: Skip},
	}
}

// Strict returns a table where every error ends the session.
func Strict() Table {
	return Table{
		Publish:   Rule{Action: Abort},
		Receive:   Rule{Action: Abort},
		Malformed: Rule{Action: Abort},
		Input:     Rule{Action: Abort},
	}
}

// For returns the rule for kind. Unknown kinds abort.
func (t Table) For(kind Kind) Rule {
	switch kind {
	case Publish:
		return t.Publish
	case Receive:
		return t.Receive
	case Malformed:
		return t.Malformed
	case Input:
		return t.Input
	default:
		return Rule{Action: Abort}
	}
}

// Validate rejects unknown actions, negative retry settings, and retry on any
// kind other than publish.
func (t Table) Validate() error {
	for _, k := range Kinds {
		r := t.For(k)
		switch r.Action {
		case Abort, Skip:
		case Retry:
			if k != Publish {
				return fmt.Errorf("policy %s: retry is only supported for publish", k)
			}
		default:
			return fmt.Errorf("policy %s: unknown action %q (want abort, retry or skip)", k, r.Action)
		}
		if r.MaxRetries < 0 {
			return fmt.Errorf("policy %s: max_retries must be >= 0", k)
		}
		if r.RetryInterval < 0 {
			return fmt.Errorf("policy %s: retry_interval must be >= 0", k)
		}
	}
	return nil
}

// ParseAction maps a string to an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case Abort, Retry, Skip:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}
