// Package resilience guards calls to flaky upstreams (LLM providers) with a
// circuit breaker, so a dead provider fails a bulk import fast instead of
// timing out once per record.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/WessleyAI/issuescope/pkg/fn"
)

// State of a Breaker.
type State int

const (
	Closed   State = iota // calls pass through
	Open                  // calls are rejected
	HalfOpen              // a limited number of trials pass
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// Options configures a Breaker. Zero fields take the defaults.
type Options struct {
	// Failures is the number of consecutive failures that opens the breaker.
	Failures int
	// Cooldown is how long the breaker stays open before letting trial calls through.
	Cooldown time.Duration
	// Trials is how many calls may run while half-open.
	Trials int
	// OnChange, if set, is called (outside the lock) on every transition.
	OnChange func(from, to State)
}

const (
	defaultFailures = 5
	defaultCooldown = 30 * time.Second
	defaultTrials   = 1
)

// Breaker is a consecutive-failure circuit breaker. Context cancellation
// does not count as a failure.
type Breaker struct {
	mu       sync.Mutex
	opts     Options
	state    State
	failures int
	openedAt time.Time
	trials   int
	now      func() time.Time
}

// New returns a closed Breaker.
func New(opts Options) *Breaker {
	if opts.Failures <= 0 {
		opts.Failures = defaultFailures
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}
	if opts.Trials <= 0 {
		opts.Trials = defaultTrials
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State reports the current state, moving Open to HalfOpen once the
// cooldown has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to := b.state, b.refresh()
	b.mu.Unlock()
	b.notify(from, to)
	return to
}

// refresh must be called with mu held.
func (b *Breaker) refresh() State {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = HalfOpen
		b.trials = 0
	}
	return b.state
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.opts.OnChange != nil {
		b.opts.OnChange(from, to)
	}
}

// allow reserves a slot for one call.
func (b *Breaker) allow() error {
	b.mu.Lock()
	from := b.state
	st := b.refresh()
	var err error
	switch st {
	case Open:
		err = ErrOpen
	case HalfOpen:
		if b.trials >= b.opts.Trials {
			err = ErrOpen
		} else {
			b.trials++
		}
	}
	b.mu.Unlock()
	b.notify(from, st)
	return err
}

// record settles a call reserved by allow.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	from := b.state
	switch {
	case err == nil:
		b.state = Closed
		b.failures = 0
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if b.state == HalfOpen && b.trials > 0 {
			b.trials--
		}
	default:
		b.failures++
		if b.state == HalfOpen || b.failures >= b.opts.Failures {
			b.state = Open
			b.openedAt = b.now()
			b.failures = 0
			b.trials = 0
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// Do runs f unless the breaker is open.
func (b *Breaker) Do(ctx context.Context, f func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := f(ctx)
	b.record(err)
	return err
}

// Stage guards an fn.Stage with b.
func Stage[In, Out any](b *Breaker, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		if err := b.allow(); err != nil {
			return fn.Err[Out](err)
		}
		res := stage(ctx, in)
		_, err := res.Unwrap()
		b.record(err)
		return res
	}
}
