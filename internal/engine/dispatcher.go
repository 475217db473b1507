package engine

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	veilotel "github.com/dativo-io/veil/internal/otel"
	"github.com/dativo-io/veil/internal/pii"
)

const (
	// DefaultOffloadThreshold is the text length, in runes, from which
	// detection is handed to the worker pool.
	DefaultOffloadThreshold = 5000
	// DefaultOffloadTimeout bounds the wait for a worker reply before the
	// caller runs the detection itself.
	DefaultOffloadTimeout = 10 * time.Second
)

type detectFunc func(ctx context.Context, text string, rules []pii.CustomRule) (*Detection, error)

type job struct {
	ctx   context.Context
	text  string
	rules []pii.CustomRule
	reply chan<- result
}

type result struct {
	det *Detection
	err error
}

// Dispatcher decides where a detection runs. Short texts run inline; long
// texts go to a fixed pool of worker goroutines. When no reply arrives within
// the timeout the caller falls back to running the same detection inline.
type Dispatcher struct {
	threshold int
	timeout   time.Duration
	workers   int
	detect    detectFunc

	jobs      chan job
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithThreshold sets the offload threshold in runes. Values <= 0 keep the default.
func WithThreshold(runes int) DispatcherOption {
	return func(d *Dispatcher) {
		if runes > 0 {
			d.threshold = runes
		}
	}
}

// WithTimeout sets how long the caller waits for a worker. Values <= 0 keep the default.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithWorkers sets the pool size. Values <= 0 use runtime.NumCPU().
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// NewDispatcher starts the worker pool. Call Close to stop it.
func NewDispatcher(e *Engine, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		threshold: DefaultOffloadThreshold,
		timeout:   DefaultOffloadTimeout,
		workers:   runtime.NumCPU(),
		detect:    e.Detect,
		quit:      make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.jobs = make(chan job)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.jobs:
			det, err := d.detect(j.ctx, j.text, j.rules)
			// reply is buffered; an abandoned job never blocks the worker.
			j.reply <- result{det: det, err: err}
		case <-d.quit:
			return
		}
	}
}

// Detect runs detection inline or on the pool depending on text length.
// It returns ctx.Err() if ctx ends while waiting for a worker.
func (d *Dispatcher) Detect(ctx context.Context, text string, rules []pii.CustomRule) (*Detection, error) {
	ctx, span := tracer.Start(ctx, "engine.dispatch")
	defer span.End()

	runes := pii.RuneLen(text)
	span.SetAttributes(veilotel.PIITextRunes.Int(runes))
	if runes < d.threshold {
		recordDispatch(ctx, DispatchInline)
		return d.detect(ctx, text, rules)
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	reply := make(chan result, 1)
	select {
	case d.jobs <- job{ctx: ctx, text: text, rules: rules, reply: reply}:
	case <-timer.C:
		return d.fallback(ctx, text, rules, "no idle worker")
	case <-d.quit:
		return d.fallback(ctx, text, rules, "dispatcher closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		if r.det != nil {
			r.det.Dispatch = DispatchOffloaded
		}
		span.SetAttributes(veilotel.PIIOffloaded.Bool(true))
		recordDispatch(ctx, DispatchOffloaded)
		return r.det, r.err
	case <-timer.C:
		return d.fallback(ctx, text, rules, "worker timed out")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) fallback(ctx context.Context, text string, rules []pii.CustomRule, reason string) (*Detection, error) {
	log.Warn().
		Str("reason", reason).
		Dur("timeout", d.timeout).
		Func(veilotel.LogTraceFields(ctx)).
		Msg("offload_fallback_inline")
	recordDispatch(ctx, DispatchFallback)
	det, err := d.detect(ctx, text, rules)
	if det != nil {
		det.Dispatch = DispatchFallback
	}
	return det, err
}

// Close stops the workers and waits for in-flight jobs to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.quit) })
	d.wg.Wait()
}
