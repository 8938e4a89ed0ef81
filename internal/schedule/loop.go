package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Task is one unit of work run by a Loop.
type Task interface {
	Run(ctx context.Context) error
}

type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Run(ctx context.Context) error {
	return f(ctx)
}

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateWaiting
	StateCancelled
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateCancelled:
		return "cancelled"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

type LoopConfig struct {
	Name     string
	Task     Task
	Interval time.Duration

	// Optional configuration.
	InitialDelay time.Duration // wait before the first run, defaults to none
	Timeout      time.Duration // bound on a single run, defaults to none
	Clock        clockwork.Clock
	Metrics      *LoopMetrics
}

func (c *LoopConfig) Validate() error {
	if c.Name == "" {
		return errors.New("loop name is required")
	}
	if c.Task == nil {
		return errors.New("task is required")
	}
	if c.Interval <= 0 {
		return errors.New("interval must be greater than 0")
	}
	if c.InitialDelay < 0 {
		return errors.New("initial delay must not be negative")
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}

	// Optional configuration.
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Metrics == nil {
		c.Metrics = NewLoopMetrics(nil)
	}
	return nil
}

// Loop runs a task repeatedly, waiting Interval between the end of one run
// and the start of the next.
//
// Cancellation is only observed while waiting. A run in progress always
// completes, since the task gets a context that is detached from the loop's.
type Loop struct {
	log   *slog.Logger
	cfg   *LoopConfig
	state atomic.Int32
}

func NewLoop(log *slog.Logger, cfg *LoopConfig) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loop config: %w", err)
	}
	return &Loop{
		log: log.With("loop", cfg.Name),
		cfg: cfg,
	}, nil
}

func (l *Loop) Name() string {
	return l.cfg.Name
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

// Run blocks until ctx is done and the current run, if any, has returned.
// It returns an error only if the loop was already started.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateWaiting)) {
		return fmt.Errorf("loop %s already started", l.cfg.Name)
	}
	defer l.setState(StateStopped)

	l.log.Debug("loop: starting", "interval", l.cfg.Interval, "initialDelay", l.cfg.InitialDelay)

	if l.cfg.InitialDelay > 0 && !l.wait(ctx, l.cfg.InitialDelay) {
		l.log.Debug("loop: cancelled before first run")
		return nil
	}

	for {
		l.runOnce(ctx)

		if !l.wait(ctx, l.cfg.Interval) {
			l.log.Debug("loop: cancelled")
			return nil
		}
	}
}

// wait reports false if ctx was done before d elapsed.
func (l *Loop) wait(ctx context.Context, d time.Duration) bool {
	l.setState(StateWaiting)

	timer := l.cfg.Clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		l.setState(StateCancelled)
		return false
	case <-timer.Chan():
		return true
	}
}

func (l *Loop) runOnce(ctx context.Context) {
	l.setState(StateRunning)

	runCtx := context.WithoutCancel(ctx)
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, l.cfg.Timeout)
		defer cancel()
	}

	start := l.cfg.Clock.Now()
	err := l.cfg.Task.Run(runCtx)
	l.cfg.Metrics.RunDuration.WithLabelValues(l.cfg.Name).Observe(l.cfg.Clock.Since(start).Seconds())

	if err != nil {
		l.cfg.Metrics.Runs.WithLabelValues(l.cfg.Name, resultError).Inc()
		l.log.Error("loop: run failed", "error", err)
		return
	}
	l.cfg.Metrics.Runs.WithLabelValues(l.cfg.Name, resultSuccess).Inc()
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	l.cfg.Metrics.State.WithLabelValues(l.cfg.Name).Set(float64(s))
}
