package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the submission state of one controller
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

var (
	ErrBusy        = errors.New("a submission is already in progress")
	ErrClosed      = errors.New("controller is closed")
	ErrNoFile      = errors.New("no file selected")
	ErrIncomplete  = errors.New("all six composites are required")
	ErrUnknownSlot = errors.New("unknown composite slot")
)

// CanTransition reports whether a controller may move from one state to another.
// Only Loading is transient; every trigger goes through it.
func CanTransition(from, to State) bool {
	switch from {
	case StateIdle, StateSucceeded, StateFailed:
		return to == StateLoading
	case StateLoading:
		return to == StateSucceeded || to == StateFailed
	default:
		return false
	}
}

// Outcome labels a finished submission for observers
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeDiscarded Outcome = "discarded"
)

// Observer is told about every finished submission
type Observer func(workflow string, outcome Outcome, elapsed time.Duration)

type options struct {
	onChange func()
	observer Observer
}

// Option configures a controller
type Option func(*options)

// WithOnChange registers a callback invoked after every state change.
// It runs without the controller lock held.
func WithOnChange(fn func()) Option {
	return func(o *options) {
		o.onChange = fn
	}
}

// WithObserver registers a submission observer
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// ticket identifies one in-flight submission. Its context is the
// cancellation token checked before the response mutates state.
type ticket struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	start  time.Time
}

// machine holds the state shared by both controllers. Callers hold the
// owning controller's mutex.
type machine struct {
	state   State
	message string
	gen     uint64
	closed  bool

	ctx      context.Context
	stop     context.CancelFunc
	inflight *ticket
}

func newMachine() machine {
	ctx, stop := context.WithCancel(context.Background())
	return machine{state: StateIdle, ctx: ctx, stop: stop}
}

func (m *machine) transition(to State) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("invalid transition: %s -> %s", m.state, to)
	}
	m.state = to
	return nil
}

func (m *machine) begin() (*ticket, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if m.state == StateLoading {
		return nil, ErrBusy
	}
	if err := m.transition(StateLoading); err != nil {
		return nil, err
	}
	m.message = ""
	m.gen++

	ctx, cancel := context.WithCancel(m.ctx)
	t := &ticket{
		gen:    m.gen,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		start:  time.Now(),
	}
	m.inflight = t
	return t, nil
}

// current reports whether t may still mutate state
func (m *machine) current(t *ticket) bool {
	return !m.closed && t.ctx.Err() == nil && m.gen == t.gen && m.state == StateLoading
}

func (m *machine) succeed() error {
	return m.transition(StateSucceeded)
}

func (m *machine) fail(message string) error {
	if err := m.transition(StateFailed); err != nil {
		return err
	}
	m.message = message
	return nil
}

// release ends t. It must run after any state mutation for t.
func (m *machine) release(t *ticket) {
	if m.inflight == t {
		m.inflight = nil
	}
	t.cancel()
	close(t.done)
}

func (m *machine) close() {
	if m.closed {
		return
	}
	m.closed = true
	m.gen++
	m.stop()
}

func (m *machine) canTrigger() bool {
	return !m.closed && m.state != StateLoading
}

// wait blocks until the submission in flight when it was called has ended
func wait(ctx context.Context, done <-chan struct{}) error {
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
