// Package hsm tracks the lifecycle of every hart as described by the SBI
// Hart State Management extension.
//
// Requests (Start, Stop, Suspend, Wake) only move a hart into one of the
// pending states. The hart itself finishes the transition by calling
// Complete or Wait, mirroring how a real hart observes the request the next
// time it runs.
package hsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/rvsbi/internal/sbi"
)

// ErrIllegalTransition is returned when a state change would leave the HSM
// state graph.
var ErrIllegalTransition = errors.New("hsm: illegal transition")

// edges lists every legal state change.
var edges = map[sbi.HartState][]sbi.HartState{
	sbi.HartStopped:        {sbi.HartStartPending},
	sbi.HartStartPending:   {sbi.HartStarted},
	sbi.HartStarted:        {sbi.HartStopPending, sbi.HartSuspendPending},
	sbi.HartStopPending:    {sbi.HartStopped},
	sbi.HartSuspendPending: {sbi.HartSuspended},
	sbi.HartSuspended:      {sbi.HartResumePending},
	sbi.HartResumePending:  {sbi.HartStarted},
}

// Legal reports whether a hart may move from one state to another.
func Legal(from, to sbi.HartState) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition describes a completed state change.
type Transition struct {
	Hart int
	From sbi.HartState
	To   sbi.HartState

	// Addr and Opaque are the start or resume parameters. They are only set
	// when the hart must begin executing at a new address: after a start,
	// or after a non-retentive suspend.
	Addr   uint64
	Opaque uint64

	// Suspend is the suspend type of a suspend or resume transition.
	Suspend sbi.SuspendType
}

// Jump reports whether the hart must restart at Addr rather than continue
// where it was.
func (t Transition) Jump() bool {
	switch {
	case t.From == sbi.HartStartPending:
		return true
	case t.From == sbi.HartResumePending && t.Suspend.NonRetentive():
		return true
	}
	return false
}

type hart struct {
	state   sbi.HartState
	addr    uint64
	opaque  uint64
	suspend sbi.SuspendType
	wake    bool
}

// Manager holds the HSM state of a fixed set of harts. It is safe for
// concurrent use.
type Manager struct {
	mu      sync.Mutex
	harts   []hart
	changed chan struct{}

	suspendTypes map[sbi.SuspendType]bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithSuspendTypes sets the suspend types the platform implements. The
// default is the retentive and non-retentive default types.
func WithSuspendTypes(types ...sbi.SuspendType) Option {
	return func(m *Manager) {
		m.suspendTypes = make(map[sbi.SuspendType]bool, len(types))
		for _, t := range types {
			m.suspendTypes[t] = true
		}
	}
}

// NewManager creates a manager for n harts with bootHart started and every
// other hart stopped.
func NewManager(n int, bootHart int, opts ...Option) (*Manager, error) {
	if n <= 0 {
		return nil, fmt.Errorf("hsm: need at least one hart, got %d", n)
	}
	if bootHart < 0 || bootHart >= n {
		return nil, fmt.Errorf("hsm: boot hart %d out of range [0, %d)", bootHart, n)
	}

	m := &Manager{
		harts:   make([]hart, n),
		changed: make(chan struct{}),
		suspendTypes: map[sbi.SuspendType]bool{
			sbi.SuspendRetDefault:    true,
			sbi.SuspendNonRetDefault: true,
		},
	}
	for i := range m.harts {
		m.harts[i].state = sbi.HartStopped
	}
	m.harts[bootHart].state = sbi.HartStarted

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NumHarts returns the number of managed harts.
func (m *Manager) NumHarts() int {
	return len(m.harts)
}

// Valid reports whether id names a managed hart.
func (m *Manager) Valid(id uint64) bool {
	return id < uint64(len(m.harts))
}

// Status returns the state of a hart.
func (m *Manager) Status(id uint64) (sbi.HartState, error) {
	if !m.Valid(id) {
		return 0, sbi.ErrInvalidParam
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.harts[id].state, nil
}

// States returns a snapshot of every hart's state.
func (m *Manager) States() []sbi.HartState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]sbi.HartState, len(m.harts))
	for i, h := range m.harts {
		out[i] = h.state
	}
	return out
}

// Start requests that a stopped hart begin executing at addr with opaque in
// a1.
func (m *Manager) Start(id uint64, addr, opaque uint64) error {
	if !m.Valid(id) {
		return sbi.ErrInvalidParam
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	h := &m.harts[id]
	if h.state != sbi.HartStopped {
		return sbi.ErrAlreadyAvailable
	}
	h.addr, h.opaque = addr, opaque
	return m.move(int(id), sbi.HartStartPending)
}

// Stop requests that a started hart stop. It is only ever called by the hart
// itself.
func (m *Manager) Stop(id uint64) error {
	if !m.Valid(id) {
		return sbi.ErrInvalidParam
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.harts[id].state != sbi.HartStarted {
		return sbi.ErrFailed
	}
	return m.move(int(id), sbi.HartStopPending)
}

// CheckSuspendType validates a suspend type against the SBI reserved ranges
// and the types this platform implements.
func (m *Manager) CheckSuspendType(typ sbi.SuspendType) error {
	if typ.Reserved() {
		return sbi.ErrInvalidParam
	}
	if m.suspendTypes[typ] {
		return nil
	}
	return sbi.ErrNotSupported
}

// Suspend requests that a started hart enter a low power state. addr and
// opaque are only used on resume from a non-retentive suspend.
func (m *Manager) Suspend(id uint64, typ sbi.SuspendType, addr, opaque uint64) error {
	if !m.Valid(id) {
		return sbi.ErrInvalidParam
	}
	if err := m.CheckSuspendType(typ); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	h := &m.harts[id]
	if h.state != sbi.HartStarted {
		return sbi.ErrFailed
	}
	h.suspend = typ
	h.wake = false
	if typ.NonRetentive() {
		h.addr, h.opaque = addr, opaque
	}
	return m.move(int(id), sbi.HartSuspendPending)
}

// Wake delivers a wakeup event (an interrupt) to a hart. It reports whether
// the hart was suspended or about to suspend.
func (m *Manager) Wake(id uint64) bool {
	if !m.Valid(id) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	h := &m.harts[id]
	switch h.state {
	case sbi.HartSuspended:
		return m.move(int(id), sbi.HartResumePending) == nil
	case sbi.HartSuspendPending:
		h.wake = true
		return true
	}
	return false
}

// Complete finishes a pending transition of a hart. It reports false if the
// hart had nothing pending.
func (m *Manager) Complete(id uint64) (Transition, bool) {
	if !m.Valid(id) {
		return Transition{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completeLocked(int(id))
}

func (m *Manager) completeLocked(id int) (Transition, bool) {
	h := &m.harts[id]
	t := Transition{Hart: id, From: h.state}

	switch h.state {
	case sbi.HartStartPending:
		t.To = sbi.HartStarted
		t.Addr, t.Opaque = h.addr, h.opaque
	case sbi.HartStopPending:
		t.To = sbi.HartStopped
	case sbi.HartSuspendPending:
		t.To = sbi.HartSuspended
		t.Suspend = h.suspend
	case sbi.HartResumePending:
		t.To = sbi.HartStarted
		t.Suspend = h.suspend
		if h.suspend.NonRetentive() {
			t.Addr, t.Opaque = h.addr, h.opaque
		}
	default:
		return Transition{}, false
	}

	if err := m.move(id, t.To); err != nil {
		return Transition{}, false
	}

	// A wakeup that raced with the suspend request resumes immediately.
	if t.To == sbi.HartSuspended && h.wake {
		h.wake = false
		_ = m.move(id, sbi.HartResumePending)
	}
	return t, true
}

// Wait blocks until a hart has a pending transition and completes it.
func (m *Manager) Wait(ctx context.Context, id uint64) (Transition, error) {
	if !m.Valid(id) {
		return Transition{}, sbi.ErrInvalidParam
	}
	for {
		m.mu.Lock()
		if t, ok := m.completeLocked(int(id)); ok {
			m.mu.Unlock()
			return t, nil
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Transition{}, ctx.Err()
		case <-changed:
		}
	}
}

// move must be called with m.mu held.
func (m *Manager) move(id int, to sbi.HartState) error {
	h := &m.harts[id]
	if !Legal(h.state, to) {
		return fmt.Errorf("%w: hart %d %v -> %v", ErrIllegalTransition, id, h.state, to)
	}
	slog.Debug("hsm: transition", "hart", id, "from", h.state, "to", to)
	h.state = to

	close(m.changed)
	m.changed = make(chan struct{})
	return nil
}
