package rv64

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/rvsbi/internal/firmware"
	"github.com/tinyrange/rvsbi/internal/hsm"
	"github.com/tinyrange/rvsbi/internal/pmu"
	"github.com/tinyrange/rvsbi/internal/sbi"
)

// DefaultMemorySize is the RAM size used when none is configured.
const DefaultMemorySize = 64 * 1024 * 1024

// ErrStalled is returned by Run when every hart with calls left is stopped
// or suspended with nothing able to wake it.
var ErrStalled = errors.New("machine stalled")

// Config describes the machine to build.
type Config struct {
	Harts      int
	BootHart   int
	MemorySize uint64

	// Timebase is the mtime frequency in Hz.
	Timebase uint64

	// Hypervisor enables the H extension, and with it the HFENCE calls.
	Hypervisor bool

	// SuspendTypes lists the HSM suspend types the harts implement. Empty
	// means the retentive and non-retentive defaults.
	SuspendTypes []sbi.SuspendType

	// PMU is the counter layout. Nil disables the PMU extension.
	PMU *pmu.Config

	Firmware firmware.Config

	// Entry is where the boot hart starts; it defaults to RAMBase.
	Entry    uint64
	Bootargs string
}

type options struct {
	now          func() time.Time
	tickInterval time.Duration
}

// Option configures a Machine.
type Option func(*options)

// WithClock sets the clock the CLINT derives mtime from.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTickInterval sets how often Run checks the harts' timers.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) { o.tickInterval = d }
}

// Machine is a multi-hart RV64 system running the SBI firmware. It
// implements firmware.Platform and pmu.HardwareCounters.
type Machine struct {
	Harts    []*Hart
	Memory   *Memory
	CLINT    *CLINT
	Console  *Console
	HSM      *hsm.Manager
	PMU      *pmu.Unit
	Firmware *firmware.Firmware

	cfg          Config
	tickInterval time.Duration
	fdt          []byte
	dtbAddr      uint64

	reset atomic.Pointer[ResetError]
}

var (
	_ firmware.Platform    = (*Machine)(nil)
	_ pmu.HardwareCounters = (*Machine)(nil)
)

// NewMachine creates a machine with its boot hart started at cfg.Entry, a0
// holding the hart ID and a1 the address of the device tree.
func NewMachine(cfg Config, output io.Writer, input io.Reader, opts ...Option) (*Machine, error) {
	o := options{tickInterval: time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Harts == 0 {
		cfg.Harts = 1
	}
	if cfg.MemorySize == 0 {
		cfg.MemorySize = DefaultMemorySize
	}
	if cfg.Entry == 0 {
		cfg.Entry = RAMBase
	}

	var hsmOpts []hsm.Option
	if len(cfg.SuspendTypes) > 0 {
		hsmOpts = append(hsmOpts, hsm.WithSuspendTypes(cfg.SuspendTypes...))
	}
	states, err := hsm.NewManager(cfg.Harts, cfg.BootHart, hsmOpts...)
	if err != nil {
		return nil, fmt.Errorf("rv64: %w", err)
	}

	harts := make([]*Hart, cfg.Harts)
	for i := range harts {
		harts[i] = NewHart(uint64(i))
	}
	clint, err := NewCLINT(harts, cfg.Timebase, o.now)
	if err != nil {
		return nil, fmt.Errorf("rv64: %w", err)
	}

	m := &Machine{
		Harts:        harts,
		Memory:       NewMemory(cfg.MemorySize),
		CLINT:        clint,
		Console:      NewConsole(output, input),
		HSM:          states,
		cfg:          cfg,
		tickInterval: o.tickInterval,
	}
	clint.onTimer = m.wake

	if cfg.PMU != nil {
		m.PMU, err = pmu.New(cfg.Harts, *cfg.PMU, m)
		if err != nil {
			return nil, fmt.Errorf("rv64: %w", err)
		}
	}
	m.Firmware, err = firmware.New(cfg.Firmware, m, states, m.PMU)
	if err != nil {
		return nil, fmt.Errorf("rv64: %w", err)
	}

	if err := m.boot(); err != nil {
		return nil, err
	}
	return m, nil
}

// boot places the device tree at the top of RAM and points the boot hart
// at the entry address.
func (m *Machine) boot() error {
	if !m.Memory.Contains(m.cfg.Entry, 4) {
		return fmt.Errorf("rv64: entry 0x%x outside RAM", m.cfg.Entry)
	}

	m.fdt = GenerateFDT(m, m.cfg.Bootargs)
	size := (uint64(len(m.fdt)) + 0xfff) &^ 0xfff
	if size >= m.Memory.Size() {
		return fmt.Errorf("rv64: %d bytes of RAM cannot hold the device tree", m.Memory.Size())
	}
	m.dtbAddr = m.Memory.Base + m.Memory.Size() - size
	if err := m.Memory.LoadBytes(m.dtbAddr, m.fdt); err != nil {
		return fmt.Errorf("rv64: load device tree: %w", err)
	}

	m.Harts[m.cfg.BootHart].enter(m.cfg.Entry, m.dtbAddr)
	return nil
}

// DeviceTree returns the flattened device tree handed to the boot hart.
func (m *Machine) DeviceTree() []byte {
	return m.fdt
}

// DeviceTreeAddr returns the guest address of the device tree.
func (m *Machine) DeviceTreeAddr() uint64 {
	return m.dtbAddr
}

// Halted returns the pending reset, or nil.
func (m *Machine) Halted() *ResetError {
	return m.reset.Load()
}

func (m *Machine) wake(hart uint64) {
	if m.HSM.Wake(hart) {
		slog.Debug("rv64: wakeup", "hart", hart)
	}
}

// SetTimer implements firmware.Platform.
func (m *Machine) SetTimer(hart, stime uint64) {
	m.CLINT.SetTimecmp(hart, stime)
	m.CLINT.Tick()
}

// SendIPI implements firmware.Platform.
func (m *Machine) SendIPI(hart uint64) {
	m.Harts[hart].Raise(MipSSIP)
	m.wake(hart)
}

// ClearIPI implements firmware.Platform.
func (m *Machine) ClearIPI(hart uint64) {
	m.Harts[hart].Clear(MipSSIP)
}

// RemoteFence implements firmware.Platform.
func (m *Machine) RemoteFence(hart uint64, f firmware.Fence) {
	m.Harts[hart].fence(f)
}

// HasHypervisor implements firmware.Platform.
func (m *Machine) HasHypervisor() bool {
	return m.cfg.Hypervisor
}

// ValidAddress implements firmware.Platform.
func (m *Machine) ValidAddress(addr uint64) bool {
	return m.Memory.Contains(addr, 4)
}

// ReadGuest64 implements firmware.Platform.
func (m *Machine) ReadGuest64(addr uint64) (uint64, error) {
	return m.Memory.Read64(addr)
}

// PutChar implements firmware.Platform.
func (m *Machine) PutChar(c byte) {
	m.Console.PutChar(c)
}

// GetChar implements firmware.Platform.
func (m *Machine) GetChar() (byte, bool) {
	return m.Console.GetChar()
}

// Reset implements firmware.Platform. The first reset wins.
func (m *Machine) Reset(typ sbi.ResetType, reason sbi.ResetReason) error {
	m.reset.CompareAndSwap(nil, &ResetError{Type: typ, Reason: reason})
	return nil
}

// CountEvent implements pmu.HardwareCounters.
func (m *Machine) CountEvent(hart uint64, event sbi.EventIndex, data uint64) uint64 {
	if hart >= uint64(len(m.Harts)) {
		return 0
	}
	h := m.Harts[hart]
	switch event {
	case sbi.HWEventIndex(sbi.HWCPUCycles), sbi.HWEventIndex(sbi.HWRefCPUCycles), sbi.HWEventIndex(sbi.HWBusCycles):
		return h.Cycle()
	case sbi.HWEventIndex(sbi.HWInstructions):
		return h.Instret()
	}
	return 0
}

// Ecall executes an ecall from S-mode on a hart: the call held in a7, a6
// and a0-a5 is serviced and the hart moves past the ecall instruction.
// After a system reset every Ecall fails with a ResetError.
func (m *Machine) Ecall(hart uint64) (sbi.Ret, error) {
	if hart >= uint64(len(m.Harts)) {
		return sbi.Ret{}, fmt.Errorf("rv64: no hart %d", hart)
	}
	if r := m.reset.Load(); r != nil {
		return sbi.Ret{}, r
	}

	h := m.Harts[hart]
	ret := m.HandleSBI(h)

	// Advance PC past ecall instruction
	h.PC += 4
	h.retire(1)

	if r := m.reset.Load(); r != nil {
		return ret, r
	}
	return ret, nil
}

// Store is a doubleword written to memory before a step's call.
type Store struct {
	Addr  uint64
	Value uint64
}

// Step is one ecall of a call program.
type Step struct {
	Hart   uint64
	Call   sbi.Call
	Stores []Store
}

// Result is the outcome of a step.
type Result struct {
	Index int
	Step  Step
	Ret   sbi.Ret

	// State is the hart's HSM state once the call settled.
	State sbi.HartState
}

// Run replays a call program. Every hart runs its own steps in order on its
// own goroutine; a hart that is stopped or suspended blocks until another
// hart (or its timer) brings it back. report, if not nil, is called once per
// executed step, never concurrently.
//
// Run returns nil once every step has executed, a ResetError if a hart
// reset the system, or ErrStalled if the remaining steps can never run.
func (m *Machine) Run(ctx context.Context, steps []Step, report func(Result)) error {
	perHart := make([][]int, len(m.Harts))
	active := 0
	for i, s := range steps {
		if s.Hart >= uint64(len(m.Harts)) {
			return fmt.Errorf("rv64: step %d: no hart %d", i, s.Hart)
		}
		if len(perHart[s.Hart]) == 0 {
			active++
		}
		perHart[s.Hart] = append(perHart[s.Hart], i)
	}

	var reportMu sync.Mutex
	emit := func(r Result) {
		if report == nil {
			return
		}
		reportMu.Lock()
		defer reportMu.Unlock()
		report(r)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	m.Console.Start()

	sched := &scheduler{m: m, running: active, blocked: map[uint64]bool{}, cancel: cancel}
	g, gctx := errgroup.WithContext(ctx)
	for id, indexes := range perHart {
		if len(indexes) == 0 {
			continue
		}
		h := m.Harts[id]
		g.Go(func() error {
			defer sched.finish()
			for _, i := range indexes {
				if err := m.awaitRunning(gctx, h, sched); err != nil {
					return err
				}
				r, err := m.step(h, i, steps[i])
				emit(r)
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	done := make(chan struct{})
	var ticker sync.WaitGroup
	ticker.Add(1)
	go func() {
		defer ticker.Done()
		m.tickLoop(done)
	}()

	err := g.Wait()
	close(done)
	ticker.Wait()

	if cause := context.Cause(ctx); errors.Is(cause, ErrStalled) {
		return cause
	}
	return err
}

func (m *Machine) tickLoop(done <-chan struct{}) {
	t := time.NewTicker(m.tickInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			m.CLINT.Tick()
		}
	}
}

func (m *Machine) step(h *Hart, index int, s Step) (Result, error) {
	r := Result{Index: index, Step: s}
	for _, st := range s.Stores {
		if err := m.Memory.Write64(st.Addr, st.Value); err != nil {
			return r, fmt.Errorf("rv64: step %d: %w", index, err)
		}
	}

	h.load(s.Call)
	ret, err := m.Ecall(h.ID)
	r.Ret = ret
	if err == nil {
		m.settle(h)
	}
	r.State, _ = m.HSM.Status(h.ID)
	return r, err
}

// settle finishes a stop or suspend the hart just requested, as the hart
// would on its way out of the firmware.
func (m *Machine) settle(h *Hart) {
	st, _ := m.HSM.Status(h.ID)
	if st != sbi.HartStopPending && st != sbi.HartSuspendPending {
		return
	}
	if tr, ok := m.HSM.Complete(h.ID); ok {
		m.apply(h, tr)
	}
}

// awaitRunning blocks until the hart is STARTED.
func (m *Machine) awaitRunning(ctx context.Context, h *Hart, s *scheduler) error {
	for {
		if st, _ := m.HSM.Status(h.ID); st == sbi.HartStarted {
			return nil
		}
		s.block(h.ID)
		tr, err := m.HSM.Wait(ctx, h.ID)
		s.unblock(h.ID)
		if err != nil {
			return err
		}
		m.apply(h, tr)
	}
}

func (m *Machine) apply(h *Hart, tr hsm.Transition) {
	slog.Debug("rv64: hart state", "hart", h.ID, "from", tr.From, "to", tr.To)
	if tr.Jump() {
		h.enter(tr.Addr, tr.Opaque)
	}
	if tr.To == sbi.HartStopped {
		h.Clear(MipSSIP | MipSTIP)
	}
}

// scheduler tracks which hart goroutines can still make progress.
type scheduler struct {
	m      *Machine
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	running int
	blocked map[uint64]bool
}

func (s *scheduler) block(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
	s.blocked[id] = true
	s.check()
}

func (s *scheduler) unblock(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
	delete(s.blocked, id)
}

func (s *scheduler) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
	s.check()
}

// check must be called with s.mu held. Once no hart goroutine is running,
// only a pending transition or an armed timer can unblock a waiting hart.
func (s *scheduler) check() {
	if s.running > 0 || len(s.blocked) == 0 {
		return
	}
	var ids []uint64
	for id := range s.blocked {
		st, _ := s.m.HSM.Status(id)
		switch {
		case st == sbi.HartStopped:
		case st == sbi.HartSuspended && !s.m.CLINT.Armed(id):
		default:
			return
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	s.cancel(fmt.Errorf("%w: harts %v are waiting with nothing left to wake them", ErrStalled, ids))
}
