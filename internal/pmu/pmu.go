// Package pmu virtualizes the counters exposed through the SBI Performance
// Monitoring Unit extension.
//
// Every hart owns a bank of counters: the hardware counters (cycle, time,
// instret, hpmcounter3...) come first, followed by firmware counters that
// count events raised by the SBI implementation itself.
package pmu

import (
	"fmt"
	"log/slog"
	"math/bits"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/tinyrange/rvsbi/internal/sbi"
)

// HardwareCounters supplies raw, monotonically increasing event counts for
// a hart.
type HardwareCounters interface {
	CountEvent(hart uint64, event sbi.EventIndex, data uint64) uint64
}

type counter struct {
	event   sbi.EventIndex
	data    uint64
	inhibit sbi.CfgFlags
	running bool

	// value is the counter value at the last start or stop; base is the raw
	// hardware count sampled at start.
	value uint64
	base  uint64
}

func (c *counter) configured() bool {
	return c.event != sbi.EventIdxInvalid
}

// Unit is the PMU state of a machine. It is safe for concurrent use.
type Unit struct {
	mu    sync.Mutex
	cfg   Config
	hw    HardwareCounters
	harts [][]counter
	mask  uint64
}

// New creates a PMU for nharts harts.
func New(nharts int, cfg Config, hw HardwareCounters) (*Unit, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if nharts <= 0 {
		return nil, fmt.Errorf("pmu: need at least one hart, got %d", nharts)
	}

	u := &Unit{
		cfg:   cfg,
		hw:    hw,
		harts: make([][]counter, nharts),
	}
	if cfg.Width < 64 {
		u.mask = 1<<cfg.Width - 1
	} else {
		u.mask = ^uint64(0)
	}
	for i := range u.harts {
		bank := make([]counter, cfg.HWCounters+cfg.FWCounters)
		for j := range bank {
			bank[j].event = sbi.EventIdxInvalid
		}
		u.harts[i] = bank
	}
	return u, nil
}

// NumCounters returns the number of counters of each hart.
func (u *Unit) NumCounters() int {
	return u.cfg.HWCounters + u.cfg.FWCounters
}

// Events returns the hpm counter event map.
func (u *Unit) Events() []EventMapping {
	return append([]EventMapping(nil), u.cfg.Events...)
}

// IsFirmware reports whether idx is a firmware counter.
func (u *Unit) IsFirmware(idx uint64) bool {
	return idx >= uint64(u.cfg.HWCounters) && idx < uint64(u.NumCounters())
}

// Info returns the COUNTER_GET_INFO encoding of a counter: for hardware
// counters the CSR number in bits [11:0] and width-1 in bits [17:12], for
// firmware counters only the type bit (XLEN-1).
func (u *Unit) Info(idx uint64) (uint64, error) {
	if idx >= uint64(u.NumCounters()) {
		return 0, sbi.ErrInvalidParam
	}
	if u.IsFirmware(idx) {
		return uint64(sbi.CounterTypeFW) << 63, nil
	}
	width := u.cfg.Width
	if idx <= CounterInstret {
		width = 64
	}
	return uint64(CSRCycle+idx) | uint64(width-1)<<12, nil
}

// counterSet expands (base, mask) into counter indexes.
func (u *Unit) counterSet(base, mask uint64) ([]uint64, error) {
	if mask == 0 {
		return nil, sbi.ErrInvalidParam
	}
	top := uint64(63 - bits.LeadingZeros64(mask))
	if base >= uint64(u.NumCounters()) || top >= uint64(u.NumCounters())-base {
		return nil, sbi.ErrInvalidParam
	}
	set := bitset.From([]uint64{mask})
	var out []uint64
	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		out = append(out, base+uint64(i))
	}
	return out, nil
}

func (u *Unit) bank(hart uint64) ([]counter, error) {
	if hart >= uint64(len(u.harts)) {
		return nil, sbi.ErrInvalidParam
	}
	return u.harts[hart], nil
}

// canCount reports whether counter idx is able to count event.
func (u *Unit) canCount(idx uint64, event sbi.EventIndex) bool {
	if u.IsFirmware(idx) {
		return event.Type() == sbi.EventTypeFW
	}
	if event.Type() == sbi.EventTypeFW {
		return false
	}
	switch idx {
	case CounterCycle:
		return event == sbi.HWEventIndex(sbi.HWCPUCycles)
	case CounterTime:
		return false
	case CounterInstret:
		return event == sbi.HWEventIndex(sbi.HWInstructions)
	}
	for _, m := range u.cfg.Events {
		if m.Counters&(1<<idx) != 0 && m.Contains(event) {
			return true
		}
	}
	return false
}

func (u *Unit) checkEvent(event sbi.EventIndex) error {
	if !event.Valid() {
		return sbi.ErrInvalidParam
	}
	switch event.Type() {
	case sbi.EventTypeHW:
		if code := sbi.HWEvent(event.Code()); code == sbi.HWNoEvent || code >= sbi.HWGeneralMax {
			return sbi.ErrInvalidParam
		}
	case sbi.EventTypeHWCache:
		c, op, res := sbi.DecodeCacheEvent(event.Code())
		if c >= sbi.HWCacheMax || op >= sbi.HWCacheOpMax || res >= sbi.HWCacheResultMax {
			return sbi.ErrInvalidParam
		}
	case sbi.EventTypeFW:
		if sbi.FWEvent(event.Code()) >= sbi.FWMax {
			return sbi.ErrInvalidParam
		}
	}
	return nil
}

// raw samples the hardware count for a counter, masked to the counter width.
func (u *Unit) raw(hart uint64, c *counter) uint64 {
	if u.hw == nil {
		return 0
	}
	return u.hw.CountEvent(hart, c.event, c.data)
}

// current returns the value a counter would read right now.
func (u *Unit) current(hart, idx uint64, c *counter) uint64 {
	if !c.running || u.IsFirmware(idx) {
		return c.value
	}
	return (c.value + u.raw(hart, c) - c.base) & u.mask
}

// ConfigMatch finds and configures a counter in (base, mask) able to count
// event, returning its index.
func (u *Unit) ConfigMatch(hart, base, mask uint64, flags sbi.CfgFlags, event sbi.EventIndex, data uint64) (uint64, error) {
	if flags.Unknown() != 0 {
		return 0, sbi.ErrInvalidParam
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	bank, err := u.bank(hart)
	if err != nil {
		return 0, err
	}
	set, err := u.counterSet(base, mask)
	if err != nil {
		return 0, err
	}

	var idx uint64
	if flags&sbi.CfgFlagSkipMatch != 0 {
		idx = set[0]
		if !bank[idx].configured() {
			return 0, sbi.ErrInvalidParam
		}
	} else {
		if err := u.checkEvent(event); err != nil {
			return 0, err
		}
		found := false
		for _, i := range set {
			if !bank[i].configured() && u.canCount(i, event) {
				idx, found = i, true
				break
			}
		}
		if !found {
			return 0, sbi.ErrNotSupported
		}
		bank[idx].event = event
		bank[idx].data = data
		bank[idx].value = 0
	}

	c := &bank[idx]
	c.inhibit = flags.InhibitMask()
	if flags&sbi.CfgFlagClearValue != 0 {
		c.value = 0
		if c.running {
			c.base = u.raw(hart, c)
		}
	}
	if flags&sbi.CfgFlagAutoStart != 0 && !c.running {
		c.running = true
		c.base = u.raw(hart, c)
	}

	slog.Debug("pmu: counter configured", "hart", hart, "counter", idx, "event", c.event, "running", c.running)
	return idx, nil
}

// Start starts every counter in (base, mask). Either all counters start or
// none do.
func (u *Unit) Start(hart, base, mask uint64, flags sbi.StartFlags, initial uint64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	bank, err := u.bank(hart)
	if err != nil {
		return err
	}
	set, err := u.counterSet(base, mask)
	if err != nil {
		return err
	}
	for _, i := range set {
		if !bank[i].configured() {
			return sbi.ErrInvalidParam
		}
		if bank[i].running {
			return sbi.ErrAlreadyStarted
		}
	}

	for _, i := range set {
		c := &bank[i]
		if flags&sbi.StartFlagSetInitValue != 0 {
			c.value = initial & u.mask
		}
		c.base = u.raw(hart, c)
		c.running = true
	}
	return nil
}

// Stop stops every counter in (base, mask). With StopFlagReset the counters
// are also released.
func (u *Unit) Stop(hart, base, mask uint64, flags sbi.StopFlags) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	bank, err := u.bank(hart)
	if err != nil {
		return err
	}
	set, err := u.counterSet(base, mask)
	if err != nil {
		return err
	}
	for _, i := range set {
		if !bank[i].running {
			return sbi.ErrAlreadyStopped
		}
	}

	for _, i := range set {
		c := &bank[i]
		c.value = u.current(hart, i, c)
		c.running = false
		if flags&sbi.StopFlagReset != 0 {
			c.event = sbi.EventIdxInvalid
			c.data = 0
			c.inhibit = 0
		}
	}
	return nil
}

// FWRead returns the value of a firmware counter.
func (u *Unit) FWRead(hart, idx uint64) (uint64, error) {
	if !u.IsFirmware(idx) {
		return 0, sbi.ErrInvalidParam
	}
	return u.Read(hart, idx)
}

// Read returns the current value of any counter.
func (u *Unit) Read(hart, idx uint64) (uint64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	bank, err := u.bank(hart)
	if err != nil {
		return 0, err
	}
	if idx >= uint64(len(bank)) {
		return 0, sbi.ErrInvalidParam
	}
	return u.current(hart, idx, &bank[idx]), nil
}

// Record counts one occurrence of a firmware event on a hart.
func (u *Unit) Record(hart uint64, ev sbi.FWEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if hart >= uint64(len(u.harts)) {
		return
	}
	want := sbi.FWEventIndex(ev)
	bank := u.harts[hart]
	for i := u.cfg.HWCounters; i < len(bank); i++ {
		if c := &bank[i]; c.running && c.event == want {
			c.value++
		}
	}
}
