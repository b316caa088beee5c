package firmware

import (
	"fmt"

	"github.com/tinyrange/rvsbi/internal/hsm"
	"github.com/tinyrange/rvsbi/internal/pmu"
	"github.com/tinyrange/rvsbi/internal/sbi"
)

// Config holds the identity the firmware reports through the BASE
// extension.
type Config struct {
	SpecVersion sbi.SpecVersion
	ImplID      sbi.ImplementationID
	ImplVersion uint64

	// Values of the mvendorid, marchid and mimpid CSRs.
	MVendorID uint64
	MArchID   uint64
	MImpID    uint64

	// Legacy enables the v0.1 extensions.
	Legacy bool
}

// Firmware is an SBI implementation bound to a platform.
type Firmware struct {
	cfg      Config
	platform Platform
	harts    *hsm.Manager
	counters *pmu.Unit
	dispatch *Dispatcher
}

// New creates the firmware and registers every extension it implements.
// counters may be nil, in which case the PMU extension is not offered.
func New(cfg Config, p Platform, harts *hsm.Manager, counters *pmu.Unit) (*Firmware, error) {
	if p == nil || harts == nil {
		return nil, fmt.Errorf("firmware: platform and hart manager are required")
	}
	if cfg.SpecVersion == 0 {
		cfg.SpecVersion = sbi.Version(1, 0)
	}

	f := &Firmware{
		cfg:      cfg,
		platform: p,
		harts:    harts,
		counters: counters,
		dispatch: NewDispatcher(),
	}

	exts := []Extension{
		baseExtension{f},
		timeExtension{f},
		ipiExtension{f},
		rfenceExtension{f},
		hsmExtension{f},
		srstExtension{f},
	}
	if counters != nil {
		exts = append(exts, pmuExtension{f})
	}
	if cfg.Legacy {
		exts = append(exts, legacyExtension{f})
	}
	for _, ext := range exts {
		if err := f.dispatch.Register(ext); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Dispatcher returns the dispatcher, for registering vendor or firmware
// specific extensions.
func (f *Firmware) Dispatcher() *Dispatcher {
	return f.dispatch
}

// Harts returns the hart state manager.
func (f *Firmware) Harts() *hsm.Manager {
	return f.harts
}

// Counters returns the PMU, or nil.
func (f *Firmware) Counters() *pmu.Unit {
	return f.counters
}

// Handle runs a call made by hart.
func (f *Firmware) Handle(hart uint64, call sbi.Call) sbi.Ret {
	return f.dispatch.Handle(hart, call)
}

// Record counts a firmware event on hart.
func (f *Firmware) Record(hart uint64, ev sbi.FWEvent) {
	if f.counters != nil {
		f.counters.Record(hart, ev)
	}
}
