// Package rv64 models a multi-hart RV64 platform from the point of view of
// its SBI firmware: hart register files, the CLINT timer, a console and
// guest memory. Harts issue ecalls which the firmware package services.
package rv64

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/rvsbi/internal/firmware"
)

// Memory layout constants
const (
	RAMBase   uint64 = 0x8000_0000 // RAM starts at 2GB
	CLINTBase uint64 = 0x0200_0000 // Core Local Interruptor
	CLINTSize uint64 = 0x0001_0000
)

// Privilege levels
const (
	PrivUser       uint8 = 0
	PrivSupervisor uint8 = 1
	PrivMachine    uint8 = 3
)

// Integer register numbers of the calling convention.
const (
	RegA0 = 10
	RegA1 = 11
	RegA6 = 16
	RegA7 = 17
)

// mip bits
const (
	MipSSIP uint64 = 1 << 1 // Supervisor software interrupt pending
	MipMSIP uint64 = 1 << 3 // Machine software interrupt pending
	MipSTIP uint64 = 1 << 5 // Supervisor timer interrupt pending
	MipMTIP uint64 = 1 << 7 // Machine timer interrupt pending
)

// Hart is the architectural state of one hart that the firmware touches.
//
// The register file, PC and privilege belong to the goroutine running the
// hart. Pending interrupts, counters and the fence log may be updated from
// other harts.
type Hart struct {
	ID uint64

	// Integer registers x0-x31
	X [32]uint64

	PC   uint64
	Priv uint8

	mip     atomic.Uint64
	cycle   atomic.Uint64
	instret atomic.Uint64

	mu     sync.Mutex
	fences []firmware.Fence
}

// NewHart creates a hart in supervisor mode with its PC at the start of RAM.
func NewHart(id uint64) *Hart {
	return &Hart{
		ID:   id,
		PC:   RAMBase,
		Priv: PrivSupervisor,
	}
}

// ReadReg reads an integer register (x0 always returns 0)
func (h *Hart) ReadReg(reg uint32) uint64 {
	if reg == 0 {
		return 0
	}
	return h.X[reg]
}

// WriteReg writes an integer register (writes to x0 are ignored)
func (h *Hart) WriteReg(reg uint32, val uint64) {
	if reg != 0 {
		h.X[reg] = val
	}
}

// Mip returns the pending interrupt bits.
func (h *Hart) Mip() uint64 {
	return h.mip.Load()
}

// Raise sets pending interrupt bits.
func (h *Hart) Raise(bits uint64) {
	for {
		old := h.mip.Load()
		if h.mip.CompareAndSwap(old, old|bits) {
			return
		}
	}
}

// Clear clears pending interrupt bits.
func (h *Hart) Clear(bits uint64) {
	for {
		old := h.mip.Load()
		if h.mip.CompareAndSwap(old, old&^bits) {
			return
		}
	}
}

// Cycle returns the cycle counter.
func (h *Hart) Cycle() uint64 {
	return h.cycle.Load()
}

// Instret returns the instructions-retired counter.
func (h *Hart) Instret() uint64 {
	return h.instret.Load()
}

// retire accounts for one instruction taking cycles cycles.
func (h *Hart) retire(cycles uint64) {
	h.cycle.Add(cycles)
	h.instret.Add(1)
}

// enter starts the hart at pc in supervisor mode with a0 and a1 set, as on
// an HSM start or a non-retentive resume.
func (h *Hart) enter(pc, a1 uint64) {
	h.X = [32]uint64{}
	h.X[RegA0] = h.ID
	h.X[RegA1] = a1
	h.PC = pc
	h.Priv = PrivSupervisor
}

func (h *Hart) fence(f firmware.Fence) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fences = append(h.fences, f)
}

// Fences returns the remote fences executed by the hart.
func (h *Hart) Fences() []firmware.Fence {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]firmware.Fence(nil), h.fences...)
}

func (h *Hart) String() string {
	return fmt.Sprintf("hart%d(pc=%#x mip=%#x)", h.ID, h.PC, h.Mip())
}
