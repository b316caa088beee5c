package firmware

import "github.com/tinyrange/rvsbi/internal/sbi"

// Fence is a remote fence request delivered to one hart.
type Fence struct {
	Kind  sbi.RFenceFunction
	Start uint64
	Size  uint64
	ASID  uint64
	VMID  uint64
}

// FlushAll reports whether the fence covers the whole address space.
func (f Fence) FlushAll() bool {
	return f.Kind == sbi.RFenceRemoteFenceI || (f.Start == 0 && f.Size == 0) || f.Size == ^uint64(0)
}

// Platform is the machine the firmware runs on.
type Platform interface {
	// SetTimer programs the supervisor timer of a hart and clears its pending
	// timer interrupt.
	SetTimer(hart, stime uint64)

	// SendIPI raises a supervisor software interrupt on a hart, waking it if
	// it is suspended. ClearIPI clears it.
	SendIPI(hart uint64)
	ClearIPI(hart uint64)

	// RemoteFence executes a fence on a hart.
	RemoteFence(hart uint64, f Fence)

	// HasHypervisor reports whether the harts implement the H extension.
	HasHypervisor() bool

	// ValidAddress reports whether a hart may start or resume at addr.
	ValidAddress(addr uint64) bool

	// ReadGuest64 reads a doubleword of supervisor memory.
	ReadGuest64(addr uint64) (uint64, error)

	// PutChar and GetChar back the legacy console. GetChar reports false
	// when no input is pending.
	PutChar(c byte)
	GetChar() (byte, bool)

	// Reset performs a system reset. It returns nil once the reset is
	// scheduled; the calling hart never resumes.
	Reset(typ sbi.ResetType, reason sbi.ResetReason) error
}
