package rv64

import (
	"errors"
	"fmt"
	"time"

	"github.com/tinyrange/rvsbi/internal/sbi"
	"github.com/tinyrange/rvsbi/internal/timeslice"
)

// ErrHalt is returned when the machine is halted
var ErrHalt = errors.New("machine halted")

// ResetError is returned by Ecall and Run after a hart requested a system
// reset. It matches ErrHalt.
type ResetError struct {
	Type   sbi.ResetType
	Reason sbi.ResetReason
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("machine halted: %v (reason %v)", e.Type, e.Reason)
}

func (e *ResetError) Is(target error) bool {
	return target == ErrHalt
}

// HandleSBI handles an SBI call from S-mode on h
// a7 = extension ID, a6 = function ID
// a0-a5 = arguments
// Returns: a0 = error code, a1 = value (legacy calls: a0 only)
func (m *Machine) HandleSBI(h *Hart) sbi.Ret {
	call := sbi.Call{
		Extension: sbi.ExtensionID(h.X[RegA7]),
		Function:  sbi.FunctionID(h.X[RegA6]),
	}
	copy(call.Args[:], h.X[RegA0:RegA0+len(call.Args)])

	var start time.Time
	if timeslice.Enabled() {
		start = time.Now()
	}
	ret := m.Firmware.Handle(h.ID, call)
	if !start.IsZero() {
		timeslice.Record(callKind(call.Extension), h.ID, time.Since(start))
	}
	if ret.Legacy {
		h.X[RegA0] = ret.Value
		return ret
	}
	h.X[RegA0] = ret.Error.Code()
	h.X[RegA1] = ret.Value
	return ret
}

// load places a call in the argument registers of h, the way supervisor
// code does before executing ecall.
func (h *Hart) load(call sbi.Call) {
	h.X[RegA7] = uint64(call.Extension)
	h.X[RegA6] = uint64(call.Function)
	copy(h.X[RegA0:], call.Args[:])
}
