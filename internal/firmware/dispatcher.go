// Package firmware implements the supervisor-facing side of an SBI
// implementation: it decodes calls and runs them against a Platform, the
// hsm.Manager and the pmu.Unit.
package firmware

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tinyrange/rvsbi/internal/sbi"
)

// ErrDuplicateExtension is returned when two extensions claim the same ID.
var ErrDuplicateExtension = errors.New("firmware: extension already registered")

// Extension implements the functions of one or more SBI extensions.
type Extension interface {
	// IDs returns the extension IDs served.
	IDs() []sbi.ExtensionID

	// Handle runs a call made by hart. The dispatcher only passes calls
	// whose extension is one of IDs.
	Handle(hart uint64, call sbi.Call) sbi.Ret
}

// Prober is implemented by extensions whose probe value is not simply 1.
type Prober interface {
	Probe(ext sbi.ExtensionID) uint64
}

// Dispatcher routes calls to registered extensions. Registration must
// complete before the first call; Handle is safe for concurrent use after
// that.
type Dispatcher struct {
	mu   sync.RWMutex
	exts map[sbi.ExtensionID]Extension
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{exts: make(map[sbi.ExtensionID]Extension)}
}

func registrable(id sbi.ExtensionID) bool {
	if id.IsLegacy() || id.IsVendor() || id.IsFirmware() {
		return true
	}
	for _, std := range sbi.StandardExtensions {
		if id == std {
			return true
		}
	}
	return false
}

// Register adds an extension. Every ID it serves must be a standard,
// legacy, vendor or firmware specific ID not already registered.
func (d *Dispatcher) Register(ext Extension) error {
	ids := ext.IDs()
	if len(ids) == 0 {
		return fmt.Errorf("firmware: extension %T serves no IDs", ext)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range ids {
		if !registrable(id) {
			return fmt.Errorf("firmware: cannot register extension ID %#x", uint64(id))
		}
		if _, ok := d.exts[id]; ok {
			return fmt.Errorf("%w: %v", ErrDuplicateExtension, id)
		}
	}
	for _, id := range ids {
		d.exts[id] = ext
	}
	return nil
}

// Extensions returns the registered extension IDs in ascending order.
func (d *Dispatcher) Extensions() []sbi.ExtensionID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]sbi.ExtensionID, 0, len(d.exts))
	for id := range d.exts {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Probe returns the BASE probe value of an extension: 0 when it is not
// available.
func (d *Dispatcher) Probe(id sbi.ExtensionID) uint64 {
	d.mu.RLock()
	ext, ok := d.exts[id]
	d.mu.RUnlock()
	if !ok {
		return 0
	}
	if p, ok := ext.(Prober); ok {
		return p.Probe(id)
	}
	return 1
}

// Handle dispatches a call made by hart.
func (d *Dispatcher) Handle(hart uint64, call sbi.Call) sbi.Ret {
	d.mu.RLock()
	ext, ok := d.exts[call.Extension]
	d.mu.RUnlock()

	var ret sbi.Ret
	switch {
	case !ok:
		ret = sbi.Fail(sbi.ErrNotSupported)
	case !call.Extension.IsLegacy() && sbi.Functions(call.Extension) > 0 &&
		sbi.FunctionName(call.Extension, call.Function) == "":
		ret = sbi.Fail(sbi.ErrNotSupported)
	default:
		ret = ext.Handle(hart, call)
	}

	if !ret.Legacy && !ret.Error.Valid() {
		slog.Warn("sbi: handler returned an undefined error", "hart", hart, "call", call, "error", int64(ret.Error))
		ret = sbi.Fail(sbi.ErrFailed)
	}
	if !ret.Legacy && ret.Error != sbi.Success {
		ret.Value = 0
	}
	slog.Debug("sbi: call", "hart", hart, "call", call, "args", call.Args, "ret", ret)
	return ret
}

// result converts a Go error from hsm or pmu into a call result.
func result(value uint64, err error) sbi.Ret {
	if err == nil {
		return sbi.OK(value)
	}
	var se sbi.Error
	if errors.As(err, &se) {
		return sbi.Fail(se)
	}
	slog.Warn("sbi: internal error", "err", err)
	return sbi.Fail(sbi.ErrFailed)
}
