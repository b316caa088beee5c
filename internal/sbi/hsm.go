package sbi

import "fmt"

// HartState is a hart's position in the HSM lifecycle, as returned by
// HART_GET_STATUS.
type HartState uint64

// SBI HSM hart states
const (
	HartStarted        HartState = 0x0
	HartStopped        HartState = 0x1
	HartStartPending   HartState = 0x2
	HartStopPending    HartState = 0x3
	HartSuspended      HartState = 0x4
	HartSuspendPending HartState = 0x5
	HartResumePending  HartState = 0x6
)

var hartStateNames = [...]string{
	"STARTED",
	"STOPPED",
	"START_PENDING",
	"STOP_PENDING",
	"SUSPENDED",
	"SUSPEND_PENDING",
	"RESUME_PENDING",
}

// Valid reports whether s is one of the seven defined states.
func (s HartState) Valid() bool {
	return s <= HartResumePending
}

// Pending reports whether s is a transitional state.
func (s HartState) Pending() bool {
	switch s {
	case HartStartPending, HartStopPending, HartSuspendPending, HartResumePending:
		return true
	}
	return false
}

func (s HartState) String() string {
	if !s.Valid() {
		return fmt.Sprintf("HartState(%d)", uint64(s))
	}
	return hartStateNames[s]
}

// ParseHartState rejects any value outside the closed state set.
func ParseHartState(v uint64) (HartState, error) {
	s := HartState(v)
	if !s.Valid() {
		return 0, fmt.Errorf("sbi: invalid hart state %#x", v)
	}
	return s, nil
}

// SuspendType is the HART_SUSPEND suspend_type argument. The top bit marks
// a non-retentive suspend; the low 31 bits are the base type, where values
// from SuspPlatBase upwards are platform specific.
type SuspendType uint32

// HSM suspend type encoding
const (
	SuspBaseMask  SuspendType = 0x7fffffff
	SuspNonRetBit SuspendType = 0x80000000
	SuspPlatBase  SuspendType = 0x10000000

	SuspendRetDefault     SuspendType = 0x00000000
	SuspendRetPlatform                = SuspPlatBase
	SuspendRetLast                    = SuspBaseMask
	SuspendNonRetDefault              = SuspNonRetBit
	SuspendNonRetPlatform             = SuspNonRetBit | SuspPlatBase
	SuspendNonRetLast                 = SuspNonRetBit | SuspBaseMask
)

// maxPlatformSuspend is the largest base accepted for a platform type.
const maxPlatformSuspend = uint32(SuspBaseMask - SuspPlatBase)

// NonRetentive reports whether the top bit of t is set.
func (t SuspendType) NonRetentive() bool {
	return t&SuspNonRetBit != 0
}

// Platform reports whether t falls in a platform specific range.
func (t SuspendType) Platform() bool {
	return t&SuspBaseMask >= SuspPlatBase
}

// Default reports whether t is one of the two default suspend types.
func (t SuspendType) Default() bool {
	return t&SuspBaseMask == SuspendRetDefault
}

// Reserved reports whether t lies between the default value and the
// platform range of its half. Those values are reserved.
func (t SuspendType) Reserved() bool {
	return !t.Default() && !t.Platform()
}

// ComposeSuspendType builds a suspend type from its parts. Non-platform
// bases must be below SuspPlatBase; platform bases are offsets into the
// platform range.
func ComposeSuspendType(base uint32, nonRetentive, platform bool) (SuspendType, error) {
	var t SuspendType
	if platform {
		if base > maxPlatformSuspend {
			return 0, fmt.Errorf("sbi: platform suspend base %#x out of range", base)
		}
		t = SuspPlatBase + SuspendType(base)
	} else {
		if SuspendType(base) >= SuspPlatBase {
			return 0, fmt.Errorf("sbi: suspend base %#x overlaps platform range", base)
		}
		t = SuspendType(base)
	}
	if nonRetentive {
		t |= SuspNonRetBit
	}
	return t, nil
}

// Decompose is the inverse of ComposeSuspendType.
func (t SuspendType) Decompose() (base uint32, nonRetentive, platform bool) {
	b := t & SuspBaseMask
	nonRetentive = t.NonRetentive()
	platform = b >= SuspPlatBase
	if platform {
		b -= SuspPlatBase
	}
	return uint32(b), nonRetentive, platform
}

func (t SuspendType) String() string {
	kind := "RET"
	if t.NonRetentive() {
		kind = "NON_RET"
	}
	switch {
	case t.Default():
		return kind + "_DEFAULT"
	case t.Platform():
		base, _, _ := t.Decompose()
		return fmt.Sprintf("%s_PLATFORM+%#x", kind, base)
	default:
		return fmt.Sprintf("%s_RESERVED(%#x)", kind, uint32(t))
	}
}
