package sbi

import "fmt"

// HWEvent is a generic hardware event code (event type HW).
type HWEvent uint16

// General pmu event codes specified in SBI PMU extension
const (
	HWNoEvent               HWEvent = 0
	HWCPUCycles             HWEvent = 1
	HWInstructions          HWEvent = 2
	HWCacheReferences       HWEvent = 3
	HWCacheMisses           HWEvent = 4
	HWBranchInstructions    HWEvent = 5
	HWBranchMisses          HWEvent = 6
	HWBusCycles             HWEvent = 7
	HWStalledCyclesFrontend HWEvent = 8
	HWStalledCyclesBackend  HWEvent = 9
	HWRefCPUCycles          HWEvent = 10

	HWGeneralMax HWEvent = 11
)

// HWCache identifies a cache for hardware cache events.
//
//	{ L1-D, L1-I, LLC, ITLB, DTLB, BPU, NODE } x
//	{ read, write, prefetch } x
//	{ accesses, misses }
type HWCache uint8

const (
	HWCacheL1D  HWCache = 0
	HWCacheL1I  HWCache = 1
	HWCacheLL   HWCache = 2
	HWCacheDTLB HWCache = 3
	HWCacheITLB HWCache = 4
	HWCacheBPU  HWCache = 5
	HWCacheNode HWCache = 6

	HWCacheMax HWCache = 7
)

// HWCacheOp is the access type of a hardware cache event.
type HWCacheOp uint8

const (
	HWCacheOpRead     HWCacheOp = 0
	HWCacheOpWrite    HWCacheOp = 1
	HWCacheOpPrefetch HWCacheOp = 2

	HWCacheOpMax HWCacheOp = 3
)

// HWCacheResult is the outcome counted by a hardware cache event.
type HWCacheResult uint8

const (
	HWCacheResultAccess HWCacheResult = 0
	HWCacheResultMiss   HWCacheResult = 1

	HWCacheResultMax HWCacheResult = 2
)

// FWEvent is a firmware event counted by the SBI implementation itself,
// available even when the hardware has no performance counters.
type FWEvent uint16

const (
	FWMisalignedLoad     FWEvent = 0
	FWMisalignedStore    FWEvent = 1
	FWAccessLoad         FWEvent = 2
	FWAccessStore        FWEvent = 3
	FWIllegalInsn        FWEvent = 4
	FWSetTimer           FWEvent = 5
	FWIPISent            FWEvent = 6
	FWIPIRecvd           FWEvent = 7
	FWFenceISent         FWEvent = 8
	FWFenceIRecvd        FWEvent = 9
	FWSfenceVMASent      FWEvent = 10
	FWSfenceVMARcvd      FWEvent = 11
	FWSfenceVMAASIDSent  FWEvent = 12
	FWSfenceVMAASIDRcvd  FWEvent = 13
	FWHfenceGVMASent     FWEvent = 14
	FWHfenceGVMARcvd     FWEvent = 15
	FWHfenceGVMAVMIDSent FWEvent = 16
	FWHfenceGVMAVMIDRcvd FWEvent = 17
	FWHfenceVVMASent     FWEvent = 18
	FWHfenceVVMARcvd     FWEvent = 19
	FWHfenceVVMAASIDSent FWEvent = 20
	FWHfenceVVMAASIDRcvd FWEvent = 21

	FWMax FWEvent = 22
)

// EventType is the type nibble of an event index.
type EventType uint8

// SBI PMU event idx type
const (
	EventTypeHW      EventType = 0x0
	EventTypeHWCache EventType = 0x1
	EventTypeHWRaw   EventType = 0x2
	EventTypeFW      EventType = 0xf

	EventTypeMax EventType = 0x10
)

// Valid reports whether t is one of the four defined event types.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeHW, EventTypeHWCache, EventTypeHWRaw, EventTypeFW:
		return true
	}
	return false
}

func (t EventType) String() string {
	switch t {
	case EventTypeHW:
		return "HW"
	case EventTypeHWCache:
		return "HW_CACHE"
	case EventTypeHWRaw:
		return "HW_RAW"
	case EventTypeFW:
		return "FW"
	}
	return fmt.Sprintf("EventType(%#x)", uint8(t))
}

// CounterType distinguishes hardware and firmware counters.
type CounterType uint8

// SBI PMU counter type
const (
	CounterTypeHW CounterType = 0
	CounterTypeFW CounterType = 1
)

func (t CounterType) String() string {
	if t == CounterTypeFW {
		return "FW"
	}
	return "HW"
}

// Event index layout.
const (
	EventIdxOffset   = 20
	EventIdxMask     = 0xFFFFF
	EventIdxCodeMask = 0xFFFF
	EventIdxTypeMask = 0xF0000
	EventRawIdx      = 0x20000

	EventIdxInvalid EventIndex = 0xFFFFFFFF

	// EventIdxTypeShift positions the type nibble in bits [19:16].
	EventIdxTypeShift = 16
)

// EventIndex is a packed PMU event selector: bits [19:16] hold the event
// type and bits [15:0] the event code.
type EventIndex uint32

// ComposeEventIndex packs an event type and code.
func ComposeEventIndex(typ EventType, code uint16) (EventIndex, error) {
	if !typ.Valid() {
		return EventIdxInvalid, fmt.Errorf("sbi: invalid event type %v", typ)
	}
	return EventIndex(uint32(typ)<<EventIdxTypeShift | uint32(code)), nil
}

// Type returns bits [19:16] of idx.
func (idx EventIndex) Type() EventType {
	return EventType((uint32(idx) & EventIdxTypeMask) >> EventIdxTypeShift)
}

// Code returns bits [15:0] of idx.
func (idx EventIndex) Code() uint16 {
	return uint16(uint32(idx) & EventIdxCodeMask)
}

// Decompose splits idx into its type and code.
func (idx EventIndex) Decompose() (EventType, uint16) {
	return idx.Type(), idx.Code()
}

// Valid reports whether idx fits the 20-bit layout and has a defined type.
func (idx EventIndex) Valid() bool {
	return uint32(idx)&^EventIdxMask == 0 && idx.Type().Valid()
}

func (idx EventIndex) String() string {
	if idx == EventIdxInvalid {
		return "INVALID"
	}
	typ, code := idx.Decompose()
	switch typ {
	case EventTypeHW:
		return "HW:" + HWEvent(code).String()
	case EventTypeHWCache:
		c, op, res := DecodeCacheEvent(code)
		return fmt.Sprintf("HW_CACHE:%v/%v/%v", c, op, res)
	case EventTypeFW:
		return "FW:" + FWEvent(code).String()
	}
	return fmt.Sprintf("%v:%#x", typ, code)
}

// HWEventIndex returns the event index of a generic hardware event.
func HWEventIndex(ev HWEvent) EventIndex {
	return EventIndex(uint32(EventTypeHW)<<EventIdxTypeShift | uint32(ev))
}

// FWEventIndex returns the event index of a firmware event.
func FWEventIndex(ev FWEvent) EventIndex {
	return EventIndex(uint32(EventTypeFW)<<EventIdxTypeShift | uint32(ev))
}

// EncodeCacheEvent packs a cache event code: cache id in bits [15:3],
// operation in bits [2:1] and result in bit 0.
func EncodeCacheEvent(c HWCache, op HWCacheOp, res HWCacheResult) uint16 {
	return uint16(c)<<3 | uint16(op&0x3)<<1 | uint16(res&0x1)
}

// DecodeCacheEvent is the inverse of EncodeCacheEvent.
func DecodeCacheEvent(code uint16) (HWCache, HWCacheOp, HWCacheResult) {
	return HWCache(code >> 3), HWCacheOp((code >> 1) & 0x3), HWCacheResult(code & 0x1)
}

// CacheEventIndex returns the event index of a hardware cache event.
func CacheEventIndex(c HWCache, op HWCacheOp, res HWCacheResult) EventIndex {
	return EventIndex(uint32(EventTypeHWCache)<<EventIdxTypeShift | uint32(EncodeCacheEvent(c, op, res)))
}

// CfgFlags are the config_flags of COUNTER_CFG_MATCH.
type CfgFlags uint64

// Flags defined for config matching function
const (
	CfgFlagSkipMatch  CfgFlags = 1 << 0
	CfgFlagClearValue CfgFlags = 1 << 1
	CfgFlagAutoStart  CfgFlags = 1 << 2
	CfgFlagSetVUINH   CfgFlags = 1 << 3
	CfgFlagSetVSINH   CfgFlags = 1 << 4
	CfgFlagSetUINH    CfgFlags = 1 << 5
	CfgFlagSetSINH    CfgFlags = 1 << 6
	CfgFlagSetMINH    CfgFlags = 1 << 7

	cfgFlagsAll CfgFlags = 1<<8 - 1
)

// InhibitMask returns the privilege inhibit bits of f.
func (f CfgFlags) InhibitMask() CfgFlags {
	return f & (CfgFlagSetVUINH | CfgFlagSetVSINH | CfgFlagSetUINH | CfgFlagSetSINH | CfgFlagSetMINH)
}

// Unknown returns any bits of f that are not defined.
func (f CfgFlags) Unknown() CfgFlags {
	return f &^ cfgFlagsAll
}

// StartFlags are the start_flags of COUNTER_START.
type StartFlags uint64

// Flags defined for counter start function
const (
	StartFlagSetInitValue StartFlags = 1 << 0
)

// StopFlags are the stop_flags of COUNTER_STOP.
type StopFlags uint64

// Flags defined for counter stop function
const (
	StopFlagReset StopFlags = 1 << 0
)
