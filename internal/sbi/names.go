package sbi

import (
	"fmt"
	"strings"
)

var extensionNames = map[ExtensionID]string{
	ExtLegacySetTimer:            "LEGACY_SET_TIMER",
	ExtLegacyConsolePutchar:      "LEGACY_CONSOLE_PUTCHAR",
	ExtLegacyConsoleGetchar:      "LEGACY_CONSOLE_GETCHAR",
	ExtLegacyClearIPI:            "LEGACY_CLEAR_IPI",
	ExtLegacySendIPI:             "LEGACY_SEND_IPI",
	ExtLegacyRemoteFenceI:        "LEGACY_REMOTE_FENCE_I",
	ExtLegacyRemoteSfenceVMA:     "LEGACY_REMOTE_SFENCE_VMA",
	ExtLegacyRemoteSfenceVMAASID: "LEGACY_REMOTE_SFENCE_VMA_ASID",
	ExtLegacyShutdown:            "LEGACY_SHUTDOWN",
	ExtBase:                      "BASE",
	ExtTime:                      "TIME",
	ExtIPI:                       "IPI",
	ExtRFence:                    "RFENCE",
	ExtHSM:                       "HSM",
	ExtSRST:                      "SRST",
	ExtPMU:                       "PMU",
}

var functionNames = map[ExtensionID][]string{
	ExtBase: {
		"GET_SPEC_VERSION",
		"GET_IMP_ID",
		"GET_IMP_VERSION",
		"PROBE_EXT",
		"GET_MVENDORID",
		"GET_MARCHID",
		"GET_MIMPID",
	},
	ExtTime: {"SET_TIMER"},
	ExtIPI:  {"SEND_IPI"},
	ExtRFence: {
		"REMOTE_FENCE_I",
		"REMOTE_SFENCE_VMA",
		"REMOTE_SFENCE_VMA_ASID",
		"REMOTE_HFENCE_GVMA_VMID",
		"REMOTE_HFENCE_GVMA",
		"REMOTE_HFENCE_VVMA_ASID",
		"REMOTE_HFENCE_VVMA",
	},
	ExtHSM: {
		"HART_START",
		"HART_STOP",
		"HART_GET_STATUS",
		"HART_SUSPEND",
	},
	ExtSRST: {"RESET"},
	ExtPMU: {
		"NUM_COUNTERS",
		"COUNTER_GET_INFO",
		"COUNTER_CFG_MATCH",
		"COUNTER_START",
		"COUNTER_STOP",
		"COUNTER_FW_READ",
	},
}

func (ext ExtensionID) String() string {
	if name, ok := extensionNames[ext]; ok {
		return name
	}
	switch {
	case ext.IsVendor():
		return fmt.Sprintf("VENDOR(%#x)", uint64(ext))
	case ext.IsFirmware():
		return fmt.Sprintf("FIRMWARE(%#x)", uint64(ext))
	}
	return fmt.Sprintf("EXT(%#x)", uint64(ext))
}

// FunctionName returns the symbolic name of fid within ext, or "" if the
// pair is not defined.
func FunctionName(ext ExtensionID, fid FunctionID) string {
	names := functionNames[ext]
	if fid >= FunctionID(len(names)) {
		return ""
	}
	return names[fid]
}

// Functions returns the number of functions defined for ext.
func Functions(ext ExtensionID) int {
	return len(functionNames[ext])
}

// ParseExtension resolves a symbolic extension name such as "TIME" or
// "legacy_console_putchar".
func ParseExtension(name string) (ExtensionID, bool) {
	name = strings.TrimPrefix(strings.ToUpper(name), "EXT_")
	for ext, n := range extensionNames {
		if n == name {
			return ext, true
		}
	}
	return 0, false
}

// ParseFunction resolves a function name within ext.
func ParseFunction(ext ExtensionID, name string) (FunctionID, bool) {
	name = strings.ToUpper(name)
	for i, n := range functionNames[ext] {
		if n == name {
			return FunctionID(i), true
		}
	}
	return 0, false
}

var hwEventNames = [...]string{
	"NO_EVENT",
	"CPU_CYCLES",
	"INSTRUCTIONS",
	"CACHE_REFERENCES",
	"CACHE_MISSES",
	"BRANCH_INSTRUCTIONS",
	"BRANCH_MISSES",
	"BUS_CYCLES",
	"STALLED_CYCLES_FRONTEND",
	"STALLED_CYCLES_BACKEND",
	"REF_CPU_CYCLES",
}

func (e HWEvent) String() string {
	if e < HWGeneralMax {
		return hwEventNames[e]
	}
	return fmt.Sprintf("HWEvent(%d)", uint16(e))
}

var fwEventNames = [...]string{
	"MISALIGNED_LOAD",
	"MISALIGNED_STORE",
	"ACCESS_LOAD",
	"ACCESS_STORE",
	"ILLEGAL_INSN",
	"SET_TIMER",
	"IPI_SENT",
	"IPI_RECVD",
	"FENCE_I_SENT",
	"FENCE_I_RECVD",
	"SFENCE_VMA_SENT",
	"SFENCE_VMA_RCVD",
	"SFENCE_VMA_ASID_SENT",
	"SFENCE_VMA_ASID_RCVD",
	"HFENCE_GVMA_SENT",
	"HFENCE_GVMA_RCVD",
	"HFENCE_GVMA_VMID_SENT",
	"HFENCE_GVMA_VMID_RCVD",
	"HFENCE_VVMA_SENT",
	"HFENCE_VVMA_RCVD",
	"HFENCE_VVMA_ASID_SENT",
	"HFENCE_VVMA_ASID_RCVD",
}

func (e FWEvent) String() string {
	if e < FWMax {
		return fwEventNames[e]
	}
	return fmt.Sprintf("FWEvent(%d)", uint16(e))
}

var hwCacheNames = [...]string{"L1D", "L1I", "LL", "DTLB", "ITLB", "BPU", "NODE"}

func (c HWCache) String() string {
	if c < HWCacheMax {
		return hwCacheNames[c]
	}
	return fmt.Sprintf("HWCache(%d)", uint8(c))
}

var hwCacheOpNames = [...]string{"READ", "WRITE", "PREFETCH"}

func (op HWCacheOp) String() string {
	if op < HWCacheOpMax {
		return hwCacheOpNames[op]
	}
	return fmt.Sprintf("HWCacheOp(%d)", uint8(op))
}

func (r HWCacheResult) String() string {
	switch r {
	case HWCacheResultAccess:
		return "ACCESS"
	case HWCacheResultMiss:
		return "MISS"
	}
	return fmt.Sprintf("HWCacheResult(%d)", uint8(r))
}
