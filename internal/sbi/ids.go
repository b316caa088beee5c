// Package sbi defines the RISC-V Supervisor Binary Interface vocabulary:
// extension and function identifiers, hart states, reset parameters, PMU
// event encodings and the SBI error codes.
//
// Every value here is part of the RISC-V SBI ABI and checked by
// interoperating firmware and kernels. Names may differ from the C headers,
// numbers may not.
package sbi

// ExtensionID selects an SBI extension (passed in a7).
type ExtensionID uint64

// SBI Extension IDs
const (
	ExtLegacySetTimer            ExtensionID = 0x0
	ExtLegacyConsolePutchar      ExtensionID = 0x1
	ExtLegacyConsoleGetchar      ExtensionID = 0x2
	ExtLegacyClearIPI            ExtensionID = 0x3
	ExtLegacySendIPI             ExtensionID = 0x4
	ExtLegacyRemoteFenceI        ExtensionID = 0x5
	ExtLegacyRemoteSfenceVMA     ExtensionID = 0x6
	ExtLegacyRemoteSfenceVMAASID ExtensionID = 0x7
	ExtLegacyShutdown            ExtensionID = 0x8

	ExtBase   ExtensionID = 0x10
	ExtTime   ExtensionID = 0x54494D45 // "TIME"
	ExtIPI    ExtensionID = 0x735049   // "sPI"
	ExtRFence ExtensionID = 0x52464E43 // "RFNC"
	ExtHSM    ExtensionID = 0x48534D   // "HSM"
	ExtSRST   ExtensionID = 0x53525354 // "SRST"
	ExtPMU    ExtensionID = 0x504D55   // "PMU"
)

// Extension ID ranges reserved for vendor and firmware specific extensions.
const (
	ExtVendorStart   ExtensionID = 0x09000000
	ExtVendorEnd     ExtensionID = 0x09FFFFFF
	ExtFirmwareStart ExtensionID = 0x0A000000
	ExtFirmwareEnd   ExtensionID = 0x0AFFFFFF

	// legacyLast is the highest extension ID of the v0.1 range.
	legacyLast ExtensionID = 0x0F
)

// IsLegacy reports whether ext belongs to the v0.1 legacy range.
func (ext ExtensionID) IsLegacy() bool {
	return ext <= legacyLast
}

// IsVendor reports whether ext is in the vendor specific range.
func (ext ExtensionID) IsVendor() bool {
	return ext >= ExtVendorStart && ext <= ExtVendorEnd
}

// IsFirmware reports whether ext is in the firmware specific range.
func (ext ExtensionID) IsFirmware() bool {
	return ext >= ExtFirmwareStart && ext <= ExtFirmwareEnd
}

// FunctionID is the raw function selector of a call (passed in a6). Each
// extension interprets it through its own function type below, since the
// same number names a different operation in every extension.
type FunctionID uint64

// BaseFunction is a function of the BASE extension.
type BaseFunction FunctionID

// SBI function IDs for BASE extension
const (
	BaseGetSpecVersion BaseFunction = 0x0
	BaseGetImpID       BaseFunction = 0x1
	BaseGetImpVersion  BaseFunction = 0x2
	BaseProbeExt       BaseFunction = 0x3
	BaseGetMvendorID   BaseFunction = 0x4
	BaseGetMarchID     BaseFunction = 0x5
	BaseGetMimpID      BaseFunction = 0x6
)

// TimeFunction is a function of the TIME extension.
type TimeFunction FunctionID

// SBI function IDs for TIME extension
const (
	TimeSetTimer TimeFunction = 0x0
)

// IPIFunction is a function of the IPI extension.
type IPIFunction FunctionID

// SBI function IDs for IPI extension
const (
	IPISendIPI IPIFunction = 0x0
)

// RFenceFunction is a function of the RFENCE extension.
type RFenceFunction FunctionID

// SBI function IDs for RFENCE extension
const (
	RFenceRemoteFenceI         RFenceFunction = 0x0
	RFenceRemoteSfenceVMA      RFenceFunction = 0x1
	RFenceRemoteSfenceVMAASID  RFenceFunction = 0x2
	RFenceRemoteHfenceGVMAVMID RFenceFunction = 0x3
	RFenceRemoteHfenceGVMA     RFenceFunction = 0x4
	RFenceRemoteHfenceVVMAASID RFenceFunction = 0x5
	RFenceRemoteHfenceVVMA     RFenceFunction = 0x6
)

// HSMFunction is a function of the HSM extension.
type HSMFunction FunctionID

// SBI function IDs for HSM extension
const (
	HSMHartStart     HSMFunction = 0x0
	HSMHartStop      HSMFunction = 0x1
	HSMHartGetStatus HSMFunction = 0x2
	HSMHartSuspend   HSMFunction = 0x3
)

// SRSTFunction is a function of the SRST extension.
type SRSTFunction FunctionID

// SBI function IDs for SRST extension
const (
	SRSTReset SRSTFunction = 0x0
)

// PMUFunction is a function of the PMU extension.
type PMUFunction FunctionID

// SBI function IDs for PMU extension
const (
	PMUNumCounters     PMUFunction = 0x0
	PMUCounterGetInfo  PMUFunction = 0x1
	PMUCounterCfgMatch PMUFunction = 0x2
	PMUCounterStart    PMUFunction = 0x3
	PMUCounterStop     PMUFunction = 0x4
	PMUCounterFWRead   PMUFunction = 0x5
)

// StandardExtensions lists the non-legacy extensions defined here.
var StandardExtensions = []ExtensionID{
	ExtBase, ExtTime, ExtIPI, ExtRFence, ExtHSM, ExtSRST, ExtPMU,
}

// LegacyExtensions lists the v0.1 extensions.
var LegacyExtensions = []ExtensionID{
	ExtLegacySetTimer,
	ExtLegacyConsolePutchar,
	ExtLegacyConsoleGetchar,
	ExtLegacyClearIPI,
	ExtLegacySendIPI,
	ExtLegacyRemoteFenceI,
	ExtLegacyRemoteSfenceVMA,
	ExtLegacyRemoteSfenceVMAASID,
	ExtLegacyShutdown,
}
