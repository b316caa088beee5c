package sbi

import "fmt"

// ResetType is the SYSTEM_RESET reset_type argument.
type ResetType uint32

// SBI SRST reset types
const (
	ResetTypeShutdown   ResetType = 0x0
	ResetTypeColdReboot ResetType = 0x1
	ResetTypeWarmReboot ResetType = 0x2
	ResetTypeLast                 = ResetTypeWarmReboot

	ResetTypeVendorStart ResetType = 0xF0000000
)

// ResetReason is the SYSTEM_RESET reset_reason argument.
type ResetReason uint32

// SBI SRST reset reasons
const (
	ResetReasonNone    ResetReason = 0x0
	ResetReasonSysFail ResetReason = 0x1

	ResetReasonImplStart   ResetReason = 0xE0000000
	ResetReasonVendorStart ResetReason = 0xF0000000
)

// Reserved reports whether t is neither defined nor vendor specific.
func (t ResetType) Reserved() bool {
	return t > ResetTypeLast && t < ResetTypeVendorStart
}

// Vendor reports whether t is in the vendor specific range.
func (t ResetType) Vendor() bool {
	return t >= ResetTypeVendorStart
}

func (t ResetType) String() string {
	switch t {
	case ResetTypeShutdown:
		return "SHUTDOWN"
	case ResetTypeColdReboot:
		return "COLD_REBOOT"
	case ResetTypeWarmReboot:
		return "WARM_REBOOT"
	}
	if t.Vendor() {
		return fmt.Sprintf("VENDOR(%#x)", uint32(t))
	}
	return fmt.Sprintf("RESERVED(%#x)", uint32(t))
}

// Reserved reports whether r is neither defined, implementation nor vendor
// specific.
func (r ResetReason) Reserved() bool {
	return r > ResetReasonSysFail && r < ResetReasonImplStart
}

func (r ResetReason) String() string {
	switch {
	case r == ResetReasonNone:
		return "NONE"
	case r == ResetReasonSysFail:
		return "SYSFAIL"
	case r >= ResetReasonVendorStart:
		return fmt.Sprintf("VENDOR(%#x)", uint32(r))
	case r >= ResetReasonImplStart:
		return fmt.Sprintf("IMPL(%#x)", uint32(r))
	}
	return fmt.Sprintf("RESERVED(%#x)", uint32(r))
}
