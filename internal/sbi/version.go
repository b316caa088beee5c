package sbi

import "fmt"

// Base extension spec version layout
const (
	SpecVersionMajorShift = 24
	SpecVersionMajorMask  = 0x7f
	SpecVersionMinorMask  = 0xffffff
)

// SpecVersion is the value returned by GET_SPEC_VERSION.
type SpecVersion uint64

// Version returns the encoding of major.minor. Out of range fields are
// masked to their widths.
func Version(major, minor uint32) SpecVersion {
	return SpecVersion(uint64(major&SpecVersionMajorMask)<<SpecVersionMajorShift |
		uint64(minor&SpecVersionMinorMask))
}

// Major returns the major version field.
func (v SpecVersion) Major() uint32 {
	return uint32(v>>SpecVersionMajorShift) & SpecVersionMajorMask
}

// Minor returns the minor version field.
func (v SpecVersion) Minor() uint32 {
	return uint32(v) & SpecVersionMinorMask
}

func (v SpecVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}

// ImplementationID identifies the SBI implementation (GET_IMP_ID).
type ImplementationID uint64

// Registered SBI implementation IDs.
const (
	ImplBBL     ImplementationID = 0
	ImplOpenSBI ImplementationID = 1
	ImplXvisor  ImplementationID = 2
	ImplKVM     ImplementationID = 3
	ImplRustSBI ImplementationID = 4
	ImplDiosix  ImplementationID = 5
	ImplCoffer  ImplementationID = 6
)
