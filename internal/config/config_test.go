package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinyrange/rvsbi/internal/hv/riscv/rv64"
	"github.com/tinyrange/rvsbi/internal/pmu"
	"github.com/tinyrange/rvsbi/internal/sbi"
)

func TestValue(t *testing.T) {
	tests := []struct {
		in   string
		want Value
	}{
		{"0", 0},
		{"42", 42},
		{"0x8020_0000", 0x8020_0000},
		{"0b101", 5},
		{"0o17", 15},
		{"-1", Value(^uint64(0))},
		{"-3", Value(sbi.ErrInvalidParam.Code())},
	}
	for _, tt := range tests {
		got, err := parseValue(tt.in)
		if err != nil {
			t.Fatalf("parseValue(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("parseValue(%q) = %#x, want %#x", tt.in, uint64(got), uint64(tt.want))
		}
	}
	if _, err := parseValue("nope"); err == nil {
		t.Fatalf("expected error for non-number")
	}
}

func TestParsePlatformDefaults(t *testing.T) {
	p, err := ParsePlatform(nil)
	if err != nil {
		t.Fatalf("ParsePlatform: %v", err)
	}
	if p.Harts != 1 || p.MemoryMB != DefaultMemoryMB || p.Timebase != rv64.DefaultTimebase {
		t.Fatalf("defaults not applied: %+v", p)
	}
	if p.PMU == nil || p.PMU.Disabled || p.PMU.HWCounters != 7 {
		t.Fatalf("default PMU not applied: %+v", p.PMU)
	}

	cfg, err := p.MachineConfig()
	if err != nil {
		t.Fatalf("MachineConfig: %v", err)
	}
	if cfg.Firmware.SpecVersion != sbi.Version(1, 0) {
		t.Fatalf("spec version = %v", cfg.Firmware.SpecVersion)
	}
	if cfg.MemorySize != DefaultMemoryMB<<20 || cfg.PMU == nil {
		t.Fatalf("unexpected machine config %+v", cfg)
	}
}

func TestParsePlatform(t *testing.T) {
	const doc = `
harts: 4
bootHart: 2
memoryMB: 16
timebase: 1000000
hypervisor: true
entry: 0x80200000
suspendTypes: [0, 0x90000000]
pmu:
  hwCounters: 5
  fwCounters: 22
  width: 48
  events:
    - first: 0x4
      last: 0x6
      counters: 0x18
firmware:
  specVersion: "2.0"
  implID: 1
  implVersion: 0x10005
  mvendorid: 0x489
  legacy: true
`
	p, err := ParsePlatform([]byte(doc))
	if err != nil {
		t.Fatalf("ParsePlatform: %v", err)
	}
	cfg, err := p.MachineConfig()
	if err != nil {
		t.Fatalf("MachineConfig: %v", err)
	}

	want := pmu.Config{
		HWCounters: 5,
		FWCounters: 22,
		Width:      48,
		Events: []pmu.EventMapping{{
			First:    sbi.HWEventIndex(sbi.HWCacheMisses),
			Last:     sbi.HWEventIndex(sbi.HWBranchMisses),
			Counters: 0x18,
		}},
	}
	if diff := cmp.Diff(&want, cfg.PMU); diff != "" {
		t.Fatalf("pmu mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]sbi.SuspendType{sbi.SuspendRetDefault, sbi.SuspendNonRetPlatform}, cfg.SuspendTypes); diff != "" {
		t.Fatalf("suspend types mismatch (-want +got):\n%s", diff)
	}
	if cfg.Harts != 4 || cfg.BootHart != 2 || cfg.MemorySize != 16<<20 || !cfg.Hypervisor {
		t.Fatalf("unexpected machine config %+v", cfg)
	}
	if cfg.Entry != 0x8020_0000 {
		t.Fatalf("entry = %#x", cfg.Entry)
	}
	fw := cfg.Firmware
	if fw.SpecVersion != sbi.Version(2, 0) || fw.ImplID != sbi.ImplOpenSBI || fw.ImplVersion != 0x10005 || fw.MVendorID != 0x489 || !fw.Legacy {
		t.Fatalf("unexpected firmware config %+v", fw)
	}
}

func TestParsePlatformErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown_key", "cores: 2\n"},
		{"boot_hart_range", "harts: 2\nbootHart: 2\n"},
		{"reserved_suspend", "suspendTypes: [5]\n"},
		{"wide_suspend", "suspendTypes: [0x100000000]\n"},
		{"bad_version", "firmware:\n  specVersion: one\n"},
		{"pmu_layout", "pmu:\n  hwCounters: 40\n"},
		{"bad_number", "entry: lots\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePlatform([]byte(tt.doc)); err == nil {
				t.Fatalf("expected error for %q", tt.doc)
			}
		})
	}
}

func TestPMUDisabled(t *testing.T) {
	p, err := ParsePlatform([]byte("pmu:\n  disabled: true\n"))
	if err != nil {
		t.Fatalf("ParsePlatform: %v", err)
	}
	cfg, err := p.MachineConfig()
	if err != nil {
		t.Fatalf("MachineConfig: %v", err)
	}
	if cfg.PMU != nil {
		t.Fatalf("PMU should be disabled")
	}
}

func TestWritePlatformRoundTrip(t *testing.T) {
	in := DefaultPlatform()
	in.Harts = 2
	in.Entry = 0x8020_0000
	in.SuspendTypes = []Value{Value(sbi.SuspendRetPlatform)}
	in.Firmware.MArchID = 7

	var buf bytes.Buffer
	if err := WritePlatform(&buf, in); err != nil {
		t.Fatalf("WritePlatform: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("entry: 0x80200000")) {
		t.Fatalf("entry not written in hex:\n%s", buf.String())
	}

	out, err := ParsePlatform(buf.Bytes())
	if err != nil {
		t.Fatalf("ParsePlatform: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPlatform(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "platform.yaml")
	if err := os.WriteFile(path, []byte("harts: 3\n"), 0o644); err != nil {
		t.Fatalf("failed to write yaml: %v", err)
	}
	p, err := LoadPlatform(path)
	if err != nil {
		t.Fatalf("LoadPlatform: %v", err)
	}
	if p.Harts != 3 {
		t.Fatalf("Harts = %d, want 3", p.Harts)
	}
	if _, err := LoadPlatform(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestProgramCompile(t *testing.T) {
	const doc = `
steps:
  - hart: 0
    ext: HSM
    fid: HART_START
    args: [1, 0x80200000, 0xabc]
    expect: {error: SUCCESS}
  - hart: 1
    ext: ext_time
    fid: set_timer
    args: [-1]
  - hart: 0
    ext: 0x0A000000
    fid: 3
  - hart: 0
    ext: LEGACY_SEND_IPI
    args: [0x80001000]
    stores:
      - {addr: 0x80001000, value: 0b10}
    expect: {value: 0}
`
	p, err := ParseProgram([]byte(doc))
	if err != nil {
		t.Fatalf("ParseProgram: %v", err)
	}
	steps, err := p.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	want := []rv64.Step{
		{Hart: 0, Call: sbi.Call{Extension: sbi.ExtHSM, Function: sbi.FunctionID(sbi.HSMHartStart), Args: [6]uint64{1, 0x8020_0000, 0xabc}}},
		{Hart: 1, Call: sbi.Call{Extension: sbi.ExtTime, Function: sbi.FunctionID(sbi.TimeSetTimer), Args: [6]uint64{^uint64(0)}}},
		{Hart: 0, Call: sbi.Call{Extension: sbi.ExtFirmwareStart, Function: 3}},
		{
			Hart:   0,
			Call:   sbi.Call{Extension: sbi.ExtLegacySendIPI, Args: [6]uint64{0x8000_1000}},
			Stores: []rv64.Store{{Addr: 0x8000_1000, Value: 2}},
		},
	}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Fatalf("steps mismatch (-want +got):\n%s", diff)
	}
}

func TestProgramErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown_ext", "steps:\n  - {hart: 0, ext: NOPE}\n"},
		{"unknown_fid", "steps:\n  - {hart: 0, ext: TIME, fid: GET_TIME}\n"},
		{"too_many_args", "steps:\n  - {hart: 0, ext: BASE, args: [1, 2, 3, 4, 5, 6, 7]}\n"},
		{"unknown_error", "steps:\n  - {hart: 0, ext: BASE, expect: {error: ERR_OOPS}}\n"},
		{"unknown_key", "steps:\n  - {hart: 0, ext: BASE, function: 0}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseProgram([]byte(tt.doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestStepCheck(t *testing.T) {
	value := Value(0x0100_0000)
	s := Step{Expect: &Expect{Error: "success", Value: &value}}

	if err := s.Check(sbi.OK(0x0100_0000)); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := s.Check(sbi.OK(0x0200_0000)); !errors.Is(err, ErrMismatch) {
		t.Fatalf("value mismatch = %v", err)
	}
	if err := s.Check(sbi.Fail(sbi.ErrDenied)); !errors.Is(err, ErrMismatch) {
		t.Fatalf("error mismatch = %v", err)
	}

	s = Step{Expect: &Expect{Error: "-2"}}
	if err := s.Check(sbi.Fail(sbi.ErrNotSupported)); err != nil {
		t.Fatalf("numeric error: %v", err)
	}
	if err := (Step{}).Check(sbi.Fail(sbi.ErrFailed)); err != nil {
		t.Fatalf("no expectation should always pass: %v", err)
	}
}

func TestDescribe(t *testing.T) {
	s := Step{Hart: 1, Ext: "HSM", Fid: "HART_STOP"}
	if got := s.Describe(); got != "hart 1 HSM.HART_STOP" {
		t.Fatalf("Describe = %q", got)
	}
	s = Step{Ext: "TIME", Fid: "SET_TIMER", Args: []Value{0x1234_5678}}
	if got := s.Describe(); got != "hart 0 TIME.SET_TIMER(0x12345678)" {
		t.Fatalf("Describe = %q", got)
	}
}
