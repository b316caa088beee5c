package firmware

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinyrange/rvsbi/internal/hsm"
	"github.com/tinyrange/rvsbi/internal/pmu"
	"github.com/tinyrange/rvsbi/internal/sbi"
)

type fenceCall struct {
	Hart  uint64
	Fence Fence
}

type fakePlatform struct {
	mu      sync.Mutex
	timers  map[uint64]uint64
	ipis    []uint64
	cleared []uint64
	fences  []fenceCall
	hyp     bool
	mem     map[uint64]uint64
	out     bytes.Buffer
	in      []byte
	resets  []sbi.ResetType
}

func (p *fakePlatform) SetTimer(hart, stime uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timers == nil {
		p.timers = map[uint64]uint64{}
	}
	p.timers[hart] = stime
}

func (p *fakePlatform) SendIPI(hart uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ipis = append(p.ipis, hart)
}

func (p *fakePlatform) ClearIPI(hart uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared = append(p.cleared, hart)
}

func (p *fakePlatform) RemoteFence(hart uint64, f Fence) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fences = append(p.fences, fenceCall{hart, f})
}

func (p *fakePlatform) HasHypervisor() bool { return p.hyp }

func (p *fakePlatform) ValidAddress(addr uint64) bool { return addr >= 0x8000_0000 }

func (p *fakePlatform) ReadGuest64(addr uint64) (uint64, error) {
	v, ok := p.mem[addr]
	if !ok {
		return 0, errors.New("fault")
	}
	return v, nil
}

func (p *fakePlatform) PutChar(c byte) { p.out.WriteByte(c) }

func (p *fakePlatform) GetChar() (byte, bool) {
	if len(p.in) == 0 {
		return 0, false
	}
	c := p.in[0]
	p.in = p.in[1:]
	return c, true
}

func (p *fakePlatform) Reset(typ sbi.ResetType, reason sbi.ResetReason) error {
	p.resets = append(p.resets, typ)
	return nil
}

func newFirmware(t *testing.T, nharts int, cfg Config, withPMU bool) (*Firmware, *fakePlatform) {
	t.Helper()
	p := &fakePlatform{}
	harts, err := hsm.NewManager(nharts, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	var counters *pmu.Unit
	if withPMU {
		counters, err = pmu.New(nharts, pmu.DefaultConfig(), nil)
		if err != nil {
			t.Fatalf("pmu.New: %v", err)
		}
	}
	f, err := New(cfg, p, harts, counters)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f, p
}

func call(f *Firmware, hart uint64, ext sbi.ExtensionID, fid sbi.FunctionID, args ...uint64) sbi.Ret {
	c := sbi.Call{Extension: ext, Function: fid}
	copy(c.Args[:], args)
	return f.Handle(hart, c)
}

type constExtension struct {
	id  sbi.ExtensionID
	ret sbi.Ret
}

func (e constExtension) IDs() []sbi.ExtensionID          { return []sbi.ExtensionID{e.id} }
func (e constExtension) Handle(uint64, sbi.Call) sbi.Ret { return e.ret }
func (e constExtension) Probe(sbi.ExtensionID) uint64    { return 0x55 }

func TestRegister(t *testing.T) {
	d := NewDispatcher()
	if err := d.Register(constExtension{id: sbi.ExtVendorStart}); err != nil {
		t.Fatalf("vendor extension: %v", err)
	}
	if err := d.Register(constExtension{id: sbi.ExtVendorStart}); !errors.Is(err, ErrDuplicateExtension) {
		t.Fatalf("duplicate = %v", err)
	}
	if err := d.Register(constExtension{id: 0x12345}); err == nil {
		t.Fatalf("expected error for undefined extension ID")
	}
	if err := d.Register(constExtension{id: sbi.ExtFirmwareStart + 3}); err != nil {
		t.Fatalf("firmware extension: %v", err)
	}
	want := []sbi.ExtensionID{sbi.ExtVendorStart, sbi.ExtFirmwareStart + 3}
	if diff := cmp.Diff(want, d.Extensions()); diff != "" {
		t.Fatalf("extensions mismatch (-want +got):\n%s", diff)
	}
	if got := d.Probe(sbi.ExtVendorStart); got != 0x55 {
		t.Fatalf("Probe = %#x", got)
	}
}

func TestUnknownCalls(t *testing.T) {
	f, _ := newFirmware(t, 1, Config{}, false)

	tests := []struct {
		name string
		ext  sbi.ExtensionID
		fid  sbi.FunctionID
	}{
		{"unknown_extension", 0x0A00_0000, 0},
		{"pmu_not_offered", sbi.ExtPMU, 0},
		{"legacy_disabled", sbi.ExtLegacyConsolePutchar, 0},
		{"base_past_end", sbi.ExtBase, 7},
		{"hsm_past_end", sbi.ExtHSM, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret := call(f, 0, tt.ext, tt.fid)
			if ret.Error != sbi.ErrNotSupported || ret.Value != 0 {
				t.Fatalf("got %v", ret)
			}
		})
	}
}

func TestResultsAreClamped(t *testing.T) {
	f, _ := newFirmware(t, 1, Config{}, false)
	ext := constExtension{id: sbi.ExtVendorStart, ret: sbi.Ret{Error: -42, Value: 7}}
	if err := f.Dispatcher().Register(ext); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ret := call(f, 0, sbi.ExtVendorStart, 0)
	if diff := cmp.Diff(sbi.Fail(sbi.ErrFailed), ret); diff != "" {
		t.Fatalf("ret mismatch (-want +got):\n%s", diff)
	}
}

func TestBase(t *testing.T) {
	cfg := Config{ImplID: sbi.ImplKVM, ImplVersion: 0x10002, MVendorID: 0x489, MArchID: 5, MImpID: 9}
	f, _ := newFirmware(t, 1, cfg, true)

	tests := []struct {
		name string
		fid  sbi.BaseFunction
		arg  uint64
		want uint64
	}{
		{"spec_version", sbi.BaseGetSpecVersion, 0, 0x0100_0000},
		{"impl_id", sbi.BaseGetImpID, 0, 3},
		{"impl_version", sbi.BaseGetImpVersion, 0, 0x10002},
		{"probe_time", sbi.BaseProbeExt, uint64(sbi.ExtTime), 1},
		{"probe_pmu", sbi.BaseProbeExt, uint64(sbi.ExtPMU), 1},
		{"probe_legacy", sbi.BaseProbeExt, uint64(sbi.ExtLegacyShutdown), 0},
		{"probe_unknown", sbi.BaseProbeExt, 0xdead, 0},
		{"mvendorid", sbi.BaseGetMvendorID, 0, 0x489},
		{"marchid", sbi.BaseGetMarchID, 0, 5},
		{"mimpid", sbi.BaseGetMimpID, 0, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret := call(f, 0, sbi.ExtBase, sbi.FunctionID(tt.fid), tt.arg)
			if ret.Error != sbi.Success || ret.Value != tt.want {
				t.Fatalf("got %v, want value %#x", ret, tt.want)
			}
		})
	}
}

func TestHartMask(t *testing.T) {
	tests := []struct {
		name string
		mask HartMask
		want []uint64
		err  error
	}{
		{"empty", HartMask{}, nil, nil},
		{"low_bits", HartMask{Mask: 0b101}, []uint64{0, 2}, nil},
		{"based", HartMask{Mask: 0b11, Base: 2}, []uint64{2, 3}, nil},
		{"all", HartMask{Mask: 0, Base: MaskBaseAll}, []uint64{0, 1, 2, 3}, nil},
		{"past_end", HartMask{Mask: 0b1, Base: 4}, nil, sbi.ErrInvalidParam},
		{"overflow", HartMask{Mask: 1 << 63, Base: 1 << 63}, nil, sbi.ErrInvalidParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.mask.Harts(4)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("harts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSetTimer(t *testing.T) {
	f, p := newFirmware(t, 2, Config{}, true)
	fwBase := uint64(pmu.DefaultConfig().HWCounters)
	idx := call(f, 1, sbi.ExtPMU, sbi.FunctionID(sbi.PMUCounterCfgMatch),
		fwBase, 1<<sbi.FWSetTimer, uint64(sbi.CfgFlagAutoStart), uint64(sbi.FWEventIndex(sbi.FWSetTimer)))
	if idx.Error != sbi.Success {
		t.Fatalf("cfg match: %v", idx)
	}

	if ret := call(f, 1, sbi.ExtTime, sbi.FunctionID(sbi.TimeSetTimer), 12345); ret.Error != sbi.Success {
		t.Fatalf("set_timer: %v", ret)
	}
	if p.timers[1] != 12345 {
		t.Fatalf("timer = %d", p.timers[1])
	}
	ret := call(f, 1, sbi.ExtPMU, sbi.FunctionID(sbi.PMUCounterFWRead), idx.Value)
	if ret.Error != sbi.Success || ret.Value != 1 {
		t.Fatalf("fw read = %v", ret)
	}
}

func TestSendIPI(t *testing.T) {
	f, p := newFirmware(t, 3, Config{}, false)

	if ret := call(f, 0, sbi.ExtIPI, 0, 0b110, 0); ret.Error != sbi.Success {
		t.Fatalf("send_ipi: %v", ret)
	}
	if ret := call(f, 0, sbi.ExtIPI, 0, 0, MaskBaseAll); ret.Error != sbi.Success {
		t.Fatalf("send_ipi all: %v", ret)
	}
	// Nothing is sent when any target is invalid.
	if ret := call(f, 0, sbi.ExtIPI, 0, 0b1001, 0); ret.Error != sbi.ErrInvalidParam {
		t.Fatalf("send_ipi invalid: %v", ret)
	}
	if diff := cmp.Diff([]uint64{1, 2, 0, 1, 2}, p.ipis); diff != "" {
		t.Fatalf("ipis mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoteFence(t *testing.T) {
	f, p := newFirmware(t, 2, Config{}, false)

	tests := []struct {
		name string
		fid  sbi.RFenceFunction
		args []uint64
		want sbi.Error
	}{
		{"fence_i", sbi.RFenceRemoteFenceI, []uint64{0b11, 0}, sbi.Success},
		{"sfence_asid", sbi.RFenceRemoteSfenceVMAASID, []uint64{0b10, 0, 0x1000, 0x2000, 7}, sbi.Success},
		{"sfence_flush_all", sbi.RFenceRemoteSfenceVMA, []uint64{0b1, 0, 0x1000, ^uint64(0)}, sbi.Success},
		{"sfence_overflow", sbi.RFenceRemoteSfenceVMA, []uint64{0b1, 0, ^uint64(0) - 1, 0x10}, sbi.ErrInvalidAddress},
		{"bad_hart", sbi.RFenceRemoteFenceI, []uint64{0b100, 0}, sbi.ErrInvalidParam},
		{"hfence_without_h", sbi.RFenceRemoteHfenceGVMA, []uint64{0b1, 0, 0, 0}, sbi.ErrNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret := call(f, 0, sbi.ExtRFence, sbi.FunctionID(tt.fid), tt.args...)
			if ret.Error != tt.want {
				t.Fatalf("got %v, want %v", ret, tt.want)
			}
		})
	}

	want := []fenceCall{
		{0, Fence{Kind: sbi.RFenceRemoteFenceI}},
		{1, Fence{Kind: sbi.RFenceRemoteFenceI}},
		{1, Fence{Kind: sbi.RFenceRemoteSfenceVMAASID, Start: 0x1000, Size: 0x2000, ASID: 7}},
		{0, Fence{Kind: sbi.RFenceRemoteSfenceVMA, Start: 0x1000, Size: ^uint64(0)}},
	}
	if diff := cmp.Diff(want, p.fences); diff != "" {
		t.Fatalf("fences mismatch (-want +got):\n%s", diff)
	}

	p.hyp = true
	ret := call(f, 0, sbi.ExtRFence, sbi.FunctionID(sbi.RFenceRemoteHfenceGVMAVMID), 0b1, 0, 0, 0, 3)
	if ret.Error != sbi.Success || p.fences[len(p.fences)-1].Fence.VMID != 3 {
		t.Fatalf("hfence with H: %v", ret)
	}
}

func TestHartStateCalls(t *testing.T) {
	f, _ := newFirmware(t, 2, Config{}, false)
	hsmCall := func(hart uint64, fid sbi.HSMFunction, args ...uint64) sbi.Ret {
		return call(f, hart, sbi.ExtHSM, sbi.FunctionID(fid), args...)
	}

	if ret := hsmCall(0, sbi.HSMHartStart, 5, 0x8000_0000, 0); ret.Error != sbi.ErrInvalidParam {
		t.Fatalf("start invalid hart: %v", ret)
	}
	if ret := hsmCall(0, sbi.HSMHartStart, 1, 0x1000, 0); ret.Error != sbi.ErrInvalidAddress {
		t.Fatalf("start invalid address: %v", ret)
	}
	if ret := hsmCall(0, sbi.HSMHartStart, 1, 0x8020_0000, 0); ret.Error != sbi.Success {
		t.Fatalf("start: %v", ret)
	}
	if ret := hsmCall(0, sbi.HSMHartGetStatus, 1); ret.Value != uint64(sbi.HartStartPending) {
		t.Fatalf("status: %v", ret)
	}
	if ret := hsmCall(0, sbi.HSMHartStart, 0, 0x8020_0000, 0); ret.Error != sbi.ErrAlreadyAvailable {
		t.Fatalf("start running hart: %v", ret)
	}
	if ret := hsmCall(0, sbi.HSMHartGetStatus, 9); ret.Error != sbi.ErrInvalidParam {
		t.Fatalf("status invalid hart: %v", ret)
	}

	if ret := hsmCall(0, sbi.HSMHartSuspend, 1<<32, 0, 0); ret.Error != sbi.ErrInvalidParam {
		t.Fatalf("suspend wide type: %v", ret)
	}
	if ret := hsmCall(0, sbi.HSMHartSuspend, uint64(sbi.SuspendNonRetDefault), 0x10, 0); ret.Error != sbi.ErrInvalidAddress {
		t.Fatalf("suspend bad resume address: %v", ret)
	}
	if ret := hsmCall(0, sbi.HSMHartSuspend, uint64(sbi.SuspendRetDefault), 0x10, 0); ret.Error != sbi.Success {
		t.Fatalf("retentive suspend ignores address: %v", ret)
	}
	if ret := hsmCall(0, sbi.HSMHartGetStatus, 0); ret.Value != uint64(sbi.HartSuspendPending) {
		t.Fatalf("status after suspend: %v", ret)
	}
	if ret := hsmCall(0, sbi.HSMHartStop); ret.Error != sbi.ErrFailed {
		t.Fatalf("stop while suspending: %v", ret)
	}
}

func TestHartSuspendTypes(t *testing.T) {
	f, _ := newFirmware(t, 1, Config{}, false)

	tests := []struct {
		name string
		typ  sbi.SuspendType
		addr uint64
		want sbi.Error
	}{
		{"ret_platform", sbi.SuspendRetPlatform, 0, sbi.ErrNotSupported},
		{"non_ret_platform", sbi.SuspendNonRetPlatform + 5, 0x8020_0000, sbi.ErrNotSupported},
		{"ret_last", sbi.SuspendRetLast, 0, sbi.ErrNotSupported},
		{"reserved", 0x5, 0, sbi.ErrInvalidParam},
		{"non_ret_reserved", sbi.SuspendNonRetDefault + 1, 0x8020_0000, sbi.ErrInvalidParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret := call(f, 0, sbi.ExtHSM, sbi.FunctionID(sbi.HSMHartSuspend), uint64(tt.typ), tt.addr, 0)
			if ret.Error != tt.want {
				t.Fatalf("HART_SUSPEND(%v) = %v, want %v", tt.typ, ret.Error, tt.want)
			}
			if ret := call(f, 0, sbi.ExtHSM, sbi.FunctionID(sbi.HSMHartGetStatus), 0); ret.Value != uint64(sbi.HartStarted) {
				t.Fatalf("status after rejected suspend: %v", ret)
			}
		})
	}
}

func TestSystemReset(t *testing.T) {
	tests := []struct {
		name   string
		typ    uint64
		reason uint64
		want   sbi.Error
	}{
		{"shutdown", 0, 0, sbi.Success},
		{"cold_reboot_sysfail", 1, 1, sbi.Success},
		{"impl_reason", 2, 0xE000_0001, sbi.Success},
		{"reserved_type", 3, 0, sbi.ErrInvalidParam},
		{"reserved_reason", 0, 2, sbi.ErrInvalidParam},
		{"vendor_type", 0xF000_0000, 0, sbi.ErrNotSupported},
		{"wide_type", 1 << 32, 0, sbi.ErrInvalidParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, p := newFirmware(t, 1, Config{}, false)
			ret := call(f, 0, sbi.ExtSRST, 0, tt.typ, tt.reason)
			if ret.Error != tt.want {
				t.Fatalf("got %v, want %v", ret, tt.want)
			}
			if wantResets := tt.want == sbi.Success; wantResets != (len(p.resets) == 1) {
				t.Fatalf("resets = %v", p.resets)
			}
		})
	}
}

func TestPMUCalls(t *testing.T) {
	f, _ := newFirmware(t, 1, Config{}, true)
	pmuCall := func(fid sbi.PMUFunction, args ...uint64) sbi.Ret {
		return call(f, 0, sbi.ExtPMU, sbi.FunctionID(fid), args...)
	}

	n := pmuCall(sbi.PMUNumCounters).Value
	if n != 7+uint64(sbi.FWMax) {
		t.Fatalf("num counters = %d", n)
	}
	if ret := pmuCall(sbi.PMUCounterGetInfo, 0); ret.Value != 0xC00|63<<12 {
		t.Fatalf("info = %v", ret)
	}
	if ret := pmuCall(sbi.PMUCounterGetInfo, n); ret.Error != sbi.ErrInvalidParam {
		t.Fatalf("info out of range = %v", ret)
	}
	if ret := pmuCall(sbi.PMUCounterCfgMatch, 0, 1, 0, 1<<32); ret.Error != sbi.ErrInvalidParam {
		t.Fatalf("wide event index = %v", ret)
	}

	cycles := uint64(sbi.HWEventIndex(sbi.HWCPUCycles))
	idx := pmuCall(sbi.PMUCounterCfgMatch, 0, 1, 0, cycles)
	if idx.Error != sbi.Success || idx.Value != pmu.CounterCycle {
		t.Fatalf("cfg match = %v", idx)
	}
	if ret := pmuCall(sbi.PMUCounterStart, 0, 1, 2, 0); ret.Error != sbi.ErrInvalidParam {
		t.Fatalf("start unknown flag = %v", ret)
	}
	if ret := pmuCall(sbi.PMUCounterStart, 0, 1, 0, 0); ret.Error != sbi.Success {
		t.Fatalf("start = %v", ret)
	}
	if ret := pmuCall(sbi.PMUCounterStop, 0, 1, uint64(sbi.StopFlagReset)); ret.Error != sbi.Success {
		t.Fatalf("stop = %v", ret)
	}
	if ret := pmuCall(sbi.PMUCounterFWRead, 0); ret.Error != sbi.ErrInvalidParam {
		t.Fatalf("fw read of hw counter = %v", ret)
	}
}

func TestLegacy(t *testing.T) {
	f, p := newFirmware(t, 2, Config{Legacy: true}, false)
	p.in = []byte("x")
	p.mem = map[uint64]uint64{0x8000_1000: 0b10}

	tests := []struct {
		name string
		ext  sbi.ExtensionID
		args []uint64
		want int64
	}{
		{"putchar", sbi.ExtLegacyConsolePutchar, []uint64{'h'}, 0},
		{"getchar", sbi.ExtLegacyConsoleGetchar, nil, 'x'},
		{"getchar_empty", sbi.ExtLegacyConsoleGetchar, nil, -1},
		{"set_timer", sbi.ExtLegacySetTimer, []uint64{99}, 0},
		{"send_ipi", sbi.ExtLegacySendIPI, []uint64{0x8000_1000}, 0},
		{"send_ipi_fault", sbi.ExtLegacySendIPI, []uint64{0x9000_0000}, int64(sbi.ErrInvalidAddress)},
		{"clear_ipi", sbi.ExtLegacyClearIPI, nil, 0},
		{"fence_i_all", sbi.ExtLegacyRemoteFenceI, []uint64{0}, 0},
		{"shutdown", sbi.ExtLegacyShutdown, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret := call(f, 0, tt.ext, 0, tt.args...)
			if !ret.Legacy || int64(ret.Value) != tt.want {
				t.Fatalf("got %v, want a0=%d", ret, tt.want)
			}
		})
	}

	if p.out.String() != "h" {
		t.Fatalf("console output %q", p.out.String())
	}
	if diff := cmp.Diff([]uint64{1}, p.ipis); diff != "" {
		t.Fatalf("ipis mismatch (-want +got):\n%s", diff)
	}
	if len(p.fences) != 2 || len(p.resets) != 1 || p.timers[0] != 99 {
		t.Fatalf("fences %v resets %v timers %v", p.fences, p.resets, p.timers)
	}
}
