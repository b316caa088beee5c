// Command sbi-info prints the SBI constant tables and decodes raw values.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/tinyrange/rvsbi/internal/fdt"
	"github.com/tinyrange/rvsbi/internal/sbi"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	showTable := fs.Bool("table", false, "Print every constant table")
	event := fs.String("event", "", "Decode a PMU event index")
	suspend := fs.String("suspend", "", "Decode an HSM suspend type")
	errCode := fs.String("error", "", "Decode an SBI error code (a0)")
	version := fs.String("version", "", "Decode a GET_SPEC_VERSION value")
	dtb := fs.String("dtb", "", "Print a device tree blob (as written by sbi-run -dtb) in source form")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Print SBI identifiers and decode register values.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	width, bold := 0, false
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil {
			width = w
		}
		bold = true
	}

	decoded := false
	if *dtb != "" {
		if err := dumpDeviceTree(os.Stdout, *dtb); err != nil {
			return err
		}
		decoded = true
	}
	for _, d := range []struct {
		arg    string
		decode func(uint64) *table
	}{
		{*event, decodeEvent},
		{*suspend, decodeSuspend},
		{*errCode, decodeError},
		{*version, decodeVersion},
	} {
		if d.arg == "" {
			continue
		}
		v, err := parseNumber(d.arg)
		if err != nil {
			return err
		}
		d.decode(v).render(os.Stdout, width, bold)
		decoded = true
	}

	if *showTable || !decoded {
		printTables(os.Stdout, width, bold)
	}
	return nil
}

func dumpDeviceTree(w io.Writer, path string) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read device tree: %w", err)
	}
	tree, err := fdt.Parse(blob)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(w, "/dts-v%d/;\n/* boot cpu %d */\n\n", tree.Version, tree.BootCPU)
	return tree.Root.Dump(w)
}

func parseNumber(s string) (uint64, error) {
	s = strings.ReplaceAll(s, "_", "")
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 0, 64)
		return uint64(v), err
	}
	return strconv.ParseUint(s, 0, 64)
}

func hex(v uint64) string {
	return fmt.Sprintf("%#x", v)
}

func printTables(w io.Writer, width int, bold bool) {
	for _, t := range tables() {
		t.render(w, width, bold)
	}
}

func tables() []*table {
	exts := &table{title: "Extensions", header: []string{"NAME", "EID", "FUNCTIONS", "KIND"}}
	for _, ext := range append(append([]sbi.ExtensionID{}, sbi.LegacyExtensions...), sbi.StandardExtensions...) {
		kind := "standard"
		if ext.IsLegacy() {
			kind = "legacy (v0.1)"
		}
		exts.add(ext.String(), hex(uint64(ext)), strconv.Itoa(sbi.Functions(ext)), kind)
	}
	exts.add("VENDOR", hex(uint64(sbi.ExtVendorStart))+"-"+hex(uint64(sbi.ExtVendorEnd)), "-", "range")
	exts.add("FIRMWARE", hex(uint64(sbi.ExtFirmwareStart))+"-"+hex(uint64(sbi.ExtFirmwareEnd)), "-", "range")

	funcs := &table{title: "Functions", header: []string{"EXTENSION", "FID", "NAME"}}
	for _, ext := range sbi.StandardExtensions {
		for fid := range sbi.Functions(ext) {
			funcs.add(ext.String(), strconv.Itoa(fid), sbi.FunctionName(ext, sbi.FunctionID(fid)))
		}
	}

	errs := &table{title: "Errors", header: []string{"NAME", "CODE"}}
	for _, e := range sbi.Errors() {
		errs.add(e.String(), strconv.FormatInt(int64(e), 10))
	}

	states := &table{title: "Hart states", header: []string{"NAME", "VALUE", "PENDING"}}
	for s := sbi.HartStarted; s.Valid(); s++ {
		states.add(s.String(), strconv.FormatUint(uint64(s), 10), strconv.FormatBool(s.Pending()))
	}

	suspends := &table{title: "Suspend types", header: []string{"NAME", "VALUE"}}
	for _, t := range []sbi.SuspendType{
		sbi.SuspendRetDefault,
		sbi.SuspendRetPlatform,
		sbi.SuspendRetLast,
		sbi.SuspendNonRetDefault,
		sbi.SuspendNonRetPlatform,
		sbi.SuspendNonRetLast,
	} {
		suspends.add(t.String(), hex(uint64(t)))
	}

	resets := &table{title: "System reset", header: []string{"KIND", "NAME", "VALUE"}}
	for _, t := range []sbi.ResetType{sbi.ResetTypeShutdown, sbi.ResetTypeColdReboot, sbi.ResetTypeWarmReboot, sbi.ResetTypeVendorStart} {
		resets.add("type", t.String(), hex(uint64(t)))
	}
	for _, r := range []sbi.ResetReason{sbi.ResetReasonNone, sbi.ResetReasonSysFail, sbi.ResetReasonImplStart, sbi.ResetReasonVendorStart} {
		resets.add("reason", r.String(), hex(uint64(r)))
	}

	events := &table{title: "PMU events", header: []string{"INDEX", "TYPE", "NAME"}}
	for ev := sbi.HWCPUCycles; ev < sbi.HWGeneralMax; ev++ {
		events.add(hex(uint64(sbi.HWEventIndex(ev))), sbi.EventTypeHW.String(), ev.String())
	}
	for c := sbi.HWCacheL1D; c < sbi.HWCacheMax; c++ {
		for op := sbi.HWCacheOpRead; op < sbi.HWCacheOpMax; op++ {
			for res := sbi.HWCacheResultAccess; res < sbi.HWCacheResultMax; res++ {
				idx := sbi.CacheEventIndex(c, op, res)
				events.add(hex(uint64(idx)), sbi.EventTypeHWCache.String(), fmt.Sprintf("%v/%v/%v", c, op, res))
			}
		}
	}
	events.add(hex(uint64(sbi.EventRawIdx)), sbi.EventTypeHWRaw.String(), "event data in config_data")
	for ev := sbi.FWEvent(0); ev < sbi.FWMax; ev++ {
		events.add(hex(uint64(sbi.FWEventIndex(ev))), sbi.EventTypeFW.String(), ev.String())
	}

	impls := &table{title: "Implementation IDs", header: []string{"NAME", "ID"}}
	for _, impl := range []struct {
		name string
		id   sbi.ImplementationID
	}{
		{"Berkeley Boot Loader", sbi.ImplBBL},
		{"OpenSBI", sbi.ImplOpenSBI},
		{"Xvisor", sbi.ImplXvisor},
		{"KVM", sbi.ImplKVM},
		{"RustSBI", sbi.ImplRustSBI},
		{"Diosix", sbi.ImplDiosix},
		{"Coffer", sbi.ImplCoffer},
	} {
		impls.add(impl.name, strconv.FormatUint(uint64(impl.id), 10))
	}

	return []*table{exts, funcs, errs, states, suspends, resets, events, impls}
}

func decodeEvent(v uint64) *table {
	t := &table{title: fmt.Sprintf("Event index %#x", v), header: []string{"FIELD", "VALUE"}}
	idx := sbi.EventIndex(v)
	if v > uint64(^uint32(0)) || !idx.Valid() {
		t.add("valid", "false")
		t.add("type", sbi.EventType(uint32(v)>>sbi.EventIdxTypeShift&0xf).String())
		return t
	}
	typ, code := idx.Decompose()
	t.add("valid", "true")
	t.add("type", typ.String())
	t.add("code", hex(uint64(code)))
	if typ == sbi.EventTypeHWCache {
		c, op, res := sbi.DecodeCacheEvent(code)
		t.add("cache", c.String())
		t.add("op", op.String())
		t.add("result", res.String())
	}
	t.add("name", idx.String())
	return t
}

func decodeSuspend(v uint64) *table {
	t := &table{title: fmt.Sprintf("Suspend type %#x", v), header: []string{"FIELD", "VALUE"}}
	if v > uint64(^uint32(0)) {
		t.add("valid", "false (wider than 32 bits)")
		return t
	}
	st := sbi.SuspendType(v)
	base, nonRet, platform := st.Decompose()
	t.add("name", st.String())
	t.add("retentive", strconv.FormatBool(!nonRet))
	t.add("platform", strconv.FormatBool(platform))
	t.add("base", hex(uint64(base)))
	t.add("reserved", strconv.FormatBool(st.Reserved()))
	return t
}

func decodeError(v uint64) *table {
	t := &table{title: fmt.Sprintf("Error code %d", int64(v)), header: []string{"FIELD", "VALUE"}}
	e, ok := sbi.ErrorFromCode(int64(v))
	t.add("defined", strconv.FormatBool(ok))
	if ok {
		t.add("name", e.String())
	} else {
		t.add("reported as", e.String())
	}
	return t
}

func decodeVersion(v uint64) *table {
	t := &table{title: fmt.Sprintf("Spec version %#x", v), header: []string{"FIELD", "VALUE"}}
	sv := sbi.SpecVersion(v)
	t.add("version", sv.String())
	t.add("major", strconv.FormatUint(uint64(sv.Major()), 10))
	t.add("minor", strconv.FormatUint(uint64(sv.Minor()), 10))
	if v>>31 != 0 {
		t.add("note", "bit 31 set, reserved bits must be zero")
	}
	return t
}
