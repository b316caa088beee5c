package rv64

import (
	"fmt"

	"github.com/tinyrange/rvsbi/internal/fdt"
	"github.com/tinyrange/rvsbi/internal/sbi"
)

// ISAString returns the riscv,isa property of the machine's harts.
func (m *Machine) ISAString() string {
	isa := "rv64imafdc"
	if m.cfg.Hypervisor {
		isa += "h"
	}
	return isa + "_zicsr_zifencei"
}

func (m *Machine) suspendTypes() []sbi.SuspendType {
	if len(m.cfg.SuspendTypes) > 0 {
		return m.cfg.SuspendTypes
	}
	return []sbi.SuspendType{sbi.SuspendRetDefault, sbi.SuspendNonRetDefault}
}

// GenerateFDT generates the device tree describing the machine to the
// supervisor: its harts, their idle states (the HSM suspend types), RAM,
// the CLINT and the PMU event map.
func GenerateFDT(m *Machine, bootargs string) []byte {
	if bootargs == "" {
		bootargs = "console=hvc0 earlycon=sbi"
	}
	nharts := uint32(len(m.Harts))
	intcPhandle := func(hart uint32) uint32 { return 1 + hart }

	f := fdt.NewBuilder()
	f.BootCPU = uint32(m.cfg.BootHart)

	// Root node
	f.BeginNode("")
	f.AddPropertyU32("#address-cells", 2)
	f.AddPropertyU32("#size-cells", 2)
	f.AddPropertyString("compatible", "rvsbi,virt")
	f.AddPropertyString("model", "rvsbi,virt")

	f.BeginNode("chosen")
	f.AddPropertyString("bootargs", bootargs)
	f.EndNode()

	f.BeginNode("cpus")
	f.AddPropertyU32("#address-cells", 1)
	f.AddPropertyU32("#size-cells", 0)
	f.AddPropertyU32("timebase-frequency", uint32(m.CLINT.Frequency()))

	var idle []uint32
	f.BeginNode("idle-states")
	for i, typ := range m.suspendTypes() {
		phandle := 1 + nharts + uint32(i)
		idle = append(idle, phandle)

		kind := "retentive"
		if typ.NonRetentive() {
			kind = "nonretentive"
		}
		f.BeginNode(fmt.Sprintf("cpu-%s-%d", kind, i))
		f.AddPropertyString("compatible", "riscv,idle-state")
		f.AddPropertyU32("riscv,sbi-suspend-param", uint32(typ))
		if typ.NonRetentive() {
			f.AddPropertyEmpty("local-timer-stop")
		}
		f.AddPropertyU32("entry-latency-us", 10)
		f.AddPropertyU32("exit-latency-us", 100)
		f.AddPropertyU32("min-residency-us", 1000)
		f.AddPropertyU32("phandle", phandle)
		f.EndNode()
	}
	f.EndNode() // idle-states

	for hart := uint32(0); hart < nharts; hart++ {
		f.BeginNode(fmt.Sprintf("cpu@%d", hart))
		f.AddPropertyString("device_type", "cpu")
		f.AddPropertyU32("reg", hart)
		f.AddPropertyString("status", "okay")
		f.AddPropertyString("compatible", "riscv")
		f.AddPropertyString("riscv,isa", m.ISAString())
		f.AddPropertyString("mmu-type", "riscv,sv48")
		f.AddPropertyU32Array("cpu-idle-states", idle)

		f.BeginNode("interrupt-controller")
		f.AddPropertyU32("#interrupt-cells", 1)
		f.AddPropertyEmpty("interrupt-controller")
		f.AddPropertyString("compatible", "riscv,cpu-intc")
		f.AddPropertyU32("phandle", intcPhandle(hart))
		f.EndNode()

		f.EndNode()
	}
	f.EndNode() // cpus

	f.BeginNode(fmt.Sprintf("memory@%x", m.Memory.Base))
	f.AddPropertyString("device_type", "memory")
	f.AddPropertyU64Pair("reg", m.Memory.Base, m.Memory.Size())
	f.EndNode()

	if m.PMU != nil {
		var events []uint32
		for _, ev := range m.PMU.Events() {
			events = append(events, uint32(ev.First), uint32(ev.Last), ev.Counters)
		}
		f.BeginNode("pmu")
		f.AddPropertyString("compatible", "riscv,pmu")
		f.AddPropertyU32Array("riscv,event-to-mhpmcounters", events)
		f.EndNode()
	}

	f.BeginNode("soc")
	f.AddPropertyU32("#address-cells", 2)
	f.AddPropertyU32("#size-cells", 2)
	f.AddPropertyStringList("compatible", []string{"simple-bus"})
	f.AddPropertyEmpty("ranges")

	var irqs []uint32
	for hart := uint32(0); hart < nharts; hart++ {
		irqs = append(irqs, intcPhandle(hart), 3, intcPhandle(hart), 7)
	}
	f.BeginNode(fmt.Sprintf("clint@%x", CLINTBase))
	f.AddPropertyStringList("compatible", []string{"sifive,clint0", "riscv,clint0"})
	f.AddPropertyU64Pair("reg", CLINTBase, CLINTSize)
	f.AddPropertyU32Array("interrupts-extended", irqs)
	f.EndNode()

	f.EndNode() // soc
	f.EndNode() // root

	return f.Build()
}
