package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/rvsbi/internal/firmware"
	"github.com/tinyrange/rvsbi/internal/hv/riscv/rv64"
	"github.com/tinyrange/rvsbi/internal/pmu"
	"github.com/tinyrange/rvsbi/internal/sbi"
)

const (
	DefaultMemoryMB    = 64
	DefaultSpecVersion = "1.0"
)

// Platform describes the machine an SBI program runs on.
type Platform struct {
	Harts      int    `yaml:"harts"`
	BootHart   int    `yaml:"bootHart"`
	MemoryMB   uint64 `yaml:"memoryMB"`
	Timebase   uint64 `yaml:"timebase"`
	Hypervisor bool   `yaml:"hypervisor,omitempty"`

	Entry    Value  `yaml:"entry,omitempty"`
	Bootargs string `yaml:"bootargs,omitempty"`

	// SuspendTypes lists the HART_SUSPEND types the harts implement.
	SuspendTypes []Value `yaml:"suspendTypes,omitempty"`

	PMU      *PMU     `yaml:"pmu,omitempty"`
	Firmware Firmware `yaml:"firmware"`
}

// PMU is the counter layout. A missing section means the default layout.
type PMU struct {
	Disabled   bool `yaml:"disabled,omitempty"`
	pmu.Config `yaml:",inline"`
}

// Firmware holds the identity reported through the BASE extension.
type Firmware struct {
	SpecVersion string `yaml:"specVersion"`
	ImplID      Value  `yaml:"implID"`
	ImplVersion Value  `yaml:"implVersion"`
	MVendorID   Value  `yaml:"mvendorid"`
	MArchID     Value  `yaml:"marchid"`
	MImpID      Value  `yaml:"mimpid"`
	Legacy      bool   `yaml:"legacy,omitempty"`
}

// DefaultPlatform returns a single hart machine with the default PMU and
// the legacy extensions enabled.
func DefaultPlatform() Platform {
	p := Platform{Firmware: Firmware{Legacy: true}}
	if err := p.normalize(); err != nil {
		panic(err)
	}
	return p
}

func (p *Platform) normalize() error {
	if p.Harts == 0 {
		p.Harts = 1
	}
	if p.Harts < 0 {
		return fmt.Errorf("config: invalid hart count %d", p.Harts)
	}
	if p.BootHart < 0 || p.BootHart >= p.Harts {
		return fmt.Errorf("config: boot hart %d out of range [0, %d)", p.BootHart, p.Harts)
	}
	if p.MemoryMB == 0 {
		p.MemoryMB = DefaultMemoryMB
	}
	if p.Timebase == 0 {
		p.Timebase = rv64.DefaultTimebase
	}
	if p.Firmware.SpecVersion == "" {
		p.Firmware.SpecVersion = DefaultSpecVersion
	}
	if _, err := parseSpecVersion(p.Firmware.SpecVersion); err != nil {
		return err
	}
	if p.PMU == nil {
		p.PMU = &PMU{Config: pmu.DefaultConfig()}
	}
	if !p.PMU.Disabled {
		if err := p.PMU.Normalize(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	for _, v := range p.SuspendTypes {
		if v > Value(^uint32(0)) {
			return fmt.Errorf("config: suspend type %#x does not fit 32 bits", uint64(v))
		}
		if t := sbi.SuspendType(v); t.Reserved() {
			return fmt.Errorf("config: suspend type %v is reserved", t)
		}
	}
	return nil
}

func parseSpecVersion(s string) (sbi.SpecVersion, error) {
	var major, minor uint32
	if _, err := fmt.Sscanf(s, "%d.%d", &major, &minor); err != nil {
		return 0, fmt.Errorf("config: spec version %q: %w", s, err)
	}
	if major > sbi.SpecVersionMajorMask || minor > sbi.SpecVersionMinorMask {
		return 0, fmt.Errorf("config: spec version %q out of range", s)
	}
	return sbi.Version(major, minor), nil
}

// MachineConfig converts the platform into a machine configuration.
func (p Platform) MachineConfig() (rv64.Config, error) {
	if err := p.normalize(); err != nil {
		return rv64.Config{}, err
	}
	version, _ := parseSpecVersion(p.Firmware.SpecVersion)

	cfg := rv64.Config{
		Harts:      p.Harts,
		BootHart:   p.BootHart,
		MemorySize: p.MemoryMB << 20,
		Timebase:   p.Timebase,
		Hypervisor: p.Hypervisor,
		Entry:      uint64(p.Entry),
		Bootargs:   p.Bootargs,
		Firmware: firmware.Config{
			SpecVersion: version,
			ImplID:      sbi.ImplementationID(p.Firmware.ImplID),
			ImplVersion: uint64(p.Firmware.ImplVersion),
			MVendorID:   uint64(p.Firmware.MVendorID),
			MArchID:     uint64(p.Firmware.MArchID),
			MImpID:      uint64(p.Firmware.MImpID),
			Legacy:      p.Firmware.Legacy,
		},
	}
	for _, v := range p.SuspendTypes {
		cfg.SuspendTypes = append(cfg.SuspendTypes, sbi.SuspendType(v))
	}
	if !p.PMU.Disabled {
		counters := p.PMU.Config
		cfg.PMU = &counters
	}
	return cfg, nil
}

// ParsePlatform decodes a platform file. Unknown keys are rejected.
func ParsePlatform(data []byte) (Platform, error) {
	var p Platform
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Platform{}, fmt.Errorf("config: parse platform: %w", err)
	}
	if err := p.normalize(); err != nil {
		return Platform{}, err
	}
	return p, nil
}

// LoadPlatform reads and parses a platform file.
func LoadPlatform(path string) (Platform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Platform{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	p, err := ParsePlatform(data)
	if err != nil {
		return Platform{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// WritePlatform writes p, with defaults filled in, as YAML.
func WritePlatform(w io.Writer, p Platform) error {
	if err := p.normalize(); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&p); err != nil {
		return fmt.Errorf("config: encode platform: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: close platform: %w", err)
	}
	return nil
}
