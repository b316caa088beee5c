package pmu

import (
	"fmt"

	"github.com/tinyrange/rvsbi/internal/sbi"
)

// Hardware counter indexes with a fixed meaning.
const (
	CounterCycle   = 0
	CounterTime    = 1
	CounterInstret = 2

	// CSRCycle is the CSR number of the first hardware counter. Counter i
	// lives at CSRCycle+i.
	CSRCycle = 0xC00

	maxHWCounters = 32
)

// EventMapping declares which hpm counters can count a range of events.
type EventMapping struct {
	// First and Last bound the (inclusive) range of event indexes.
	First sbi.EventIndex `yaml:"first"`
	Last  sbi.EventIndex `yaml:"last"`

	// Counters is a bitmap of hardware counter indexes (bit 3 is
	// hpmcounter3) able to count the events.
	Counters uint32 `yaml:"counters"`
}

// Contains reports whether idx falls in the mapping's range.
func (m EventMapping) Contains(idx sbi.EventIndex) bool {
	return idx >= m.First && idx <= m.Last
}

// Config describes the counters of every hart.
type Config struct {
	// HWCounters is the number of hardware counters including cycle, time
	// and instret.
	HWCounters int `yaml:"hwCounters"`

	// FWCounters is the number of firmware counters following the hardware
	// ones.
	FWCounters int `yaml:"fwCounters"`

	// Width is the implemented width of hpm counters in bits.
	Width int `yaml:"width,omitempty"`

	Events []EventMapping `yaml:"events,omitempty"`
}

// DefaultConfig exposes cycle, time, instret and four hpm counters, plus
// one firmware counter for every firmware event.
func DefaultConfig() Config {
	return Config{
		HWCounters: 7,
		FWCounters: int(sbi.FWMax),
		Width:      64,
		Events: []EventMapping{
			{
				First:    sbi.HWEventIndex(sbi.HWCacheReferences),
				Last:     sbi.HWEventIndex(sbi.HWRefCPUCycles),
				Counters: 0x78,
			},
			{
				First:    sbi.CacheEventIndex(sbi.HWCacheL1D, sbi.HWCacheOpRead, sbi.HWCacheResultAccess),
				Last:     sbi.CacheEventIndex(sbi.HWCacheNode, sbi.HWCacheOpPrefetch, sbi.HWCacheResultMiss),
				Counters: 0x78,
			},
		},
	}
}

// Normalize fills in defaults and validates the layout.
func (c *Config) Normalize() error {
	if c.HWCounters == 0 && c.FWCounters == 0 {
		*c = DefaultConfig()
	}
	if c.Width == 0 {
		c.Width = 64
	}
	if c.HWCounters < 0 || c.HWCounters > maxHWCounters {
		return fmt.Errorf("pmu: hwCounters %d out of range [0, %d]", c.HWCounters, maxHWCounters)
	}
	if c.FWCounters < 0 {
		return fmt.Errorf("pmu: negative fwCounters %d", c.FWCounters)
	}
	if c.HWCounters+c.FWCounters > 64 {
		return fmt.Errorf("pmu: %d counters do not fit a 64-bit counter mask", c.HWCounters+c.FWCounters)
	}
	if c.Width < 1 || c.Width > 64 {
		return fmt.Errorf("pmu: counter width %d out of range [1, 64]", c.Width)
	}
	for i, m := range c.Events {
		if m.Last < m.First {
			return fmt.Errorf("pmu: event mapping %d has last %v before first %v", i, m.Last, m.First)
		}
		if m.Counters&0x7 != 0 {
			return fmt.Errorf("pmu: event mapping %d uses fixed counters (mask %#x)", i, m.Counters)
		}
	}
	return nil
}
