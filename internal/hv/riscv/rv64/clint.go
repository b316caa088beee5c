package rv64

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTimebase is the mtime frequency used when none is configured.
const DefaultTimebase = 10_000_000 // 10 MHz

const timecmpDisarmed = ^uint64(0)

// CLINT implements the Core Local Interruptor: a shared mtime and one
// mtimecmp per hart. The firmware drives it on behalf of the supervisor's
// SBI timer calls.
type CLINT struct {
	mu sync.Mutex

	harts    []*Hart
	mtimecmp []uint64

	// Clock source and start time for mtime calculation
	now       func() time.Time
	startTime time.Time

	// Time scale (nanoseconds per tick)
	nsPerTick uint64

	// onTimer is called, without the lock held, for every hart whose timer
	// fired during Tick.
	onTimer func(hart uint64)
}

// NewCLINT creates a CLINT for harts ticking at frequency Hz. now may be
// nil to use the wall clock.
func NewCLINT(harts []*Hart, frequency uint64, now func() time.Time) (*CLINT, error) {
	if frequency == 0 {
		frequency = DefaultTimebase
	}
	if frequency > uint64(time.Second) {
		return nil, fmt.Errorf("clint: timebase %d Hz is faster than 1 GHz", frequency)
	}
	if now == nil {
		now = time.Now
	}

	c := &CLINT{
		harts:     harts,
		mtimecmp:  make([]uint64, len(harts)),
		now:       now,
		startTime: now(),
		nsPerTick: uint64(time.Second) / frequency,
	}
	for i := range c.mtimecmp {
		c.mtimecmp[i] = timecmpDisarmed // Max value - no interrupt initially
	}
	return c, nil
}

// Frequency returns the mtime frequency in Hz.
func (c *CLINT) Frequency() uint64 {
	return uint64(time.Second) / c.nsPerTick
}

// Mtime returns the current mtime value.
func (c *CLINT) Mtime() uint64 {
	elapsed := c.now().Sub(c.startTime)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed) / c.nsPerTick
}

// Timecmp returns the timer compare value of a hart.
func (c *CLINT) Timecmp(hart uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtimecmp[hart]
}

// Armed reports whether a hart has a timer that has not fired yet.
func (c *CLINT) Armed(hart uint64) bool {
	return c.Timecmp(hart) != timecmpDisarmed
}

// SetTimecmp programs the timer of a hart and clears its pending timer
// interrupt. A value already in the past fires on the next Tick.
func (c *CLINT) SetTimecmp(hart, value uint64) {
	c.mu.Lock()
	c.mtimecmp[hart] = value
	c.mu.Unlock()

	c.harts[hart].Clear(MipSTIP)
}

// Tick raises STIP on every hart whose timer expired. A fired timer is
// disarmed until the next SetTimecmp.
func (c *CLINT) Tick() {
	mtime := c.Mtime()

	var fired []uint64
	c.mu.Lock()
	for i, cmp := range c.mtimecmp {
		if cmp != timecmpDisarmed && mtime >= cmp {
			c.mtimecmp[i] = timecmpDisarmed
			fired = append(fired, uint64(i))
		}
	}
	c.mu.Unlock()

	for _, hart := range fired {
		c.harts[hart].Raise(MipSTIP)
		if c.onTimer != nil {
			c.onTimer(hart)
		}
	}
}
