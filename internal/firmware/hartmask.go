package firmware

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/tinyrange/rvsbi/internal/sbi"
)

// MaskBaseAll as a hart mask base selects every hart and ignores the mask.
const MaskBaseAll = ^uint64(0)

// HartMask is the (hart_mask, hart_mask_base) pair used by the IPI and
// RFENCE extensions: bit i of Mask selects hart Base+i.
type HartMask struct {
	Mask uint64
	Base uint64
}

// Harts expands the mask for a machine with n harts. Any selected hart
// outside [0, n) is an INVALID_PARAM error.
func (m HartMask) Harts(n int) ([]uint64, error) {
	if m.Base == MaskBaseAll {
		out := make([]uint64, n)
		for i := range out {
			out[i] = uint64(i)
		}
		return out, nil
	}
	set := bitset.From([]uint64{m.Mask})
	var out []uint64
	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		if m.Base >= uint64(n) || uint64(i) >= uint64(n)-m.Base {
			return nil, sbi.ErrInvalidParam
		}
		out = append(out, m.Base+uint64(i))
	}
	return out, nil
}

// legacyMask reads a v0.1 hart mask from guest memory. A zero address
// selects every hart.
func legacyMask(p Platform, addr uint64) (HartMask, error) {
	if addr == 0 {
		return HartMask{Base: MaskBaseAll}, nil
	}
	v, err := p.ReadGuest64(addr)
	if err != nil {
		return HartMask{}, sbi.ErrInvalidAddress
	}
	return HartMask{Mask: v}, nil
}
