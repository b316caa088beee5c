package firmware

import "github.com/tinyrange/rvsbi/internal/sbi"

type ipiExtension struct{ f *Firmware }

func (ipiExtension) IDs() []sbi.ExtensionID { return []sbi.ExtensionID{sbi.ExtIPI} }

func (e ipiExtension) Handle(hart uint64, call sbi.Call) sbi.Ret {
	if sbi.IPIFunction(call.Function) != sbi.IPISendIPI {
		return sbi.Fail(sbi.ErrNotSupported)
	}
	return result(0, e.f.sendIPI(hart, HartMask{Mask: call.Args[0], Base: call.Args[1]}))
}

// sendIPI validates the whole mask before raising any interrupt.
func (f *Firmware) sendIPI(hart uint64, mask HartMask) error {
	targets, err := mask.Harts(f.harts.NumHarts())
	if err != nil {
		return err
	}
	for _, t := range targets {
		f.Record(hart, sbi.FWIPISent)
		f.platform.SendIPI(t)
		f.Record(t, sbi.FWIPIRecvd)
	}
	return nil
}
