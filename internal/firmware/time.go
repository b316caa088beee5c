package firmware

import "github.com/tinyrange/rvsbi/internal/sbi"

type timeExtension struct{ f *Firmware }

func (timeExtension) IDs() []sbi.ExtensionID { return []sbi.ExtensionID{sbi.ExtTime} }

func (e timeExtension) Handle(hart uint64, call sbi.Call) sbi.Ret {
	if sbi.TimeFunction(call.Function) != sbi.TimeSetTimer {
		return sbi.Fail(sbi.ErrNotSupported)
	}
	e.f.setTimer(hart, call.Args[0])
	return sbi.OK(0)
}

func (f *Firmware) setTimer(hart, stime uint64) {
	f.Record(hart, sbi.FWSetTimer)
	f.platform.SetTimer(hart, stime)
}
