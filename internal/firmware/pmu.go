package firmware

import "github.com/tinyrange/rvsbi/internal/sbi"

type pmuExtension struct{ f *Firmware }

func (pmuExtension) IDs() []sbi.ExtensionID { return []sbi.ExtensionID{sbi.ExtPMU} }

func (e pmuExtension) Handle(hart uint64, call sbi.Call) sbi.Ret {
	u := e.f.counters
	a := call.Args

	switch sbi.PMUFunction(call.Function) {
	case sbi.PMUNumCounters:
		return sbi.OK(uint64(u.NumCounters()))

	case sbi.PMUCounterGetInfo:
		return result(u.Info(a[0]))

	case sbi.PMUCounterCfgMatch:
		if a[3] > 0xFFFFFFFF {
			return sbi.Fail(sbi.ErrInvalidParam)
		}
		return result(u.ConfigMatch(hart, a[0], a[1], sbi.CfgFlags(a[2]), sbi.EventIndex(a[3]), a[4]))

	case sbi.PMUCounterStart:
		flags := sbi.StartFlags(a[2])
		if flags&^sbi.StartFlagSetInitValue != 0 {
			return sbi.Fail(sbi.ErrInvalidParam)
		}
		return result(0, u.Start(hart, a[0], a[1], flags, a[3]))

	case sbi.PMUCounterStop:
		flags := sbi.StopFlags(a[2])
		if flags&^sbi.StopFlagReset != 0 {
			return sbi.Fail(sbi.ErrInvalidParam)
		}
		return result(0, u.Stop(hart, a[0], a[1], flags))

	case sbi.PMUCounterFWRead:
		return result(u.FWRead(hart, a[0]))
	}
	return sbi.Fail(sbi.ErrNotSupported)
}
