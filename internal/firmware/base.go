package firmware

import "github.com/tinyrange/rvsbi/internal/sbi"

type baseExtension struct{ f *Firmware }

func (baseExtension) IDs() []sbi.ExtensionID { return []sbi.ExtensionID{sbi.ExtBase} }

func (e baseExtension) Handle(hart uint64, call sbi.Call) sbi.Ret {
	cfg := e.f.cfg
	switch sbi.BaseFunction(call.Function) {
	case sbi.BaseGetSpecVersion:
		return sbi.OK(uint64(cfg.SpecVersion))
	case sbi.BaseGetImpID:
		return sbi.OK(uint64(cfg.ImplID))
	case sbi.BaseGetImpVersion:
		return sbi.OK(cfg.ImplVersion)
	case sbi.BaseProbeExt:
		return sbi.OK(e.f.dispatch.Probe(sbi.ExtensionID(call.Args[0])))
	case sbi.BaseGetMvendorID:
		return sbi.OK(cfg.MVendorID)
	case sbi.BaseGetMarchID:
		return sbi.OK(cfg.MArchID)
	case sbi.BaseGetMimpID:
		return sbi.OK(cfg.MImpID)
	}
	return sbi.Fail(sbi.ErrNotSupported)
}
