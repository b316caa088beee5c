package firmware

import (
	"log/slog"

	"github.com/tinyrange/rvsbi/internal/sbi"
)

type srstExtension struct{ f *Firmware }

func (srstExtension) IDs() []sbi.ExtensionID { return []sbi.ExtensionID{sbi.ExtSRST} }

func (e srstExtension) Handle(hart uint64, call sbi.Call) sbi.Ret {
	if sbi.SRSTFunction(call.Function) != sbi.SRSTReset {
		return sbi.Fail(sbi.ErrNotSupported)
	}
	a := call.Args
	if a[0] > 0xFFFFFFFF || a[1] > 0xFFFFFFFF {
		return sbi.Fail(sbi.ErrInvalidParam)
	}
	typ, reason := sbi.ResetType(a[0]), sbi.ResetReason(a[1])

	switch {
	case typ.Reserved(), reason.Reserved():
		return sbi.Fail(sbi.ErrInvalidParam)
	case typ.Vendor():
		return sbi.Fail(sbi.ErrNotSupported)
	}
	return e.f.reset(hart, typ, reason)
}

func (f *Firmware) reset(hart uint64, typ sbi.ResetType, reason sbi.ResetReason) sbi.Ret {
	slog.Info("sbi: system reset", "hart", hart, "type", typ, "reason", reason)
	if err := f.platform.Reset(typ, reason); err != nil {
		slog.Warn("sbi: reset failed", "hart", hart, "err", err)
		return sbi.Fail(sbi.ErrFailed)
	}
	return sbi.OK(0)
}
