package firmware

import "github.com/tinyrange/rvsbi/internal/sbi"

type hsmExtension struct{ f *Firmware }

func (hsmExtension) IDs() []sbi.ExtensionID { return []sbi.ExtensionID{sbi.ExtHSM} }

func (e hsmExtension) Handle(hart uint64, call sbi.Call) sbi.Ret {
	harts := e.f.harts
	a := call.Args

	switch sbi.HSMFunction(call.Function) {
	case sbi.HSMHartStart:
		if !harts.Valid(a[0]) {
			return sbi.Fail(sbi.ErrInvalidParam)
		}
		if !e.f.platform.ValidAddress(a[1]) {
			return sbi.Fail(sbi.ErrInvalidAddress)
		}
		return result(0, harts.Start(a[0], a[1], a[2]))

	case sbi.HSMHartStop:
		return result(0, harts.Stop(hart))

	case sbi.HSMHartGetStatus:
		st, err := harts.Status(a[0])
		return result(uint64(st), err)

	case sbi.HSMHartSuspend:
		if a[0] > 0xFFFFFFFF {
			return sbi.Fail(sbi.ErrInvalidParam)
		}
		typ := sbi.SuspendType(a[0])
		if err := harts.CheckSuspendType(typ); err != nil {
			return result(0, err)
		}
		if typ.NonRetentive() && !e.f.platform.ValidAddress(a[1]) {
			return sbi.Fail(sbi.ErrInvalidAddress)
		}
		return result(0, harts.Suspend(hart, typ, a[1], a[2]))
	}
	return sbi.Fail(sbi.ErrNotSupported)
}
