package firmware

import "github.com/tinyrange/rvsbi/internal/sbi"

// legacyExtension serves the v0.1 calls. Each legacy call is its own
// extension ID and ignores the function ID; the result goes back in a0.
type legacyExtension struct{ f *Firmware }

func (legacyExtension) IDs() []sbi.ExtensionID { return sbi.LegacyExtensions }

func (e legacyExtension) Handle(hart uint64, call sbi.Call) sbi.Ret {
	f := e.f
	a := call.Args

	switch call.Extension {
	case sbi.ExtLegacySetTimer:
		f.setTimer(hart, a[0])
		return sbi.LegacyRet(0)

	case sbi.ExtLegacyConsolePutchar:
		f.platform.PutChar(byte(a[0]))
		return sbi.LegacyRet(0)

	case sbi.ExtLegacyConsoleGetchar:
		if c, ok := f.platform.GetChar(); ok {
			return sbi.LegacyRet(int64(c))
		}
		return sbi.LegacyRet(-1)

	case sbi.ExtLegacyClearIPI:
		f.platform.ClearIPI(hart)
		return sbi.LegacyRet(0)

	case sbi.ExtLegacySendIPI:
		mask, err := legacyMask(f.platform, a[0])
		if err == nil {
			err = f.sendIPI(hart, mask)
		}
		return legacyResult(err)

	case sbi.ExtLegacyRemoteFenceI:
		return e.fence(hart, a[0], Fence{Kind: sbi.RFenceRemoteFenceI})

	case sbi.ExtLegacyRemoteSfenceVMA:
		return e.fence(hart, a[0], Fence{Kind: sbi.RFenceRemoteSfenceVMA, Start: a[1], Size: a[2]})

	case sbi.ExtLegacyRemoteSfenceVMAASID:
		return e.fence(hart, a[0], Fence{Kind: sbi.RFenceRemoteSfenceVMAASID, Start: a[1], Size: a[2], ASID: a[3]})

	case sbi.ExtLegacyShutdown:
		ret := f.reset(hart, sbi.ResetTypeShutdown, sbi.ResetReasonNone)
		return sbi.LegacyRet(int64(ret.Error))
	}
	return sbi.LegacyRet(int64(sbi.ErrNotSupported))
}

func (e legacyExtension) fence(hart, maskAddr uint64, fence Fence) sbi.Ret {
	mask, err := legacyMask(e.f.platform, maskAddr)
	if err == nil {
		err = e.f.remoteFence(hart, mask, fence)
	}
	return legacyResult(err)
}

func legacyResult(err error) sbi.Ret {
	return sbi.LegacyRet(int64(result(0, err).Error))
}
