package firmware

import (
	"math/bits"

	"github.com/tinyrange/rvsbi/internal/sbi"
)

type rfenceExtension struct{ f *Firmware }

func (rfenceExtension) IDs() []sbi.ExtensionID { return []sbi.ExtensionID{sbi.ExtRFence} }

// fenceEvents maps each fence to its sent and received firmware events.
var fenceEvents = map[sbi.RFenceFunction][2]sbi.FWEvent{
	sbi.RFenceRemoteFenceI:         {sbi.FWFenceISent, sbi.FWFenceIRecvd},
	sbi.RFenceRemoteSfenceVMA:      {sbi.FWSfenceVMASent, sbi.FWSfenceVMARcvd},
	sbi.RFenceRemoteSfenceVMAASID:  {sbi.FWSfenceVMAASIDSent, sbi.FWSfenceVMAASIDRcvd},
	sbi.RFenceRemoteHfenceGVMAVMID: {sbi.FWHfenceGVMAVMIDSent, sbi.FWHfenceGVMAVMIDRcvd},
	sbi.RFenceRemoteHfenceGVMA:     {sbi.FWHfenceGVMASent, sbi.FWHfenceGVMARcvd},
	sbi.RFenceRemoteHfenceVVMAASID: {sbi.FWHfenceVVMAASIDSent, sbi.FWHfenceVVMAASIDRcvd},
	sbi.RFenceRemoteHfenceVVMA:     {sbi.FWHfenceVVMASent, sbi.FWHfenceVVMARcvd},
}

func (e rfenceExtension) Handle(hart uint64, call sbi.Call) sbi.Ret {
	a := call.Args
	mask := HartMask{Mask: a[0], Base: a[1]}
	fence := Fence{Kind: sbi.RFenceFunction(call.Function)}

	switch fence.Kind {
	case sbi.RFenceRemoteFenceI:
	case sbi.RFenceRemoteSfenceVMA, sbi.RFenceRemoteHfenceGVMA, sbi.RFenceRemoteHfenceVVMA:
		fence.Start, fence.Size = a[2], a[3]
	case sbi.RFenceRemoteSfenceVMAASID, sbi.RFenceRemoteHfenceVVMAASID:
		fence.Start, fence.Size, fence.ASID = a[2], a[3], a[4]
	case sbi.RFenceRemoteHfenceGVMAVMID:
		fence.Start, fence.Size, fence.VMID = a[2], a[3], a[4]
	default:
		return sbi.Fail(sbi.ErrNotSupported)
	}
	return result(0, e.f.remoteFence(hart, mask, fence))
}

func hypervisorFence(kind sbi.RFenceFunction) bool {
	return kind >= sbi.RFenceRemoteHfenceGVMAVMID && kind <= sbi.RFenceRemoteHfenceVVMA
}

func (f *Firmware) remoteFence(hart uint64, mask HartMask, fence Fence) error {
	if hypervisorFence(fence.Kind) && !f.platform.HasHypervisor() {
		return sbi.ErrNotSupported
	}
	if fence.Size != ^uint64(0) {
		if _, carry := bits.Add64(fence.Start, fence.Size, 0); carry != 0 {
			return sbi.ErrInvalidAddress
		}
	}
	targets, err := mask.Harts(f.harts.NumHarts())
	if err != nil {
		return err
	}

	ev := fenceEvents[fence.Kind]
	for _, t := range targets {
		f.Record(hart, ev[0])
		f.platform.RemoteFence(t, fence)
		f.Record(t, ev[1])
	}
	return nil
}
