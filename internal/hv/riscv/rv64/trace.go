package rv64

import (
	"github.com/tinyrange/rvsbi/internal/sbi"
	"github.com/tinyrange/rvsbi/internal/timeslice"
)

var (
	callKinds       = make(map[sbi.ExtensionID]timeslice.KindID)
	callKindUnknown = timeslice.RegisterKind("sbi.unknown", timeslice.KindUnknown)
)

func init() {
	for _, ext := range sbi.LegacyExtensions {
		callKinds[ext] = timeslice.RegisterKind("sbi."+ext.String(), timeslice.KindLegacy)
	}
	for _, ext := range sbi.StandardExtensions {
		callKinds[ext] = timeslice.RegisterKind("sbi."+ext.String(), 0)
	}
}

func callKind(ext sbi.ExtensionID) timeslice.KindID {
	if id, ok := callKinds[ext]; ok {
		return id
	}
	return callKindUnknown
}
