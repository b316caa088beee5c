package sbi

import "fmt"

// Call is a decoded ecall: the extension from a7, the function from a6 and
// the arguments from a0-a5.
type Call struct {
	Extension ExtensionID
	Function  FunctionID
	Args      [6]uint64
}

func (c Call) String() string {
	fn := FunctionName(c.Extension, c.Function)
	if fn == "" {
		fn = fmt.Sprintf("%#x", uint64(c.Function))
	}
	return fmt.Sprintf("%v.%s", c.Extension, fn)
}

// Ret is the result of a call: the error code goes back in a0 and the value
// in a1. Legacy v0.1 calls return Value alone in a0 and leave a1 untouched.
type Ret struct {
	Error  Error
	Value  uint64
	Legacy bool
}

// OK returns a successful result carrying value.
func OK(value uint64) Ret {
	return Ret{Error: Success, Value: value}
}

// Fail returns a failed result.
func Fail(err Error) Ret {
	return Ret{Error: err}
}

// LegacyRet returns a v0.1 result.
func LegacyRet(a0 int64) Ret {
	return Ret{Value: uint64(a0), Legacy: true}
}

func (r Ret) String() string {
	if r.Legacy {
		return fmt.Sprintf("legacy a0=%d", int64(r.Value))
	}
	if r.Error == Success {
		return fmt.Sprintf("ok value=%#x", r.Value)
	}
	return r.Error.String()
}
