package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/rvsbi/internal/hv/riscv/rv64"
	"github.com/tinyrange/rvsbi/internal/sbi"
)

// ErrMismatch matches every MismatchError.
var ErrMismatch = errors.New("unexpected result")

// MismatchError describes a result that differs from a step's expectation.
type MismatchError struct {
	Field    string
	Expected any
	Actual   any
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: expected %v, got %v", e.Field, e.Expected, e.Actual)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrMismatch
}

// Program is a list of ecalls replayed against a machine. Steps of one
// hart run in order; steps of different harts run concurrently.
type Program struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`

	// Timeout bounds the whole run; zero leaves it to the caller.
	Timeout Duration `yaml:"timeout,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is a single ecall. Ext and Fid take symbolic names ("HSM",
// "HART_START") or numbers.
type Step struct {
	Hart   uint64  `yaml:"hart"`
	Ext    string  `yaml:"ext"`
	Fid    string  `yaml:"fid,omitempty"`
	Args   []Value `yaml:"args,omitempty,flow"`
	Stores []Store `yaml:"stores,omitempty"`
	Expect *Expect `yaml:"expect,omitempty"`
}

// Store writes a doubleword of guest memory before the call, for calls that
// take a pointer such as the legacy hart masks.
type Store struct {
	Addr  Value `yaml:"addr"`
	Value Value `yaml:"value"`
}

// Expect is the result a step must produce. Error takes a symbolic name
// ("ERR_INVALID_PARAM", "denied") or a number. For legacy calls only Value
// is meaningful: it holds a0.
type Expect struct {
	Error string `yaml:"error,omitempty"`
	Value *Value `yaml:"value,omitempty"`
}

func resolveExtension(name string) (sbi.ExtensionID, error) {
	if ext, ok := sbi.ParseExtension(name); ok {
		return ext, nil
	}
	v, err := parseValue(name)
	if err != nil {
		return 0, fmt.Errorf("unknown extension %q", name)
	}
	return sbi.ExtensionID(v), nil
}

func resolveFunction(ext sbi.ExtensionID, name string) (sbi.FunctionID, error) {
	if name == "" {
		return 0, nil
	}
	if fid, ok := sbi.ParseFunction(ext, name); ok {
		return fid, nil
	}
	v, err := parseValue(name)
	if err != nil {
		return 0, fmt.Errorf("unknown function %q in %v", name, ext)
	}
	return sbi.FunctionID(v), nil
}

func resolveError(name string) (sbi.Error, error) {
	if e, ok := sbi.ParseError(name); ok {
		return e, nil
	}
	v, err := parseValue(name)
	if err != nil {
		return 0, fmt.Errorf("unknown error %q", name)
	}
	return sbi.Error(int64(v)), nil
}

// Call resolves the step into an ecall.
func (s Step) Call() (sbi.Call, error) {
	var call sbi.Call
	if len(s.Args) > len(call.Args) {
		return sbi.Call{}, fmt.Errorf("%d arguments, at most %d fit a0-a5", len(s.Args), len(call.Args))
	}
	ext, err := resolveExtension(s.Ext)
	if err != nil {
		return sbi.Call{}, err
	}
	fid, err := resolveFunction(ext, s.Fid)
	if err != nil {
		return sbi.Call{}, err
	}
	call.Extension = ext
	call.Function = fid
	for i, a := range s.Args {
		call.Args[i] = uint64(a)
	}
	return call, nil
}

// Check compares ret against the step's expectation.
func (s Step) Check(ret sbi.Ret) error {
	if s.Expect == nil {
		return nil
	}
	if s.Expect.Error != "" {
		want, err := resolveError(s.Expect.Error)
		if err != nil {
			return err
		}
		if ret.Error != want {
			return &MismatchError{Field: "error", Expected: want, Actual: ret.Error}
		}
	}
	if s.Expect.Value != nil && ret.Value != uint64(*s.Expect.Value) {
		return &MismatchError{Field: "value", Expected: *s.Expect.Value, Actual: Value(ret.Value)}
	}
	return nil
}

// Compile resolves every step into a machine step.
func (p Program) Compile() ([]rv64.Step, error) {
	out := make([]rv64.Step, 0, len(p.Steps))
	for i, s := range p.Steps {
		call, err := s.Call()
		if err != nil {
			return nil, fmt.Errorf("config: step %d: %w", i, err)
		}
		if s.Expect != nil && s.Expect.Error != "" {
			if _, err := resolveError(s.Expect.Error); err != nil {
				return nil, fmt.Errorf("config: step %d: %w", i, err)
			}
		}
		step := rv64.Step{Hart: s.Hart, Call: call}
		for _, st := range s.Stores {
			step.Stores = append(step.Stores, rv64.Store{Addr: uint64(st.Addr), Value: uint64(st.Value)})
		}
		out = append(out, step)
	}
	return out, nil
}

// Describe returns a one line rendering of a step for logs and reports.
func (s Step) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "hart %d %s", s.Hart, s.Ext)
	if s.Fid != "" {
		fmt.Fprintf(&b, ".%s", s.Fid)
	}
	if len(s.Args) > 0 {
		args := make([]string, len(s.Args))
		for i, a := range s.Args {
			args[i] = a.String()
		}
		fmt.Fprintf(&b, "(%s)", strings.Join(args, ", "))
	}
	return b.String()
}

// ParseProgram decodes a call program and checks that every step resolves.
func ParseProgram(data []byte) (Program, error) {
	var p Program
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Program{}, fmt.Errorf("config: parse program: %w", err)
	}
	if _, err := p.Compile(); err != nil {
		return Program{}, err
	}
	return p, nil
}

// LoadProgram reads and parses a program file. The name defaults to path.
func LoadProgram(path string) (Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Program{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	p, err := ParseProgram(data)
	if err != nil {
		return Program{}, fmt.Errorf("%s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = path
	}
	return p, nil
}
