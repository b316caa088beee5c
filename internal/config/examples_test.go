package config

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tinyrange/rvsbi/internal/hv/riscv/rv64"
)

// TestExamplePrograms replays the programs shipped in examples/ on the
// example platform and checks every expectation.
func TestExamplePrograms(t *testing.T) {
	platform, err := LoadPlatform(filepath.Join("..", "..", "examples", "platform.yaml"))
	if err != nil {
		t.Fatalf("LoadPlatform: %v", err)
	}
	paths, err := filepath.Glob(filepath.Join("..", "..", "examples", "programs", "*.yaml"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(paths) == 0 {
		t.Fatalf("no example programs found")
	}

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			program, err := LoadProgram(path)
			if err != nil {
				t.Fatalf("LoadProgram: %v", err)
			}
			steps, err := program.Compile()
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			cfg, err := platform.MachineConfig()
			if err != nil {
				t.Fatalf("MachineConfig: %v", err)
			}

			var console bytes.Buffer
			m, err := rv64.NewMachine(cfg, &console, nil)
			if err != nil {
				t.Fatalf("NewMachine: %v", err)
			}

			timeout := program.Timeout.Duration()
			if timeout == 0 {
				timeout = 5 * time.Second
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			executed := 0
			err = m.Run(ctx, steps, func(r rv64.Result) {
				executed++
				step := program.Steps[r.Index]
				if err := step.Check(r.Ret); err != nil {
					t.Errorf("step %d (%s): %v", r.Index, step.Describe(), err)
				}
			})
			if err != nil && !errors.Is(err, rv64.ErrHalt) {
				t.Fatalf("Run: %v", err)
			}
			if executed != len(steps) {
				t.Fatalf("executed %d of %d steps", executed, len(steps))
			}
			if program.Name == "legacy" && console.String() != "hi\n" {
				t.Fatalf("console = %q", console.String())
			}
		})
	}
}
