package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/rvsbi/internal/config"
	"github.com/tinyrange/rvsbi/internal/hv/riscv/rv64"
	"github.com/tinyrange/rvsbi/internal/timeslice"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	configPath := fs.String("config", "", "Platform YAML file (default: single hart, default PMU)")
	programPath := fs.String("program", "", "Call program YAML file")
	progress := fs.Bool("progress", false, "Show a progress bar instead of per-call output")
	dtbPath := fs.String("dtb", "", "Write the generated device tree blob to file")
	template := fs.String("write-config", "", "Write the platform with defaults filled in to file and exit")
	input := fs.String("input", "", "Bytes queued for the legacy console getchar call")
	timeout := fs.Duration("timeout", 30*time.Second, "Abort the program after this long")
	slices := fs.String("timeslice", "", "Record the time spent servicing each call to file (read it with timeslice)")
	dbg := fs.Bool("debug", false, "Log every dispatched call")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Replay an SBI call program against an emulated RV64 machine.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *dbg {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	platform := config.DefaultPlatform()
	if *configPath != "" {
		var err error
		platform, err = config.LoadPlatform(*configPath)
		if err != nil {
			return err
		}
	}

	if *template != "" {
		return writePlatform(*template, platform)
	}

	if *programPath == "" {
		fs.Usage()
		return fmt.Errorf("-program is required")
	}
	program, err := config.LoadProgram(*programPath)
	if err != nil {
		return err
	}
	steps, err := program.Compile()
	if err != nil {
		return err
	}

	cfg, err := platform.MachineConfig()
	if err != nil {
		return err
	}
	m, err := rv64.NewMachine(cfg, os.Stdout, nil)
	if err != nil {
		return err
	}
	if *input != "" {
		m.Console.EnqueueInput([]byte(*input))
	}
	slog.Debug("sbi-run: machine ready",
		"harts", cfg.Harts,
		"isa", m.ISAString(),
		"dtb", fmt.Sprintf("%#x", m.DeviceTreeAddr()),
		"extensions", len(m.Firmware.Dispatcher().Extensions()))

	if *dtbPath != "" {
		if err := os.WriteFile(*dtbPath, m.DeviceTree(), 0o644); err != nil {
			return fmt.Errorf("write device tree: %w", err)
		}
	}

	explicitTimeout := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "timeout" {
			explicitTimeout = true
		}
	})
	if d := program.Timeout.Duration(); d > 0 && !explicitTimeout {
		*timeout = d
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	var out io.Writer = os.Stdout
	var bar *progressbar.ProgressBar
	if *progress {
		out = io.Discard
		bar = progressbar.Default(int64(len(steps)), program.Name)
		defer bar.Close()
	}
	color := !*progress && term.IsTerminal(int(os.Stdout.Fd()))

	var mismatches int
	report := func(r rv64.Result) {
		step := program.Steps[r.Index]
		status := "ok"
		if err := step.Check(r.Ret); err != nil {
			mismatches++
			status = styleStatus(err.Error(), color)
			if bar != nil {
				slog.Error("sbi-run: step failed", "step", r.Index, "call", step.Describe(), "result", r.Ret, "error", err)
			}
		}
		fmt.Fprintf(out, "%4d  %-48s  %-28v  %-16v  %s\n", r.Index, step.Describe(), r.Ret, r.State, status)
		if bar != nil {
			bar.Add(1)
		}
	}

	if *slices != "" {
		stopRecording, err := startTimeslice(*slices)
		if err != nil {
			return err
		}
		defer func() {
			if err := stopRecording(); err != nil {
				slog.Error("sbi-run: close timeslice log", "path", *slices, "error", err)
			}
		}()
	}

	err = m.Run(ctx, steps, report)
	var reset *rv64.ResetError
	switch {
	case errors.As(err, &reset):
		fmt.Fprintf(os.Stdout, "system reset: %v (%v)\n", reset.Type, reset.Reason)
	case err != nil:
		return err
	}

	if mismatches > 0 {
		return fmt.Errorf("%d of %d calls did not match their expectation", mismatches, len(steps))
	}
	return nil
}

var failStyle = ansi.Style{}.ForegroundColor(ansi.Red)

// styleStatus renders a failed step's status, in red when color is set.
func styleStatus(status string, color bool) string {
	if !color {
		return status
	}
	return failStyle.Styled(status)
}

func startTimeslice(path string) (func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	w, err := timeslice.Open(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return func() error {
		if err := w.Close(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}

func writePlatform(path string, p config.Platform) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := config.WritePlatform(f, p); err != nil {
		return err
	}
	return f.Close()
}
