// Command timeslice reads a call timing log written by sbi-run -timeslice.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tinyrange/rvsbi/internal/timeslice"
)

type summary struct {
	Kind  string
	Hart  int64 // -1 when summed over every hart
	Flags timeslice.KindFlags
	Count int
	Sum   time.Duration
	Min   time.Duration
	Max   time.Duration
}

func (s *summary) String() string {
	hart := "all"
	if s.Hart >= 0 {
		hart = fmt.Sprintf("%d", s.Hart)
	}
	return fmt.Sprintf("%36s hart=%-4s flags=%-14s count=%8d sum=%14s min=%12s max=%12s avg=%12s",
		s.Kind, hart, s.Flags, s.Count,
		s.Sum,
		s.Min,
		s.Max,
		s.Sum/time.Duration(s.Count),
	)
}

func (s *summary) Add(d time.Duration) {
	s.Count++
	s.Sum += d
	if s.Count == 1 || d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
}

type key struct {
	kind string
	hart int64
}

// summarize groups entries by kind, and by hart too when perHart is set.
// Groups keep the order their first record appeared in.
func summarize(r io.Reader, perHart bool) ([]*summary, error) {
	groups := map[key]*summary{}
	var order []*summary
	err := timeslice.ReadAll(r, func(e timeslice.Entry) error {
		k := key{kind: e.Kind, hart: -1}
		if perHart {
			k.hart = int64(e.Hart)
		}
		s, ok := groups[k]
		if !ok {
			s = &summary{Kind: e.Kind, Hart: k.hart, Flags: e.Flags}
			groups[k] = s
			order = append(order, s)
		}
		s.Add(e.Duration)
		return nil
	})
	return order, err
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	filename := fs.String("filename", "", "Timeslice file to read")
	sums := fs.Bool("sums", false, "Print per-extension totals instead of every record")
	perHart := fs.Bool("per-hart", false, "With -sums, keep harts apart")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *filename == "" {
		fs.Usage()
		return fmt.Errorf("-filename is required")
	}

	f, err := os.Open(*filename)
	if err != nil {
		return fmt.Errorf("open timeslice file: %w", err)
	}
	defer f.Close()

	if *sums {
		groups, err := summarize(f, *perHart)
		if err != nil {
			return fmt.Errorf("read timeslice file: %w", err)
		}
		for _, s := range groups {
			fmt.Println(s.String())
		}
		return nil
	}

	return timeslice.ReadAll(f, func(e timeslice.Entry) error {
		fmt.Printf("%s hart=%d %s %s\n", e.Kind, e.Hart, e.Flags, e.Duration)
		return nil
	})
}
