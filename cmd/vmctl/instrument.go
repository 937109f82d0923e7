package main

import (
	"os"
	"time"

	"github.com/google/pprof/profile"
	"github.com/spf13/pflag"
)

// dumpProfile emits a minimal pprof profile sampling pool occupancy
// over a short window, so the stack's memory pressure can be inspected
// with the standard `go tool pprof` viewers -- the same profile.Profile
// type the teacher's build tooling uses for its own instrumentation
// dumps.
func dumpProfile(s *stack, args []string) error {
	fs := pflag.NewFlagSet("vmctl instrument", pflag.ContinueOnError)
	out := fs.String("out", "vmctl.pprof", "output profile path")
	samples := fs.Int("samples", 10, "number of occupancy samples to take")
	interval := fs.Duration("interval", 100*time.Millisecond, "sampling interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	valueType := &profile.ValueType{Type: "frames_in_use", Unit: "count"}
	p := &profile.Profile{
		SampleType: []*profile.ValueType{valueType},
		PeriodType: valueType,
		Period:     1,
		TimeNanos:  0,
	}

	fn := &profile.Function{ID: 1, Name: "vmctl.poolOccupancy"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn, Line: 1}}}
	p.Function = []*profile.Function{fn}
	p.Location = []*profile.Location{loc}

	for i := 0; i < *samples; i++ {
		inUse := s.pool.Cap() - s.pool.Nfree()
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(inUse)},
		})
		time.Sleep(*interval)
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()
	return p.Write(f)
}
