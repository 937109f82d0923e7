package main

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/natefinch/atomic"
	"github.com/spf13/pflag"
)

// snapshotReport is the small JSON document vmctl snapshot writes:
// enough to compare two runs' cache/frame occupancy without re-running
// the workload.
type snapshotReport struct {
	TakenAt    time.Time `json:"taken_at"`
	FramesCap  int       `json:"frames_cap"`
	FramesFree int       `json:"frames_free"`
	SwapSlots  uint32    `json:"swap_slots"`
}

// writeSnapshot atomically replaces the snapshot file: a half-written
// snapshot must never be observable by a concurrent reader, which is
// exactly what atomic.WriteFile (write to a temp file, then rename)
// guarantees and a plain os.WriteFile does not.
func writeSnapshot(s *stack, args []string) error {
	fs := pflag.NewFlagSet("vmctl snapshot", pflag.ContinueOnError)
	out := fs.String("out", "vmctl.snapshot.json", "snapshot output path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report := snapshotReport{
		TakenAt:    time.Now(),
		FramesCap:  s.pool.Cap(),
		FramesFree: s.pool.Nfree(),
		SwapSlots:  s.sw.Nslots(),
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(*out, bytes.NewReader(body))
}
