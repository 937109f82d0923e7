package main

import (
	"fmt"
	"os"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// printStats reports pool and swap occupancy with locale-aware
// thousands separators -- a cosmetic touch, but one the pack's
// x/text-using tooling reaches for over fmt.Sprintf("%d") whenever a
// count is meant for a human reading a terminal.
func printStats(s *stack) {
	p := message.NewPrinter(language.English)
	p.Fprintln(os.Stdout, "vmctl stats")
	p.Fprintf(os.Stdout, "  frames total:  %v\n", number.Decimal(s.pool.Cap()))
	p.Fprintf(os.Stdout, "  frames free:   %v\n", number.Decimal(s.pool.Nfree()))
	p.Fprintf(os.Stdout, "  swap slots:    %v\n", number.Decimal(s.sw.Nslots()))
	fmt.Println()
}
