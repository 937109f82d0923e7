package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"vmkernel/bc"
	"vmkernel/blockdev"
	"vmkernel/defs"
	"vmkernel/mem"
	"vmkernel/swap"
	"vmkernel/util"
	"vmkernel/vm"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: vmctl <run|stats|instrument|snapshot> [flags]")
		os.Exit(2)
	}
	sub, rest := os.Args[1], os.Args[2:]

	cfg, err := loadConfig(rest)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	stack, err := bootStack(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("vmctl: boot failed")
	}
	defer stack.close()

	switch sub {
	case "run":
		runWorkload(stack)
	case "stats":
		printStats(stack)
	case "instrument":
		if err := dumpProfile(stack, rest); err != nil {
			logrus.WithError(err).Fatal("vmctl instrument failed")
		}
	case "snapshot":
		if err := writeSnapshot(stack, rest); err != nil {
			logrus.WithError(err).Fatal("vmctl snapshot failed")
		}
	default:
		fmt.Fprintf(os.Stderr, "vmctl: unknown subcommand %q\n", sub)
		os.Exit(2)
	}
}

// stack is every long-lived component one vmctl invocation wires
// together: the two file-backed disks, the buffer cache sitting over
// the fs-role disk, the swap manager sitting over the swap-role disk,
// and the VM kernel tying frames/swap/spt together -- the kernel holds
// the same cache instance, so MMF page-in/page-out shares its sectors
// with ordinary buffer-cache traffic instead of bypassing it.
type stack struct {
	cfg     Config
	fsDev   *blockdev.FileDevice
	swapDev *blockdev.FileDevice
	cache   *bc.Cache
	pool    *mem.Pool
	sw      *swap.Swap
	kernel  *vm.Kernel

	ctx    context.Context
	cancel context.CancelFunc
}

func bootStack(cfg Config) (*stack, error) {
	fsDev, err := blockdev.OpenFileDevice(cfg.FSImage, cfg.FSSectors)
	if err != nil {
		return nil, fmt.Errorf("opening fs image: %w", err)
	}
	swapDev, err := blockdev.OpenFileDevice(cfg.SwapImage, cfg.SwapSectors)
	if err != nil {
		fsDev.Close()
		return nil, fmt.Errorf("opening swap image: %w", err)
	}

	cache := bc.NewCache(fsDev, blockdev.RoleFS, cfg.BCEntries, cfg.BCRingSize)
	pool := mem.NewPool(cfg.Frames)
	sw := swap.New(swapDev)
	kernel := vm.NewKernel(pool, sw, cache)

	ctx, cancel := context.WithCancel(context.Background())
	cache.Start(ctx)

	return &stack{
		cfg:     cfg,
		fsDev:   fsDev,
		swapDev: swapDev,
		cache:   cache,
		pool:    pool,
		sw:      sw,
		kernel:  kernel,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (s *stack) close() {
	s.cancel()
	if err := s.cache.Stop(); err != nil {
		logrus.WithError(err).Warn("vmctl: buffer cache daemon stop")
	}
	s.cache.FlushAll()
	if err := s.fsDev.Sync(); err != nil {
		logrus.WithError(err).Warn("vmctl: fs image sync")
	}
	s.fsDev.Close()
	s.swapDev.Close()
}

func runWorkload(s *stack) {
	logrus.WithFields(logrus.Fields{
		"fs_sectors":   s.cfg.FSSectors,
		"swap_sectors": s.cfg.SwapSectors,
		"frames":       s.cfg.Frames,
	}).Info("vmctl: stack booted, driving a synthetic workload")

	for sector := uint32(0); sector < util.Min(s.cfg.FSSectors, 256); sector++ {
		buf := make([]byte, defs.SectorSize)
		buf[0] = byte(sector)
		s.cache.Write(sector, buf)
		if sector%8 == 0 {
			s.cache.RequestReadAhead(sector + 1)
		}
	}
	s.cache.FlushAll()
	logrus.Info("vmctl: workload complete")
}
