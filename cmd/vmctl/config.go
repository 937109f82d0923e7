// Command vmctl boots the buffer cache + VM paging stack over two
// file-backed disks and runs a workload against it, the way biscuit's
// build tooling and calvinalkan-agent-task's pflag/hujson-driven CLIs
// both configure a run from a HuJSON (commented JSON) file plus flag
// overrides.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

// Config is the on-disk/flag-driven configuration for one vmctl run.
type Config struct {
	FSImage     string `json:"fs_image"`
	FSSectors   uint32 `json:"fs_sectors"`
	SwapImage   string `json:"swap_image"`
	SwapSectors uint32 `json:"swap_sectors"`
	Frames      int    `json:"frames"`
	BCEntries   int    `json:"bc_entries"`
	BCRingSize  int    `json:"bc_ring_size"`
	LogLevel    string `json:"log_level"`
}

func defaultConfig() Config {
	return Config{
		FSImage:     "fs.img",
		FSSectors:   2048,
		SwapImage:   "swap.img",
		SwapSectors: 2048,
		Frames:      64,
		BCEntries:   64,
		BCRingSize:  8,
		LogLevel:    "info",
	}
}

// loadConfig reads a HuJSON config file (comments and trailing commas
// allowed) and layers pflag overrides from args on top of it.
func loadConfig(args []string) (Config, error) {
	cfg := defaultConfig()

	fs := pflag.NewFlagSet("vmctl", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "HuJSON config file")
	fsImage := fs.String("fs-image", "", "filesystem-role disk image path")
	swapImage := fs.String("swap-image", "", "swap-role disk image path")
	frames := fs.Int("frames", 0, "number of physical frames in the pool")
	logLevel := fs.String("log-level", "", "logrus level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			return cfg, fmt.Errorf("vmctl: reading config: %w", err)
		}
		std, err := hujson.Standardize(raw)
		if err != nil {
			return cfg, fmt.Errorf("vmctl: parsing config: %w", err)
		}
		if err := json.Unmarshal(std, &cfg); err != nil {
			return cfg, fmt.Errorf("vmctl: decoding config: %w", err)
		}
	}

	if *fsImage != "" {
		cfg.FSImage = *fsImage
	}
	if *swapImage != "" {
		cfg.SwapImage = *swapImage
	}
	if *frames != 0 {
		cfg.Frames = *frames
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	return cfg, nil
}
