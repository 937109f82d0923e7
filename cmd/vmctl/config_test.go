package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfigDefaultsWithNoFileOrFlags(t *testing.T) {
	got, err := loadConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	want := defaultConfig()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loadConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vmctl.hujson")
	contents := `{
		// trailing commas and comments are both fine in HuJSON
		"frames": 128,
		"fs_sectors": 4096,
	}`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := loadConfig([]string{"--config", path})
	if err != nil {
		t.Fatal(err)
	}
	want := defaultConfig()
	want.Frames = 128
	want.FSSectors = 4096
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loadConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vmctl.hujson")
	if err := os.WriteFile(path, []byte(`{"frames": 128}`), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := loadConfig([]string{"--config", path, "--frames", "32"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Frames != 32 {
		t.Errorf("flag override: got Frames=%d, want 32", got.Frames)
	}
}
