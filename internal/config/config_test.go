package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Missing(t *testing.T) {
	d := t.TempDir()

	res := Load(d)
	if res.Found {
		t.Fatalf("expected not found")
	}
	if res.ParseError != nil {
		t.Fatalf("unexpected parse error: %v", res.ParseError)
	}
	def := Default()
	if res.Config.Run.MaxAttempts != def.Run.MaxAttempts {
		t.Fatalf("unexpected default max attempts: %d", res.Config.Run.MaxAttempts)
	}
	if res.Config.Toolchain.ArmclangBin != DefaultArmclangBin {
		t.Fatalf("unexpected default armclang: %q", res.Config.Toolchain.ArmclangBin)
	}
}

func TestLoad_ValidOverrides(t *testing.T) {
	d := t.TempDir()
	content := `
[run]
max_attempts = 7
run_timeout_sec = 4

[toolchain]
fvp_bin = "/custom/FVP"
`
	if err := os.WriteFile(filepath.Join(d, "armloop.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	res := Load(d)
	if !res.Found {
		t.Fatalf("expected found true")
	}
	if res.ParseError != nil {
		t.Fatalf("unexpected parse error: %v", res.ParseError)
	}
	if res.Config.Run.MaxAttempts != 7 {
		t.Fatalf("max attempts not applied: %d", res.Config.Run.MaxAttempts)
	}
	if res.Config.Toolchain.FVPBin != "/custom/FVP" {
		t.Fatalf("fvp_bin not applied: %q", res.Config.Toolchain.FVPBin)
	}
	// untouched fields keep defaults
	if res.Config.Run.TimeoutRetries != Default().Run.TimeoutRetries {
		t.Fatalf("timeout retries should keep default")
	}
}

func TestLoad_InvalidToml(t *testing.T) {
	d := t.TempDir()
	if err := os.WriteFile(filepath.Join(d, "armloop.toml"), []byte("x = [1,\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	res := Load(d)
	if !res.Found {
		t.Fatalf("expected found true")
	}
	if !errors.Is(res.ParseError, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", res.ParseError)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	d := t.TempDir()
	content := `
[toolchain]
armclang_bin = "/from/file/armclang"
`
	if err := os.WriteFile(filepath.Join(d, "armloop.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARMCLANG_BIN", "/from/env/armclang")

	res := Load(d)
	if res.Config.Toolchain.ArmclangBin != "/from/env/armclang" {
		t.Fatalf("env override not applied: %q", res.Config.Toolchain.ArmclangBin)
	}
}

func TestLoadDotenv(t *testing.T) {
	d := t.TempDir()
	if err := os.WriteFile(filepath.Join(d, ".env"), []byte("ARMLOOP_TEST_KEY=value\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARMLOOP_TEST_KEY", "")
	os.Unsetenv("ARMLOOP_TEST_KEY")
	if err := LoadDotenv(d); err != nil {
		t.Fatalf("LoadDotenv: %v", err)
	}
	if got := os.Getenv("ARMLOOP_TEST_KEY"); got != "value" {
		t.Fatalf("dotenv value not loaded: %q", got)
	}

	// missing file is not an error
	if err := LoadDotenv(t.TempDir()); err != nil {
		t.Fatalf("missing .env should not error: %v", err)
	}
}
