package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Built-in defaults for the vendor toolchain locations. Overridable via
// armloop.toml and then via environment (highest precedence).
const (
	DefaultArmclangBin = "/opt/arm/developmentstudio-2025.0-1/sw/ARMCompiler6.24/bin/armclang"
	DefaultArmlinkBin  = "/opt/arm/developmentstudio-2025.0-1/sw/ARMCompiler6.24/bin/armlink"
	DefaultFVPBin      = "/opt/arm/developmentstudio-2025.0-1/bin/FVP_BaseR_Cortex-R52"
)

type Config struct {
	Run       RunConfig       `toml:"run"`
	Toolchain ToolchainConfig `toml:"toolchain"`
	Generator GeneratorConfig `toml:"generator"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type RunConfig struct {
	MaxAttempts        int `toml:"max_attempts"`
	RunTimeoutSec      int `toml:"run_timeout_sec"`
	TimeoutRetries     int `toml:"timeout_retries"`
	BuildTimeoutSec    int `toml:"build_timeout_sec"`
	GenerateTimeoutSec int `toml:"generate_timeout_sec"`
}

type ToolchainConfig struct {
	GCCBin       string `toml:"gcc_bin"`
	QemuBin      string `toml:"qemu_bin"`
	LinkerScript string `toml:"linker_script"`
	ArmclangBin  string `toml:"armclang_bin"`
	ArmlinkBin   string `toml:"armlink_bin"`
	FVPBin       string `toml:"fvp_bin"`
}

type GeneratorConfig struct {
	Backend string   `toml:"backend"` // "command" or "gemini"
	Command []string `toml:"command"`
	Model   string   `toml:"model"`
}

type TelemetryConfig struct {
	Enabled      bool   `toml:"enabled"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	Insecure     bool   `toml:"insecure"`
}

func Default() Config {
	return Config{
		Run: RunConfig{
			MaxAttempts:        5,
			RunTimeoutSec:      2,
			TimeoutRetries:     3,
			BuildTimeoutSec:    60,
			GenerateTimeoutSec: 300,
		},
		Toolchain: ToolchainConfig{
			GCCBin:       "arm-none-eabi-gcc",
			QemuBin:      "qemu-system-arm",
			LinkerScript: "link.ld",
			ArmclangBin:  DefaultArmclangBin,
			ArmlinkBin:   DefaultArmlinkBin,
			FVPBin:       DefaultFVPBin,
		},
		Generator: GeneratorConfig{
			Backend: "command",
			Command: []string{"gemini", "-d"},
			Model:   "gemini-2.5-pro",
		},
		Telemetry: TelemetryConfig{Enabled: false, OTLPEndpoint: "http://127.0.0.1:4318", Insecure: true},
	}
}

var ErrInvalid = errors.New("invalid config")

type LoadResult struct {
	Config     Config
	Found      bool
	Path       string
	ParseError error
}

// LoadDotenv loads KEY=VALUE pairs from <root>/.env into the environment.
// Existing environment variables are preserved; a missing file is not an error.
func LoadDotenv(root string) error {
	path := filepath.Join(root, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads <root>/armloop.toml merged over Default(), then applies
// environment overrides. Precedence: env > file > built-in default.
func Load(root string) LoadResult {
	res := LoadResult{Config: Default()}
	path := filepath.Join(root, "armloop.toml")
	res.Path = path

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			res.Config = applyEnv(res.Config)
			return res
		}
		res.ParseError = err
		return res
	}

	res.Found = true
	var parsed Config
	if err := toml.Unmarshal(b, &parsed); err != nil {
		res.ParseError = fmt.Errorf("%w: %v", ErrInvalid, err)
		return res
	}

	res.Config = applyEnv(merge(Default(), parsed))
	return res
}

func merge(def Config, cfg Config) Config {
	// Run
	if cfg.Run.MaxAttempts != 0 {
		def.Run.MaxAttempts = cfg.Run.MaxAttempts
	}
	if cfg.Run.RunTimeoutSec != 0 {
		def.Run.RunTimeoutSec = cfg.Run.RunTimeoutSec
	}
	if cfg.Run.TimeoutRetries != 0 {
		def.Run.TimeoutRetries = cfg.Run.TimeoutRetries
	}
	if cfg.Run.BuildTimeoutSec != 0 {
		def.Run.BuildTimeoutSec = cfg.Run.BuildTimeoutSec
	}
	if cfg.Run.GenerateTimeoutSec != 0 {
		def.Run.GenerateTimeoutSec = cfg.Run.GenerateTimeoutSec
	}
	// Toolchain
	if cfg.Toolchain.GCCBin != "" {
		def.Toolchain.GCCBin = cfg.Toolchain.GCCBin
	}
	if cfg.Toolchain.QemuBin != "" {
		def.Toolchain.QemuBin = cfg.Toolchain.QemuBin
	}
	if cfg.Toolchain.LinkerScript != "" {
		def.Toolchain.LinkerScript = cfg.Toolchain.LinkerScript
	}
	if cfg.Toolchain.ArmclangBin != "" {
		def.Toolchain.ArmclangBin = cfg.Toolchain.ArmclangBin
	}
	if cfg.Toolchain.ArmlinkBin != "" {
		def.Toolchain.ArmlinkBin = cfg.Toolchain.ArmlinkBin
	}
	if cfg.Toolchain.FVPBin != "" {
		def.Toolchain.FVPBin = cfg.Toolchain.FVPBin
	}
	// Generator
	if cfg.Generator.Backend != "" {
		def.Generator.Backend = cfg.Generator.Backend
	}
	if len(cfg.Generator.Command) != 0 {
		def.Generator.Command = cfg.Generator.Command
	}
	if cfg.Generator.Model != "" {
		def.Generator.Model = cfg.Generator.Model
	}
	// Telemetry
	def.Telemetry.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.OTLPEndpoint != "" {
		def.Telemetry.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	def.Telemetry.Insecure = cfg.Telemetry.Insecure
	return def
}

// applyEnv applies explicit environment overrides, the highest layer in the
// resolution order.
func applyEnv(cfg Config) Config {
	if v := os.Getenv("ARMCLANG_BIN"); v != "" {
		cfg.Toolchain.ArmclangBin = v
	}
	if v := os.Getenv("ARMLINK_BIN"); v != "" {
		cfg.Toolchain.ArmlinkBin = v
	}
	if v := os.Getenv("FVP_BIN"); v != "" {
		cfg.Toolchain.FVPBin = v
	}
	if v := os.Getenv("ARM_GCC_BIN"); v != "" {
		cfg.Toolchain.GCCBin = v
	}
	if v := os.Getenv("QEMU_BIN"); v != "" {
		cfg.Toolchain.QemuBin = v
	}
	if v := os.Getenv("ARMLOOP_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
		cfg.Telemetry.Enabled = true
	}
	return cfg
}
