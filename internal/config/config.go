// Package config loads and validates the optional .xtask.yaml file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file looked up from the
// working directory upward. The directory holding it is the repo root.
const FileName = ".xtask.yaml"

// Default values for runner configuration.
const (
	DefaultMaxOutput = 4 << 20 // 4 MB
)

// Toolchain and layout defaults for the Halogen tree.
const (
	DefaultTarget       = "riscv64gc-unknown-none-elf"
	DefaultCrossCompile = "riscv64-unknown-elf-"
	DefaultCargo        = "cargo"
	DefaultMake         = "make"

	DefaultBuildDir  = "build"
	DefaultKernelDir = "halogen/kernel"
	DefaultKernelBin = "halogen"

	DefaultFirmwareDir      = "opensbi"
	DefaultFirmwarePlatform = "generic"
	DefaultFirmwarePIC      = "no"

	DefaultEmulator = "qemu-system-riscv64"
	DefaultMachine  = "virt"
	DefaultCPU      = "rv64"
	DefaultMemory   = "512M"
	DefaultSMP      = 1

	DefaultDebugger = "rust-gdb"

	DefaultSourceRoot = "lab_os"
	DefaultExtension  = ".rs"
	DefaultMarker     = `^#\[cfg\(test\)\]`
	DefaultEnvDir     = "test/env"
	DefaultEntryFile  = "main.rs"
)

// Config holds the parsed .xtask.yaml configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version      int             `yaml:"version"`
	RawTimeout   string          `yaml:"timeout"`    // e.g. "30m"; unset means no timeout
	RawMaxOutput int             `yaml:"max_output"` // bytes
	Toolchain    ToolchainConfig `yaml:"toolchain"`
	Paths        PathsConfig     `yaml:"paths"`
	Firmware     FirmwareConfig  `yaml:"firmware"`
	Emulator     EmulatorConfig  `yaml:"emulator"`
	Debugger     DebuggerConfig  `yaml:"debugger"`
	ModTest      ModTestConfig   `yaml:"modtest"`
	Check        CheckConfig     `yaml:"check"`
}

// Timeout returns the configured per-command timeout. Zero means commands
// may run indefinitely.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// MaxOutputBytes returns the configured max captured output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// ToolchainConfig selects the cross toolchain.
type ToolchainConfig struct {
	Target       string `yaml:"target"`        // rustc target triple
	CrossCompile string `yaml:"cross_compile"` // binutils prefix, e.g. riscv64-unknown-elf-
	Jobs         int    `yaml:"jobs"`          // make -j; default: number of CPUs
	Cargo        string `yaml:"cargo"`         // compiler driver binary
	Make         string `yaml:"make"`          // firmware build driver
}

// PathsConfig locates the kernel crate and the build output directory.
// Paths are relative to the repo root.
type PathsConfig struct {
	BuildDir  string   `yaml:"build_dir"`
	KernelDir string   `yaml:"kernel_dir"`
	KernelBin string   `yaml:"kernel_bin"` // cargo binary name
	Crates    []string `yaml:"crates"`     // crates touched by fmt, clippy and clean
}

// FirmwareConfig controls the OpenSBI build.
type FirmwareConfig struct {
	Dir      string `yaml:"dir"`
	Platform string `yaml:"platform"`
	PIC      string `yaml:"pic"`
	Image    string `yaml:"image"` // relative to Dir
}

// EmulatorConfig controls the virtual machine.
type EmulatorConfig struct {
	Binary    string   `yaml:"binary"`
	Machine   string   `yaml:"machine"`
	CPU       string   `yaml:"cpu"`
	Memory    string   `yaml:"memory"`
	SMP       int      `yaml:"smp"`
	ExtraArgs []string `yaml:"extra_args"`
}

// DebuggerConfig controls the attach task.
type DebuggerConfig struct {
	Binary   string   `yaml:"binary"`    // default rust-gdb
	CrossGDB string   `yaml:"cross_gdb"` // exported as RUST_GDB; default <cross_compile>gdb
	Init     []string `yaml:"init"`      // gdb -ex commands run before the symbol file
}

// ModTestConfig controls the isolated module test harness.
type ModTestConfig struct {
	SourceRoot string   `yaml:"source_root"`
	Extension  string   `yaml:"extension"`
	Marker     string   `yaml:"marker"`    // regexp matched per line
	Predicate  string   `yaml:"predicate"` // "line" (default) or "syntax"
	EnvDir     string   `yaml:"env_dir"`
	EntryFile  string   `yaml:"entry_file"`
	Command    []string `yaml:"command"` // default: cargo test
}

// CheckConfig defines the steps of the check task.
type CheckConfig struct {
	Steps []string `yaml:"steps"` // default: [fmt_check, build, test]
}

// DefaultCheckSteps are used when no steps are configured.
var DefaultCheckSteps = []string{"fmt_check", "build", "test"}

// DefaultDebuggerInit is the gdb prelude used by the attach task.
var DefaultDebuggerInit = []string{
	"target remote :1234",
	"set architecture riscv:rv64",
	"set disassemble-next-line auto",
	"set riscv use-compressed-breakpoints yes",
}

// CheckSteps returns the configured check steps, falling back to defaults.
func (c *Config) CheckSteps() []string {
	if len(c.Check.Steps) > 0 {
		return c.Check.Steps
	}
	return DefaultCheckSteps
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// Target returns the rustc target triple.
func (c *Config) Target() string { return or(c.Toolchain.Target, DefaultTarget) }

// CrossCompile returns the binutils prefix.
func (c *Config) CrossCompile() string { return or(c.Toolchain.CrossCompile, DefaultCrossCompile) }

// Cargo returns the compiler driver binary.
func (c *Config) Cargo() string { return or(c.Toolchain.Cargo, DefaultCargo) }

// Make returns the firmware build driver.
func (c *Config) Make() string { return or(c.Toolchain.Make, DefaultMake) }

// Objcopy returns the binary used to flatten ELF images.
func (c *Config) Objcopy() string { return c.CrossCompile() + "objcopy" }

// Jobs returns the firmware build parallelism.
func (c *Config) Jobs() int {
	if c.Toolchain.Jobs > 0 {
		return c.Toolchain.Jobs
	}
	return runtime.NumCPU()
}

// BuildDir returns the build output directory.
func (c *Config) BuildDir() string { return or(c.Paths.BuildDir, DefaultBuildDir) }

// KernelDir returns the kernel crate directory.
func (c *Config) KernelDir() string { return or(c.Paths.KernelDir, DefaultKernelDir) }

// Crates returns the crates touched by fmt, clippy and clean.
func (c *Config) Crates() []string {
	if len(c.Paths.Crates) > 0 {
		return c.Paths.Crates
	}
	return []string{c.KernelDir(), "halogen/proc-macro", "halogen/common"}
}

// KernelTarget returns the debug executable produced by cargo build.
func (c *Config) KernelTarget() string {
	return filepath.Join(c.KernelDir(), "target", c.Target(), "debug", or(c.Paths.KernelBin, DefaultKernelBin))
}

// KernelELF returns the copied kernel executable path.
func (c *Config) KernelELF() string { return filepath.Join(c.BuildDir(), "halogen.elf") }

// KernelBIN returns the flattened kernel image path.
func (c *Config) KernelBIN() string { return filepath.Join(c.BuildDir(), "halogen.bin") }

// TestELF returns the copied test executable path.
func (c *Config) TestELF() string { return filepath.Join(c.BuildDir(), "halogen-test.elf") }

// TestBIN returns the flattened test image path.
func (c *Config) TestBIN() string { return filepath.Join(c.BuildDir(), "halogen-test.bin") }

// FirmwareDir returns the OpenSBI tree.
func (c *Config) FirmwareDir() string { return or(c.Firmware.Dir, DefaultFirmwareDir) }

// FirmwarePlatform returns the OpenSBI platform name.
func (c *Config) FirmwarePlatform() string { return or(c.Firmware.Platform, DefaultFirmwarePlatform) }

// FirmwarePIC returns the OpenSBI FW_PIC setting.
func (c *Config) FirmwarePIC() string { return or(c.Firmware.PIC, DefaultFirmwarePIC) }

// FirmwareImage returns the firmware image produced by the firmware build.
func (c *Config) FirmwareImage() string {
	image := c.Firmware.Image
	if image == "" {
		image = filepath.Join("build", "platform", c.FirmwarePlatform(), "firmware", "fw_jump.bin")
	}
	return filepath.Join(c.FirmwareDir(), image)
}

// EmulatorBinary returns the emulator binary.
func (c *Config) EmulatorBinary() string { return or(c.Emulator.Binary, DefaultEmulator) }

// EmulatorMachine returns the emulated board.
func (c *Config) EmulatorMachine() string { return or(c.Emulator.Machine, DefaultMachine) }

// EmulatorCPU returns the emulated CPU model.
func (c *Config) EmulatorCPU() string { return or(c.Emulator.CPU, DefaultCPU) }

// EmulatorMemory returns the guest memory size.
func (c *Config) EmulatorMemory() string { return or(c.Emulator.Memory, DefaultMemory) }

// EmulatorSMP returns the number of virtual harts.
func (c *Config) EmulatorSMP() int {
	if c.Emulator.SMP > 0 {
		return c.Emulator.SMP
	}
	return DefaultSMP
}

// DebuggerBinary returns the debugger used by the attach task.
func (c *Config) DebuggerBinary() string { return or(c.Debugger.Binary, DefaultDebugger) }

// CrossGDB returns the target gdb wrapped by the debugger.
func (c *Config) CrossGDB() string { return or(c.Debugger.CrossGDB, c.CrossCompile()+"gdb") }

// DebuggerInit returns the gdb prelude commands.
func (c *Config) DebuggerInit() []string {
	if len(c.Debugger.Init) > 0 {
		return c.Debugger.Init
	}
	return DefaultDebuggerInit
}

// ModTestCommand returns the command run inside the isolated area.
func (c *Config) ModTestCommand() []string {
	if len(c.ModTest.Command) > 0 {
		return c.ModTest.Command
	}
	return []string{c.Cargo(), "test"}
}

// LoadResult holds the parsed config and the discovered repository root.
type LoadResult struct {
	Config   *Config
	RepoRoot string // directory containing .xtask.yaml; falls back to workspace
	Path     string // config file read, empty when defaults are used
}

// Load reads .xtask.yaml from the repository root.
// The repository root is discovered by walking upward from workspace
// looking for the file. If none exists, a default Config is returned and
// workspace is the root.
func Load(workspace string) (*LoadResult, error) {
	root, err := findRepoRoot(workspace)
	if err != nil {
		abs, absErr := filepath.Abs(workspace)
		if absErr != nil {
			return nil, fmt.Errorf("resolving workspace: %w", absErr)
		}
		return &LoadResult{Config: &Config{}, RepoRoot: abs}, nil
	}
	return LoadFile(filepath.Join(root, FileName))
}

// LoadFile reads an explicit config file. Its directory is the repo root.
func LoadFile(path string) (*LoadResult, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", filepath.Base(path), err)
	}
	return &LoadResult{Config: cfg, RepoRoot: filepath.Dir(path), Path: path}, nil
}

// Validate rejects settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.ModTest.Predicate {
	case "", "line", "syntax":
	default:
		return fmt.Errorf("modtest.predicate must be \"line\" or \"syntax\", got %q", c.ModTest.Predicate)
	}
	if c.RawTimeout != "" {
		if _, err := time.ParseDuration(c.RawTimeout); err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
	}
	return nil
}

// findRepoRoot walks upward from dir looking for a directory containing FileName.
func findRepoRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found", FileName)
		}
		dir = parent
	}
}
