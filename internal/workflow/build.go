package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/halogen-os/xtask/internal/runner"
	"go.uber.org/zap"
)

// ErrBuildOutputTruncated reports structured build output that exceeded the
// capture limit, so records near its end were never seen.
var ErrBuildOutputTruncated = errors.New("build output exceeded max_output")

// Artifact is an executable produced by the pipeline together with its
// flattened image.
type Artifact struct {
	ELF string
	BIN string
}

// Build compiles the kernel, copies the debug executable into the build
// directory and strips it to a flat binary.
func (e *Engine) Build(ctx context.Context) (*Artifact, error) {
	cfg := e.Config
	if err := os.MkdirAll(e.Path(cfg.BuildDir()), 0o755); err != nil {
		return nil, fmt.Errorf("creating build directory: %w", err)
	}

	argv := []string{cfg.Cargo(), "build"}
	if _, err := e.run(ctx, runner.Step{Dir: cfg.KernelDir(), Argv: argv}); err != nil {
		return nil, fmt.Errorf("building kernel: %w", err)
	}

	art := &Artifact{ELF: cfg.KernelELF(), BIN: cfg.KernelBIN()}
	if err := copyFile(e.Path(cfg.KernelTarget()), e.Path(art.ELF)); err != nil {
		return nil, fmt.Errorf("copying kernel: %w", err)
	}
	if err := e.Strip(ctx, art.ELF, art.BIN); err != nil {
		return nil, err
	}
	e.logger().Info("kernel built", zap.String("elf", art.ELF), zap.String("bin", art.BIN))
	return art, nil
}

// Strip flattens the executable at src into a raw binary image at dst.
func (e *Engine) Strip(ctx context.Context, src, dst string) error {
	argv := []string{e.Config.Objcopy(), "-O", "binary", e.Path(src), e.Path(dst)}
	if _, err := e.run(ctx, runner.Step{Argv: argv}); err != nil {
		return fmt.Errorf("stripping %s: %w", src, err)
	}
	return nil
}

// BuildTest compiles the kernel test executable without running it,
// resolves its path from the compiler's structured output, then copies and
// strips it like Build does.
func (e *Engine) BuildTest(ctx context.Context) (*Artifact, error) {
	cfg := e.Config
	if err := os.MkdirAll(e.Path(cfg.BuildDir()), 0o755); err != nil {
		return nil, fmt.Errorf("creating build directory: %w", err)
	}

	argv := []string{cfg.Cargo(), "test", "--no-run", "--message-format=json"}
	res, err := e.run(ctx, runner.Step{Dir: cfg.KernelDir(), Argv: argv, Capture: true})
	if err != nil {
		return nil, fmt.Errorf("building kernel tests: %w", err)
	}
	if res.Truncated {
		return nil, fmt.Errorf("%w: raise max_output above %d bytes", ErrBuildOutputTruncated, cfg.MaxOutputBytes())
	}

	exe, err := e.resolveTestExecutable(res.Stdout)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(exe) {
		exe = filepath.Join(e.Path(cfg.KernelDir()), exe)
	}

	art := &Artifact{ELF: cfg.TestELF(), BIN: cfg.TestBIN()}
	if err := copyFile(exe, e.Path(art.ELF)); err != nil {
		return nil, fmt.Errorf("copying test executable: %w", err)
	}
	if err := e.Strip(ctx, art.ELF, art.BIN); err != nil {
		return nil, err
	}
	e.logger().Info("test kernel built", zap.String("executable", exe), zap.String("bin", art.BIN))
	return art, nil
}

// Firmware builds the OpenSBI firmware image.
func (e *Engine) Firmware(ctx context.Context) error {
	cfg := e.Config
	argv := []string{
		cfg.Make(),
		fmt.Sprintf("-j%d", cfg.Jobs()),
		"CROSS_COMPILE=" + cfg.CrossCompile(),
		"FW_PIC=" + cfg.FirmwarePIC(),
		"PLATFORM=" + cfg.FirmwarePlatform(),
	}
	if _, err := e.run(ctx, runner.Step{Dir: cfg.FirmwareDir(), Argv: argv}); err != nil {
		return fmt.Errorf("building firmware: %w", err)
	}
	return nil
}

// Test builds the test kernel and the firmware, then boots the test image.
// With debug set the emulator halts at reset and waits for a debugger. The
// artifact is returned once built, even when a later stage fails.
func (e *Engine) Test(ctx context.Context, debug bool) (*Artifact, error) {
	art, err := e.BuildTest(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.Firmware(ctx); err != nil {
		return art, err
	}
	return art, e.Launch(ctx, e.Config.FirmwareImage(), art.BIN, debug)
}

// Run builds the kernel and the firmware, then boots the kernel image.
func (e *Engine) Run(ctx context.Context, debug bool) error {
	art, err := e.Build(ctx)
	if err != nil {
		return err
	}
	if err := e.Firmware(ctx); err != nil {
		return err
	}
	return e.Launch(ctx, e.Config.FirmwareImage(), art.BIN, debug)
}

// copyFile copies src to dst, replacing dst and keeping src's permissions.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
