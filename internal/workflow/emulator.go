package workflow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/halogen-os/xtask/internal/config"
	"github.com/halogen-os/xtask/internal/runner"
)

// EmulatorArgs returns the emulator command line booting kernel on top of
// the bios firmware. With debug set the guest halts at reset and a gdb stub
// listens on :1234.
func EmulatorArgs(cfg *config.Config, bios, kernel string, debug bool) []string {
	argv := []string{cfg.EmulatorBinary()}
	if debug {
		argv = append(argv, "-S", "-s")
	}
	argv = append(argv,
		"-machine", cfg.EmulatorMachine(),
		"-cpu", cfg.EmulatorCPU(),
		"-m", cfg.EmulatorMemory(),
		"-smp", strconv.Itoa(cfg.EmulatorSMP()),
		"-nographic",
		"-serial", "mon:stdio",
	)
	argv = append(argv, cfg.Emulator.ExtraArgs...)
	return append(argv, "--bios", bios, "--kernel", kernel)
}

// Launch boots kernel under the emulator and blocks until it exits. The
// guest console is attached to the runner's streams.
func (e *Engine) Launch(ctx context.Context, bios, kernel string, debug bool) error {
	if debug {
		fmt.Fprintln(e.out(), "Emulator halted at reset. Attach with: xtask attach")
	}
	argv := EmulatorArgs(e.Config, e.Path(bios), e.Path(kernel), debug)
	if _, err := e.run(ctx, runner.Step{Argv: argv}); err != nil {
		return fmt.Errorf("running emulator: %w", err)
	}
	return nil
}
