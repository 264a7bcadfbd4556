package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	tty "github.com/mattn/go-tty"
)

// testSuccessStatus is the QEMU exit status produced when a test kernel
// writes the success code 0x10 to the isa-debug-exit port: (0x10 << 1) | 1.
const testSuccessStatus = 33

var (
	runArgs  = []string{"-no-reboot", "-no-shutdown", "-serial", "stdio"}
	testArgs = []string{
		"-device", "isa-debug-exit,iobase=0xf4,iosize=0x04",
		"-serial", "stdio",
		"-display", "none",
		"--no-reboot",
	}
)

// qemuArgs returns the emulator arguments for booting image.
func qemuArgs(cfg *config, image string, test bool) []string {
	args := []string{"-cdrom", image}
	if cfg.uefi {
		args = append(args, "-bios", cfg.ovmf)
	}

	if test {
		return append(args, testArgs...)
	}
	return append(args, runArgs...)
}

// runTest boots a test kernel and waits for it to exit through the
// isa-debug-exit device.
func runTest(ctx context.Context, cfg *config, args []string, streams *stdio) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cfg.qemu, args...)
	cmd.Stdout, cmd.Stderr = streams.out, streams.err

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("test timed out after %s", cfg.timeout)
	}

	return testResult(err)
}

// testResult maps the error returned by waiting on QEMU to a test outcome.
func testResult(err error) error {
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return errors.New("test failed: QEMU exited without reporting a result")
	case errors.As(err, &exitErr):
		if code := exitErr.ExitCode(); code != testSuccessStatus {
			return fmt.Errorf("test failed: exit code %d", code)
		}
		return nil
	default:
		return err
	}
}

// runInteractive boots a kernel with its serial port on the terminal and
// returns QEMU's exit status. The host terminal is switched to raw mode so
// that keystrokes reach the guest unprocessed.
func runInteractive(cfg *config, args []string, streams *stdio) (int, error) {
	if term, err := tty.Open(); err == nil {
		defer term.Close()
		if restore, err := term.Raw(); err == nil {
			defer restore()
		}
	}

	cmd := exec.Command(cfg.qemu, args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = streams.in, streams.out, streams.err

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return 1, err
	}
}
