package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"
)

const defaultTestTimeout = 10 * time.Second

// config holds the runner options collected from the command line and the
// environment.
type config struct {
	kernel string

	noRun bool
	uefi  bool
	test  bool

	qemu     string
	ovmf     string
	mkrescue string
	timeout  time.Duration
}

var errMissingKernel = errors.New("missing path to kernel image")

// parseConfig parses args (without the program name). Flags may appear
// before or after the kernel path.
func parseConfig(args []string, getenv func(string) string, output io.Writer) (*config, error) {
	cfg := &config{
		qemu:     "qemu-system-x86_64",
		mkrescue: "grub-mkrescue",
		timeout:  defaultTestTimeout,
	}

	fs := flag.NewFlagSet("runner", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(output, "usage: runner <kernel> [--no-run] [--uefi] [--test]\n")
		fs.PrintDefaults()
	}
	fs.BoolVar(&cfg.noRun, "no-run", false, "build the boot image and print its path without starting QEMU")
	fs.BoolVar(&cfg.uefi, "uefi", false, "boot through UEFI firmware ($HALOGEN_OVMF) instead of BIOS")
	fs.BoolVar(&cfg.test, "test", false, "treat the kernel as a test image even if it does not link the test harness")

	var positional []string
	for len(args) > 0 {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}

		args = fs.Args()
		if len(args) > 0 {
			positional = append(positional, args[0])
			args = args[1:]
		}
	}

	switch len(positional) {
	case 0:
		fs.Usage()
		return nil, errMissingKernel
	case 1:
		cfg.kernel = positional[0]
	default:
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(positional[1:], " "))
	}

	if v := getenv("HALOGEN_QEMU"); v != "" {
		cfg.qemu = v
	}
	if v := getenv("HALOGEN_MKRESCUE"); v != "" {
		cfg.mkrescue = v
	}
	cfg.ovmf = getenv("HALOGEN_OVMF")
	if cfg.uefi && cfg.ovmf == "" && !cfg.noRun {
		return nil, errors.New("--uefi requires HALOGEN_OVMF to point to the UEFI firmware image")
	}

	if v := getenv("HALOGEN_TIMEOUT"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid HALOGEN_TIMEOUT: %w", err)
		}
		cfg.timeout = timeout
	}

	return cfg, nil
}

// firmware returns the firmware interface name used in image file names.
func (cfg *config) firmware() string {
	if cfg.uefi {
		return "uefi"
	}
	return "bios"
}
