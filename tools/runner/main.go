// Command runner turns a kernel binary into a bootable image and runs it
// under QEMU. Test kernels are run headless and their result is derived
// from the isa-debug-exit status.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
)

type stdio struct {
	in       io.Reader
	out, err io.Writer
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[runner] error: %s\n", err.Error())
	os.Exit(1)
}

func run(ctx context.Context, args []string, getenv func(string) string, streams *stdio) (int, error) {
	cfg, err := parseConfig(args, getenv, streams.err)
	if err != nil {
		return 2, err
	}

	image, err := buildImage(cfg, streams.out, streams.err)
	if err != nil {
		return 1, err
	}

	if cfg.noRun {
		fmt.Fprintf(streams.out, "Created boot image at `%s`\n", image)
		return 0, nil
	}

	test := cfg.test
	if !test {
		if test, err = isTestKernel(cfg.kernel); err != nil {
			return 1, err
		}
	}

	qargs := qemuArgs(cfg, image, test)
	if test {
		if err = runTest(ctx, cfg, qargs, streams); err != nil {
			return 1, err
		}
		return 0, nil
	}

	return runInteractive(cfg, qargs, streams)
}

func main() {
	status, err := run(context.Background(), os.Args[1:], os.Getenv, &stdio{os.Stdin, os.Stdout, os.Stderr})
	if err != nil {
		exit(err)
	}

	os.Exit(status)
}
