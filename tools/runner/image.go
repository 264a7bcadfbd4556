package main

import (
	"debug/elf"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// testHarnessSymbolPrefix identifies kernels that link the in-kernel test
// harness.
const testHarnessSymbolPrefix = "github.com/HalogenPowered/os/kernel/ktest."

const grubConfig = `set timeout=0
set default=0

menuentry "Halogen OS" {
	multiboot2 /boot/kernel.bin
	boot
}
`

// isTestKernel reports whether the ELF image at path contains symbols from
// the test harness package.
func isTestKernel(path string) (bool, error) {
	f, err := elf.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	symbols, err := f.Symbols()
	if err != nil {
		return false, err
	}

	for _, symbol := range symbols {
		if strings.HasPrefix(symbol.Name, testHarnessSymbolPrefix) {
			return true, nil
		}
	}

	return false, nil
}

// imagePath returns the location of the bootable image built for cfg. It
// lives next to the kernel binary.
func imagePath(cfg *config) string {
	return filepath.Join(
		filepath.Dir(cfg.kernel),
		fmt.Sprintf("boot-%s-%s.iso", cfg.firmware(), filepath.Base(cfg.kernel)),
	)
}

// buildImage stages the kernel together with a GRUB configuration and runs
// grub-mkrescue to produce a bootable ISO.
func buildImage(cfg *config, stdout, stderr io.Writer) (string, error) {
	stageDir, err := os.MkdirTemp("", "halogen-iso-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(stageDir)

	grubDir := filepath.Join(stageDir, "boot", "grub")
	if err = os.MkdirAll(grubDir, 0o755); err != nil {
		return "", err
	}

	if err = os.WriteFile(filepath.Join(grubDir, "grub.cfg"), []byte(grubConfig), 0o644); err != nil {
		return "", err
	}

	if err = copyFile(cfg.kernel, filepath.Join(stageDir, "boot", "kernel.bin")); err != nil {
		return "", err
	}

	image := imagePath(cfg)
	cmd := exec.Command(cfg.mkrescue, "-o", image, stageDir)
	cmd.Stdout, cmd.Stderr = stdout, stderr
	if err = cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w", cfg.mkrescue, err)
	}

	if _, err = os.Stat(image); err != nil {
		return "", fmt.Errorf("boot image does not exist at %s after build", image)
	}

	return image, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
