// Package pmm manages physical memory frame allocations.
package pmm

import (
	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/boot"
	"github.com/HalogenPowered/os/kernel/kfmt"
	"github.com/HalogenPowered/os/kernel/mm"
)

var (
	// bootMemAllocator is the frame allocator used by the kernel.
	bootMemAllocator BootMemAllocator

	logWriter = kfmt.PrefixWriter{Prefix: []byte("[pmm] ")}
)

// Init sets up the boot memory allocator over regions, prints the system
// memory map and registers the allocator with the mm package.
func Init(regions []boot.Region) {
	bootMemAllocator = NewBootMemAllocator(regions)

	logWriter.Sink = kfmt.Writer()
	bootMemAllocator.PrintMemoryMap(&logWriter)

	mm.SetFrameAllocator(allocFrame)
}

// AllocCount returns the number of frames handed out by the kernel frame
// allocator.
func AllocCount() uint64 {
	return bootMemAllocator.AllocCount()
}

func allocFrame() (mm.Frame, *kernel.Error) {
	return bootMemAllocator.AllocFrame()
}
