package pmm

import (
	"io"

	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/boot"
	"github.com/HalogenPowered/os/kernel/kfmt"
	"github.com/HalogenPowered/os/kernel/mm"
)

var (
	// ErrOutOfMemory is returned once every usable frame has been handed
	// out.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}
)

// BootMemAllocator implements a rudimentary physical memory allocator which
// is used to bootstrap the kernel.
//
// The allocator walks the usable regions reported by the bootloader in the
// order they were reported and hands out their frames in ascending order.
// Region bounds that are not page-aligned are shrunk to whole frames: the
// start is rounded up and the end is rounded down. Regions that are not
// usable (including memory occupied by the kernel image and the boot info
// block) are never returned.
//
// Allocations are tracked via a cursor that only moves forward so it is not
// possible to free allocated frames.
type BootMemAllocator struct {
	regions []boot.Region

	// regionIndex is the index of the region the cursor is in.
	regionIndex int

	// nextFrame is the next frame to hand out from the current region.
	// It is only meaningful when regionStarted is true.
	nextFrame     mm.Frame
	regionStarted bool

	// allocCount tracks the total number of allocated frames.
	allocCount uint64
}

// NewBootMemAllocator returns an allocator that serves frames from the
// usable entries of regions. The regions slice must not be modified while
// the allocator is in use.
func NewBootMemAllocator(regions []boot.Region) BootMemAllocator {
	return BootMemAllocator{regions: regions}
}

// usableFrameRange returns the first frame and the frame past the end of the
// whole frames contained in r.
func usableFrameRange(r boot.Region) (mm.Frame, mm.Frame) {
	pageSizeMinus1 := uint64(mm.PageSize - 1)
	start := (r.Start + pageSizeMinus1) &^ pageSizeMinus1
	end := r.End &^ pageSizeMinus1
	if end < start {
		end = start
	}

	return mm.Frame(start >> mm.PageShift), mm.Frame(end >> mm.PageShift)
}

// AllocFrame reserves the next available free frame. It returns
// ErrOutOfMemory once all usable frames have been handed out; every
// subsequent call returns the same error.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for ; alloc.regionIndex < len(alloc.regions); alloc.regionIndex, alloc.regionStarted = alloc.regionIndex+1, false {
		region := alloc.regions[alloc.regionIndex]
		if region.Kind != boot.KindUsable {
			continue
		}

		firstFrame, endFrame := usableFrameRange(region)
		if !alloc.regionStarted {
			alloc.nextFrame, alloc.regionStarted = firstFrame, true
		}

		if alloc.nextFrame < endFrame {
			frame := alloc.nextFrame
			alloc.nextFrame++
			alloc.allocCount++
			return frame, nil
		}
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// AllocCount returns the number of frames handed out so far.
func (alloc *BootMemAllocator) AllocCount() uint64 {
	return alloc.allocCount
}

// PrintMemoryMap writes the memory map the allocator was created with to w.
func (alloc *BootMemAllocator) PrintMemoryMap(w io.Writer) {
	var totalFree mm.Size

	kfmt.Fprintf(w, "system memory map:\n")
	for _, region := range alloc.regions {
		kfmt.Fprintf(w, "\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.Start, region.End, region.Len(), region.Kind.String())

		if region.Kind == boot.KindUsable {
			firstFrame, endFrame := usableFrameRange(region)
			totalFree += mm.Size(uint64(endFrame-firstFrame) * uint64(mm.PageSize))
		}
	}
	kfmt.Fprintf(w, "available memory: %dKb\n", uint64(totalFree/mm.Kb))
}
