// Package boot exposes the information handed over by the bootloader: the
// physical memory map, the framebuffer (if any), the boot command line and
// the offset of the direct physical memory mapping.
//
// The kernel is loaded by a multiboot2 compliant bootloader. The rt0 entry
// code maps all physical memory at a fixed virtual offset before jumping to
// Go code and passes that offset to Init.
package boot

import (
	"unsafe"

	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/lateinit"
)

const (
	// maxRegions is the capacity of the region list. Firmware memory maps
	// on PCs rarely exceed a few dozen entries.
	maxRegions = 128

	// maxHoles is the number of ranges carved out of usable memory: the
	// kernel image and the multiboot info block.
	maxHoles = 2
)

var (
	bootInfo lateinit.Cell[*Info]

	// pending holds the parsed Info so the (large) value is never built or
	// copied on the stack.
	pending Info

	errNoMemoryMap = &kernel.Error{Module: "boot", Message: "bootloader did not provide a memory map"}
)

// PixelFormat describes how a framebuffer pixel is laid out in memory.
type PixelFormat uint8

const (
	// FormatUnknown is reported for framebuffers the kernel cannot draw to.
	FormatUnknown PixelFormat = iota

	// FormatRGB stores one byte per channel in red, green, blue order.
	FormatRGB

	// FormatBGR stores one byte per channel in blue, green, red order.
	FormatBGR

	// FormatU8 stores a single grey-scale intensity byte per pixel.
	FormatU8
)

// String implements fmt.Stringer for PixelFormat.
func (f PixelFormat) String() string {
	switch f {
	case FormatRGB:
		return "RGB"
	case FormatBGR:
		return "BGR"
	case FormatU8:
		return "U8"
	default:
		return "unknown"
	}
}

// FramebufferInfo describes a linear framebuffer set up by the bootloader.
type FramebufferInfo struct {
	// Buffer spans the framebuffer memory through the direct physical map.
	Buffer []byte

	// Width and height of the visible area in pixels.
	Width, Height uint32

	// Stride is the number of pixels (visible or not) between the start
	// of two consecutive rows.
	Stride uint32

	BytesPerPixel uint32
	Format        PixelFormat
}

// Info is the immutable snapshot of the boot hand-off.
type Info struct {
	regions regionList

	framebuffer    FramebufferInfo
	hasFramebuffer bool

	physOffset uintptr
	cmdLine    string
}

// Init parses the multiboot info block located at physical address infoPtr.
// The physOffset argument is the virtual address at which physical address
// 0 is mapped. The [kernelStart, kernelEnd) physical range is reported as
// bootloader-owned memory.
//
// Init may only be called once; a second call panics.
func Init(infoPtr, physOffset, kernelStart, kernelEnd uintptr) *kernel.Error {
	if bootInfo.IsInitialized() {
		// Raises the double-initialization panic without touching the
		// published value.
		bootInfo.Init(&pending)
	}

	pending = Info{}
	if err := parse(&pending, infoPtr, physOffset, kernelStart, kernelEnd); err != nil {
		return err
	}

	bootInfo.Init(&pending)
	return nil
}

func parse(info *Info, infoPtr, physOffset, kernelStart, kernelEnd uintptr) *kernel.Error {
	mi := multibootInfo{addr: infoPtr + physOffset}

	holes := [maxHoles]span{
		{uint64(kernelStart), uint64(kernelEnd)},
		{uint64(infoPtr), uint64(infoPtr) + uint64(mi.totalSize())},
	}

	var sawMemoryMap bool
	mi.visitMemRegions(func(entry *memoryMapEntry) bool {
		sawMemoryMap = true

		start, end := entry.physAddress, entry.physAddress+entry.length
		if kind := kindFromEntryType(entry.entryType); kind != KindUsable {
			info.regions.add(Region{Start: start, End: end, Kind: kind})
			return true
		}

		info.regions.addUsable(start, end, holes[:])
		return true
	})

	if !sawMemoryMap {
		return errNoMemoryMap
	}

	info.physOffset = physOffset
	info.cmdLine = mi.cmdLine()
	info.framebuffer, info.hasFramebuffer = framebufferFromTag(mi.framebuffer(), physOffset)
	return nil
}

// framebufferFromTag converts the bootloader framebuffer tag into a
// FramebufferInfo. Text-mode and unsupported framebuffers are reported as
// missing.
func framebufferFromTag(tag *framebufferTag, physOffset uintptr) (FramebufferInfo, bool) {
	if tag == nil || tag.fbType == framebufferTypeEGA || tag.bpp < 8 {
		return FramebufferInfo{}, false
	}

	bytesPerPixel := uint32(tag.bpp+7) / 8

	var format PixelFormat
	switch {
	case tag.fbType == framebufferTypeIndexed || bytesPerPixel == 1:
		format = FormatU8
	case tag.fbType == framebufferTypeRGB && bytesPerPixel >= 3 && tag.redPosition == 0 && tag.bluePosition == 16:
		format = FormatRGB
	case tag.fbType == framebufferTypeRGB && bytesPerPixel >= 3 && tag.redPosition == 16 && tag.bluePosition == 0:
		format = FormatBGR
	default:
		return FramebufferInfo{}, false
	}

	size := uintptr(tag.pitch) * uintptr(tag.height)
	return FramebufferInfo{
		Buffer:        unsafe.Slice((*byte)(unsafe.Pointer(uintptr(tag.physAddr)+physOffset)), size),
		Width:         tag.width,
		Height:        tag.height,
		Stride:        tag.pitch / bytesPerPixel,
		BytesPerPixel: bytesPerPixel,
		Format:        format,
	}, true
}

// Regions returns the physical memory regions in the order reported by the
// bootloader, with the kernel image and the boot info block carved out of
// usable memory. The returned slice must not be modified.
func Regions() []Region {
	info := bootInfo.Get()
	return info.regions.entries[:info.regions.count]
}

// DroppedRegions returns the number of regions that did not fit in the
// region list.
func DroppedRegions() int {
	return bootInfo.Get().regions.dropped
}

// Framebuffer returns the framebuffer set up by the bootloader. The second
// return value is false when the machine boots headless or in text mode.
func Framebuffer() (FramebufferInfo, bool) {
	info := bootInfo.Get()
	return info.framebuffer, info.hasFramebuffer
}

// PhysicalMemoryOffset returns the virtual address at which physical
// address 0 is mapped.
func PhysicalMemoryOffset() uintptr {
	return bootInfo.Get().physOffset
}

// CmdLine returns the raw boot command line.
func CmdLine() string {
	return bootInfo.Get().cmdLine
}

// CmdLineOption looks up key in the boot command line. The command line is a
// space-separated list of "key=value" pairs or bare flags; bare flags are
// reported with an empty value. CmdLineOption does not allocate.
func CmdLineOption(key string) (string, bool) {
	return lookupOption(CmdLine(), key)
}

func lookupOption(cmdLine, key string) (string, bool) {
	for len(cmdLine) > 0 {
		// Skip separators
		if cmdLine[0] == ' ' || cmdLine[0] == '\t' {
			cmdLine = cmdLine[1:]
			continue
		}

		end := 0
		for end < len(cmdLine) && cmdLine[end] != ' ' && cmdLine[end] != '\t' {
			end++
		}
		token := cmdLine[:end]
		cmdLine = cmdLine[end:]

		name, value := token, ""
		for i := 0; i < len(token); i++ {
			if token[i] == '=' {
				name, value = token[:i], token[i+1:]
				break
			}
		}

		if name == key {
			return value, true
		}
	}

	return "", false
}
