package boot

import "unsafe"

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

// infoHeader describes the multiboot info section header.
type infoHeader struct {
	// Total size of multiboot info section.
	totalSize uint32

	// Always set to zero; reserved for future use
	reserved uint32
}

// tagHeader describes the header the precedes each tag.
type tagHeader struct {
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. Each tag starts at a 8-byte aligned address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

// memoryEntryType is the region type reported by the bootloader.
type memoryEntryType uint32

const (
	memAvailable memoryEntryType = iota + 1
	memReserved
	memAcpiReclaimable
	memNvs
	memBadRAM
)

// memoryMapEntry describes a memory region entry, namely its physical
// address, its length and its type.
type memoryMapEntry struct {
	physAddress uint64
	length      uint64
	entryType   memoryEntryType
	reserved    uint32
}

// framebufferType defines the type of the initialized framebuffer.
type framebufferType uint8

const (
	framebufferTypeIndexed framebufferType = iota
	framebufferTypeRGB
	framebufferTypeEGA
)

// framebufferTag mirrors the contents of the framebuffer info tag.
type framebufferTag struct {
	physAddr      uint64
	pitch         uint32
	width, height uint32
	bpp           uint8
	fbType        framebufferType
	reserved      uint16

	// Only valid when fbType is framebufferTypeRGB.
	redPosition   uint8
	redMaskSize   uint8
	greenPosition uint8
	greenMaskSize uint8
	bluePosition  uint8
	blueMaskSize  uint8
}

// multibootInfo provides access to the multiboot info block located at a
// virtual address.
type multibootInfo struct {
	addr uintptr
}

// totalSize returns the size of the info block in bytes.
func (mi multibootInfo) totalSize() uint32 {
	return (*infoHeader)(unsafe.Pointer(mi.addr)).totalSize
}

// findTagByType scans the multiboot info data looking for the start of the
// specified type. It returns a pointer to the tag contents start offset and
// the content length excluding the tag header.
//
// If the tag is not present in the multiboot info, findTagByType returns
// (0,0).
func (mi multibootInfo) findTagByType(tagType tagType) (uintptr, uint32) {
	var ptrTagHeader *tagHeader

	curPtr := mi.addr + 8
	for ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == tagType {
			return curPtr + 8, ptrTagHeader.size - 8
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += uintptr(int32(ptrTagHeader.size+7) & ^7)
	}

	return 0, 0
}

// visitMemRegions invokes visitor for each memory map entry in the order
// reported by the bootloader. The visitor returns false to abort the scan.
func (mi multibootInfo) visitMemRegions(visitor func(*memoryMapEntry) bool) {
	curPtr, size := mi.findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	// curPtr points to the memory map header (2 dwords long)
	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += 8

	for curPtr < endPtr {
		if !visitor((*memoryMapEntry)(unsafe.Pointer(curPtr))) {
			return
		}

		curPtr += uintptr(ptrMapHeader.entrySize)
	}
}

// framebuffer returns the framebuffer tag or nil if the bootloader did not
// initialize a framebuffer.
func (mi multibootInfo) framebuffer() *framebufferTag {
	curPtr, size := mi.findTagByType(tagFramebufferInfo)
	if size == 0 {
		return nil
	}

	return (*framebufferTag)(unsafe.Pointer(curPtr))
}

// cmdLine returns the boot command line. The returned string aliases the
// multiboot info block.
func (mi multibootInfo) cmdLine() string {
	curPtr, size := mi.findTagByType(tagBootCmdLine)
	if size == 0 {
		return ""
	}

	// The command line is NULL-terminated
	raw := unsafe.Slice((*byte)(unsafe.Pointer(curPtr)), size)
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}

	if n == 0 {
		return ""
	}
	return unsafe.String(&raw[0], n)
}
