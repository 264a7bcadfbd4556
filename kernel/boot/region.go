package boot

// RegionKind classifies a physical memory region.
type RegionKind uint8

const (
	// KindUsable marks memory that is free for the kernel to allocate.
	KindUsable RegionKind = iota

	// KindReserved marks memory that must not be touched.
	KindReserved

	// KindBootloader marks memory that holds the kernel image or data
	// handed over by the bootloader (such as the boot info block itself).
	KindBootloader

	// KindACPIReclaimable marks memory holding ACPI tables that can be
	// reclaimed once they have been parsed.
	KindACPIReclaimable

	// KindNVS marks memory that must be preserved across hibernation.
	KindNVS

	// KindBadMemory marks defective RAM.
	KindBadMemory

	// KindUnknown marks regions with a type the kernel does not recognize.
	KindUnknown
)

// String implements fmt.Stringer for RegionKind.
func (k RegionKind) String() string {
	switch k {
	case KindUsable:
		return "usable"
	case KindReserved:
		return "reserved"
	case KindBootloader:
		return "bootloader"
	case KindACPIReclaimable:
		return "ACPI (reclaimable)"
	case KindNVS:
		return "NVS"
	case KindBadMemory:
		return "bad memory"
	default:
		return "unknown"
	}
}

func kindFromEntryType(t memoryEntryType) RegionKind {
	switch t {
	case memAvailable:
		return KindUsable
	case memReserved:
		return KindReserved
	case memAcpiReclaimable:
		return KindACPIReclaimable
	case memNvs:
		return KindNVS
	case memBadRAM:
		return KindBadMemory
	default:
		return KindUnknown
	}
}

// Region describes the half-open physical address range [Start, End).
type Region struct {
	Start, End uint64
	Kind       RegionKind
}

// Len returns the region length in bytes.
func (r Region) Len() uint64 {
	return r.End - r.Start
}

// span is a half-open physical range that must be carved out of usable
// memory.
type span struct {
	start, end uint64
}

func (s span) contains(start, end uint64) bool {
	return start >= s.start && end <= s.end
}

// regionList is a fixed-capacity list of regions that can be built before
// the Go allocator is available.
type regionList struct {
	entries [maxRegions]Region
	count   int

	// dropped counts regions that did not fit in entries.
	dropped int
}

// add appends r, merging it with the previous entry if both have the same
// kind and are adjacent.
func (l *regionList) add(r Region) {
	if r.Start >= r.End {
		return
	}

	if l.count > 0 {
		last := &l.entries[l.count-1]
		if last.Kind == r.Kind && last.End == r.Start {
			last.End = r.End
			return
		}
	}

	if l.count == maxRegions {
		l.dropped++
		return
	}

	l.entries[l.count] = r
	l.count++
}

// addUsable appends the usable range [start, end) after carving out any
// overlap with holes. Overlapping parts are recorded as KindBootloader and
// the relative address order of all pieces is preserved.
func (l *regionList) addUsable(start, end uint64, holes []span) {
	// Collect the boundaries of every piece: the region extents plus each
	// hole boundary that falls inside the region.
	var (
		cuts  [2 + 2*maxHoles]uint64
		nCuts int
	)

	cuts[0], cuts[1] = start, end
	nCuts = 2
	for _, h := range holes {
		if h.start > start && h.start < end {
			cuts[nCuts] = h.start
			nCuts++
		}
		if h.end > start && h.end < end {
			cuts[nCuts] = h.end
			nCuts++
		}
	}

	// Insertion sort; there are at most a handful of cut points.
	for i := 1; i < nCuts; i++ {
		for j := i; j > 0 && cuts[j] < cuts[j-1]; j-- {
			cuts[j], cuts[j-1] = cuts[j-1], cuts[j]
		}
	}

	for i := 0; i+1 < nCuts; i++ {
		pieceStart, pieceEnd := cuts[i], cuts[i+1]
		kind := KindUsable
		for _, h := range holes {
			if h.contains(pieceStart, pieceEnd) {
				kind = KindBootloader
				break
			}
		}

		l.add(Region{Start: pieceStart, End: pieceEnd, Kind: kind})
	}
}
