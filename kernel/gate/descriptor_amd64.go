package gate

const (
	// gateTypeInterrupt is a 64-bit interrupt gate. Interrupts are
	// disabled while the handler runs.
	gateTypeInterrupt = 0xe

	gatePresent = 1 << 7
)

// gateDescriptor is a 16-byte IDT entry.
type gateDescriptor struct {
	low  uint64
	high uint64
}

// encodeGate returns a present ring 0 interrupt gate for the entry point at
// offset. A non-zero ist selects the 1-based IST slot to switch to.
func encodeGate(offset uintptr, selector uint16, ist uint8) gateDescriptor {
	addr := uint64(offset)
	return gateDescriptor{
		low: addr&0xffff |
			uint64(selector)<<16 |
			uint64(ist&0x7)<<32 |
			uint64(gatePresent|gateTypeInterrupt)<<40 |
			(addr>>16&0xffff)<<48,
		high: addr >> 32,
	}
}

func (d gateDescriptor) offset() uintptr {
	return uintptr(d.low&0xffff | (d.low>>48)<<16 | d.high<<32)
}

func (d gateDescriptor) selector() uint16 {
	return uint16(d.low >> 16)
}

func (d gateDescriptor) stackIndex() uint8 {
	return uint8(d.low>>32) & 0x7
}

func (d gateDescriptor) present() bool {
	return (d.low>>40)&gatePresent != 0
}
