package irq

import "github.com/HalogenPowered/os/kernel/cpu"

// 8259 command words.
const (
	// cmdInit starts the initialization sequence and announces ICW4.
	cmdInit = 0x11

	// cmdEndOfInterrupt acknowledges the interrupt being serviced.
	cmdEndOfInterrupt = 0x20

	// mode8086 selects 8086/88 mode in ICW4.
	mode8086 = 0x01

	// cmdReadISR makes the next read of the command port return the
	// in-service register.
	cmdReadISR = 0x0b

	// The secondary controller is wired to line 2 of the primary.
	cascadeLine = 2
)

const (
	primaryCommandPort   = 0x20
	primaryDataPort      = 0x21
	secondaryCommandPort = 0xa0
	secondaryDataPort    = 0xa1

	linesPerPIC = 8
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
	ioWaitFn        = cpu.IOWait
)

// pic is one 8259 programmable interrupt controller.
type pic struct {
	offset      uint8
	commandPort uint16
	dataPort    uint16
}

// handlesInterrupt returns true if vector maps to one of the lines of p.
func (p *pic) handlesInterrupt(vector uint8) bool {
	return vector >= p.offset && vector < p.offset+linesPerPIC
}

func (p *pic) endOfInterrupt() {
	portWriteByteFn(p.commandPort, cmdEndOfInterrupt)
}

func (p *pic) inService() uint8 {
	portWriteByteFn(p.commandPort, cmdReadISR)
	return portReadByteFn(p.commandPort)
}

func (p *pic) readMask() uint8 {
	return portReadByteFn(p.dataPort)
}

func (p *pic) writeMask(mask uint8) {
	portWriteByteFn(p.dataPort, mask)
}

// ChainedPICs is the classic primary/secondary pair of 8259 controllers that
// route the 16 legacy hardware interrupt lines.
type ChainedPICs struct {
	pics [2]pic
}

// NewChainedPICs returns the controller pair with lines 0-7 delivered at
// primaryOffset and lines 8-15 at secondaryOffset. Initialize must be called
// before the offsets take effect.
func NewChainedPICs(primaryOffset, secondaryOffset uint8) ChainedPICs {
	return ChainedPICs{
		pics: [2]pic{
			{offset: primaryOffset, commandPort: primaryCommandPort, dataPort: primaryDataPort},
			{offset: secondaryOffset, commandPort: secondaryCommandPort, dataPort: secondaryDataPort},
		},
	}
}

// Initialize remaps both controllers to their vector offsets and installs
// mask. Bit n of mask disables line n.
func (c *ChainedPICs) Initialize(mask uint16) {
	primary, secondary := &c.pics[0], &c.pics[1]

	// ICW1
	portWriteByteFn(primary.commandPort, cmdInit)
	ioWaitFn()
	portWriteByteFn(secondary.commandPort, cmdInit)
	ioWaitFn()

	// ICW2: vector offsets
	portWriteByteFn(primary.dataPort, primary.offset)
	ioWaitFn()
	portWriteByteFn(secondary.dataPort, secondary.offset)
	ioWaitFn()

	// ICW3: cascade wiring
	portWriteByteFn(primary.dataPort, 1<<cascadeLine)
	ioWaitFn()
	portWriteByteFn(secondary.dataPort, cascadeLine)
	ioWaitFn()

	// ICW4
	portWriteByteFn(primary.dataPort, mode8086)
	ioWaitFn()
	portWriteByteFn(secondary.dataPort, mode8086)
	ioWaitFn()

	c.SetMasks(mask)
}

// Masks returns the current line mask of both controllers.
func (c *ChainedPICs) Masks() uint16 {
	return uint16(c.pics[0].readMask()) | uint16(c.pics[1].readMask())<<linesPerPIC
}

// SetMasks installs a new line mask. Bit n of mask disables line n.
func (c *ChainedPICs) SetMasks(mask uint16) {
	c.pics[0].writeMask(uint8(mask))
	c.pics[1].writeMask(uint8(mask >> linesPerPIC))
}

// HandlesInterrupt returns true if vector belongs to one of the two
// controllers.
func (c *ChainedPICs) HandlesInterrupt(vector uint8) bool {
	return c.pics[0].handlesInterrupt(vector) || c.pics[1].handlesInterrupt(vector)
}

// NotifyEndOfInterrupt acknowledges vector. Lines of the secondary controller
// are acknowledged on both controllers as they arrive through the cascade
// line of the primary. Vectors not owned by either controller are ignored.
func (c *ChainedPICs) NotifyEndOfInterrupt(vector uint8) {
	if !c.HandlesInterrupt(vector) {
		return
	}

	if c.pics[1].handlesInterrupt(vector) {
		c.pics[1].endOfInterrupt()
	}
	c.pics[0].endOfInterrupt()
}

// IsSpurious returns true if vector is the lowest-priority line of one of
// the controllers and that line is not actually in service. A controller
// raises such an interrupt when a request goes away before it is
// acknowledged.
func (c *ChainedPICs) IsSpurious(vector uint8) bool {
	for i := range c.pics {
		p := &c.pics[i]
		if vector == p.offset+linesPerPIC-1 {
			return p.inService()&(1<<(linesPerPIC-1)) == 0
		}
	}

	return false
}
