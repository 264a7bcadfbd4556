package irq

import (
	"bytes"
	"os"
	"testing"

	"github.com/HalogenPowered/os/device/keyboard"
	"github.com/HalogenPowered/os/device/video/fbterm"
	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/boot"
	"github.com/HalogenPowered/os/kernel/cpu"
	"github.com/HalogenPowered/os/kernel/gate"
	"github.com/HalogenPowered/os/kernel/kfmt"
	"github.com/HalogenPowered/os/kernel/sync"
)

func TestMain(m *testing.M) {
	// The IRQ spinlocks toggle the interrupt flag which faults in user
	// mode.
	sync.SetInterruptControl(func() bool { return false }, func() {}, func() {})
	os.Exit(m.Run())
}

type portWrite struct {
	port uint16
	val  uint8
}

// mockPorts records port writes and serves reads from the supplied map.
func mockPorts(reads map[uint16]uint8) (*[]portWrite, func()) {
	var writes []portWrite
	portWriteByteFn = func(port uint16, val uint8) {
		writes = append(writes, portWrite{port, val})
	}
	portReadByteFn = func(port uint16) uint8 {
		return reads[port]
	}
	ioWaitFn = func() {}

	return &writes, func() {
		portWriteByteFn = cpu.PortWriteByte
		portReadByteFn = cpu.PortReadByte
		ioWaitFn = cpu.IOWait
	}
}

func countEOIs(writes []portWrite) (primary, secondary int) {
	for _, w := range writes {
		if w.val != cmdEndOfInterrupt {
			continue
		}
		switch w.port {
		case primaryCommandPort:
			primary++
		case secondaryCommandPort:
			secondary++
		}
	}
	return primary, secondary
}

func TestInitialize(t *testing.T) {
	writes, restore := mockPorts(nil)
	defer restore()

	c := NewChainedPICs(32, 40)
	c.Initialize(0xfffc)

	exp := []portWrite{
		{primaryCommandPort, cmdInit},
		{secondaryCommandPort, cmdInit},
		{primaryDataPort, 32},
		{secondaryDataPort, 40},
		{primaryDataPort, 4},
		{secondaryDataPort, 2},
		{primaryDataPort, mode8086},
		{secondaryDataPort, mode8086},
		{primaryDataPort, 0xfc},
		{secondaryDataPort, 0xff},
	}

	if len(*writes) != len(exp) {
		t.Fatalf("expected port writes %v; got %v", exp, *writes)
	}
	for i := range exp {
		if (*writes)[i] != exp[i] {
			t.Errorf("expected write %d to be %v; got %v", i, exp[i], (*writes)[i])
		}
	}
}

func TestMasks(t *testing.T) {
	_, restore := mockPorts(map[uint16]uint8{primaryDataPort: 0xfc, secondaryDataPort: 0xbf})
	defer restore()

	c := NewChainedPICs(32, 40)
	if got := c.Masks(); got != 0xbffc {
		t.Fatalf("expected masks 0xbffc; got 0x%x", got)
	}
}

func TestNotifyEndOfInterrupt(t *testing.T) {
	specs := []struct {
		vector       uint8
		expPrimary   int
		expSecondary int
	}{
		{32, 1, 0},
		{33, 1, 0},
		{39, 1, 0},
		{40, 1, 1},
		{47, 1, 1},
		{31, 0, 0},
		{48, 0, 0},
		{0, 0, 0},
	}

	for specIndex, spec := range specs {
		writes, restore := mockPorts(nil)
		c := NewChainedPICs(32, 40)
		c.NotifyEndOfInterrupt(spec.vector)
		restore()

		primary, secondary := countEOIs(*writes)
		if primary != spec.expPrimary || secondary != spec.expSecondary {
			t.Errorf("[spec %d] expected %d primary and %d secondary EOIs; got %d and %d",
				specIndex, spec.expPrimary, spec.expSecondary, primary, secondary)
		}

		if len(*writes) > 0 && spec.expSecondary > 0 && (*writes)[0].port != secondaryCommandPort {
			t.Errorf("[spec %d] expected the secondary controller to be acknowledged first", specIndex)
		}
	}
}

func TestHardwareVectorsAvoidExceptions(t *testing.T) {
	c := NewChainedPICs(PrimaryOffset, SecondaryOffset)

	for vector := 0; vector < gate.NumExceptions; vector++ {
		if c.HandlesInterrupt(uint8(vector)) {
			t.Errorf("expected exception vector %d to not be routed to the PICs", vector)
		}
	}

	if TimerVector == KeyboardVector {
		t.Error("expected timer and keyboard vectors to differ")
	}
	for _, vector := range []gate.InterruptNumber{TimerVector, KeyboardVector} {
		if vector.IsException() || !c.HandlesInterrupt(uint8(vector)) {
			t.Errorf("expected vector %d to be a PIC vector above the exceptions", vector)
		}
	}
}

type mockRegistry map[gate.InterruptNumber]gate.Handler

func (r mockRegistry) HandleInterrupt(num gate.InterruptNumber, handler gate.Handler) *kernel.Error {
	r[num] = handler
	return nil
}

type failingRegistry struct{ err *kernel.Error }

func (r failingRegistry) HandleInterrupt(gate.InterruptNumber, gate.Handler) *kernel.Error {
	return r.err
}

func TestInit(t *testing.T) {
	registry := mockRegistry{}
	if err := Init(registry); err != nil {
		t.Fatal(err)
	}

	for _, vector := range []gate.InterruptNumber{TimerVector, KeyboardVector, 39, 47} {
		if registry[vector] == nil {
			t.Errorf("expected a handler for vector %d", vector)
		}
	}

	expErr := &kernel.Error{Module: "test", Message: "rejected"}
	if err := Init(failingRegistry{expErr}); err != expErr {
		t.Errorf("expected Init to return the registry error; got %v", err)
	}
}

func TestEnable(t *testing.T) {
	writes, restore := mockPorts(nil)
	defer restore()
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	Enable()

	n := len(*writes)
	if n < 2 {
		t.Fatalf("expected mask writes; got %v", *writes)
	}
	if exp := (portWrite{primaryDataPort, 0xfc}); (*writes)[n-2] != exp {
		t.Errorf("expected primary mask write %v; got %v", exp, (*writes)[n-2])
	}
	if exp := (portWrite{secondaryDataPort, 0xff}); (*writes)[n-1] != exp {
		t.Errorf("expected secondary mask write %v; got %v", exp, (*writes)[n-1])
	}

	if exp := "[irq] lines 0-15 mapped to vectors 32-47; timer and keyboard unmasked\n"; buf.String() != exp {
		t.Errorf("expected output %q; got %q", exp, buf.String())
	}
}

func TestTimerHandler(t *testing.T) {
	writes, restore := mockPorts(nil)
	defer restore()

	before := Ticks()
	for i := 0; i < 5; i++ {
		timerHandler(&gate.Registers{Vector: uint64(TimerVector)})
	}

	if got := Ticks() - before; got != 5 {
		t.Errorf("expected 5 ticks; got %d", got)
	}

	// Each firing is acknowledged exactly once on the primary controller
	// so keyboard interrupts keep flowing.
	if primary, secondary := countEOIs(*writes); primary != 5 || secondary != 0 {
		t.Errorf("expected 5 primary EOIs; got %d primary and %d secondary", primary, secondary)
	}
}

func TestKeyboardHandler(t *testing.T) {
	defer func() {
		decoder = keyboard.NewDecoder(keyboard.US104)
	}()

	specs := []struct {
		scanCodes []uint8
		expOutput string
	}{
		{[]uint8{0x23, 0xa3, 0x17}, "hi"},
		{[]uint8{0x2a, 0x23, 0xaa}, "H"},
		// an extended sequence spans two interrupts
		{[]uint8{0xe0, 0x48}, "ArrowUp"},
		{[]uint8{0x3b}, "F1"},
	}

	for specIndex, spec := range specs {
		decoder = keyboard.NewDecoder(keyboard.US104)

		var buf bytes.Buffer
		kfmt.SetOutputSink(&buf)

		reads := map[uint16]uint8{}
		writes, restore := mockPorts(reads)
		for _, code := range spec.scanCodes {
			reads[keyboardDataPort] = code
			keyboardHandler(&gate.Registers{Vector: uint64(KeyboardVector)})
		}
		restore()
		kfmt.SetOutputSink(nil)

		if got := buf.String(); got != spec.expOutput {
			t.Errorf("[spec %d] expected output %q; got %q", specIndex, spec.expOutput, got)
		}

		if primary, secondary := countEOIs(*writes); primary != len(spec.scanCodes) || secondary != 0 {
			t.Errorf("[spec %d] expected one primary EOI per byte; got %d primary and %d secondary", specIndex, primary, secondary)
		}
	}
}

func TestKeyboardHandlerDoesNotAllocate(t *testing.T) {
	defer func() {
		decoder = keyboard.NewDecoder(keyboard.US104)
		portWriteByteFn = cpu.PortWriteByte
		portReadByteFn = cpu.PortReadByte
		kfmt.SetOutputSink(nil)
	}()

	info := boot.FramebufferInfo{
		Buffer:        make([]byte, 320*200*4),
		Width:         320,
		Height:        200,
		Stride:        320,
		BytesPerPixel: 4,
		Format:        boot.FormatRGB,
	}
	var consoles kfmt.Tee
	consoles.Attach(fbterm.New(info))
	kfmt.SetOutputSink(&consoles)

	// Press and release 'a'.
	var (
		scanCodes = [2]uint8{0x1e, 0x9e}
		next      int
	)
	portWriteByteFn = func(uint16, uint8) {}
	portReadByteFn = func(uint16) uint8 {
		code := scanCodes[next%len(scanCodes)]
		next++
		return code
	}
	decoder = keyboard.NewDecoder(keyboard.US104)

	regs := &gate.Registers{Vector: uint64(KeyboardVector)}
	allocs := testing.AllocsPerRun(100, func() {
		keyboardHandler(regs)
		keyboardHandler(regs)
	})

	if allocs != 0 {
		t.Fatalf("expected the keyboard handler to print through the framebuffer terminal without allocating; got %v allocations per keypress", allocs)
	}
}

func TestSpuriousHandler(t *testing.T) {
	specs := []struct {
		vector       gate.InterruptNumber
		isr          map[uint16]uint8
		expPrimary   int
		expSecondary int
		expSpurious  uint64
	}{
		// real IRQ 7
		{39, map[uint16]uint8{primaryCommandPort: 0x80}, 1, 0, 0},
		// spurious IRQ 7
		{39, map[uint16]uint8{}, 0, 0, 1},
		// real IRQ 15
		{47, map[uint16]uint8{secondaryCommandPort: 0x80}, 1, 1, 0},
		// spurious IRQ 15 still acknowledges the cascade on the primary
		{47, map[uint16]uint8{}, 1, 0, 1},
	}

	for specIndex, spec := range specs {
		writes, restore := mockPorts(spec.isr)
		before := SpuriousInterrupts()
		spuriousHandler(&gate.Registers{Vector: uint64(spec.vector)})
		restore()

		if primary, secondary := countEOIs(*writes); primary != spec.expPrimary || secondary != spec.expSecondary {
			t.Errorf("[spec %d] expected %d primary and %d secondary EOIs; got %d and %d",
				specIndex, spec.expPrimary, spec.expSecondary, primary, secondary)
		}

		if got := SpuriousInterrupts() - before; got != spec.expSpurious {
			t.Errorf("[spec %d] expected %d spurious events; got %d", specIndex, spec.expSpurious, got)
		}
	}
}
