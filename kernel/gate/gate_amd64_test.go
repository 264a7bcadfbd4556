package gate

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"unsafe"

	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/cpu"
	"github.com/HalogenPowered/os/kernel/gdt"
	"github.com/HalogenPowered/os/kernel/kfmt"
	"github.com/HalogenPowered/os/kernel/lateinit"
	"github.com/HalogenPowered/os/kernel/sync"
)

var errHalted = &kernel.Error{Module: "test", Message: "cpu halted"}

func TestMain(m *testing.M) {
	// Logging through kfmt toggles the interrupt flag which faults in user
	// mode.
	sync.SetInterruptControl(func() bool { return false }, func() {}, func() {})
	os.Exit(m.Run())
}

// mockHalt makes Halt unwind with errHalted and returns a function that
// restores the original hooks.
func mockHalt() func() {
	haltFn = func() { panic(errHalted) }
	disableInterruptsFn = func() {}

	return func() {
		haltFn = cpu.Halt
		disableInterruptsFn = cpu.DisableInterrupts
	}
}

// captureOutput redirects kfmt output to a buffer.
func captureOutput() (*bytes.Buffer, func()) {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	return &buf, func() { kfmt.SetOutputSink(nil) }
}

func resetTable() {
	active = lateinit.Cell[*Table]{}
	staticTable = Table{}
	entryPointsFn = fillEntryPoints
	selectorsFn = gdt.CurrentSelectors
	loadIDTFn = cpu.LoadIDT
	readCR2Fn = cpu.ReadCR2
	lastFaultRIP, lastFaultAddr, faultRepeats = 0, 0, 0
}

// expectHalt runs fn and reports whether it reached Halt.
func expectHalt(fn func()) (halted bool) {
	defer func() {
		if err := recover(); err != nil {
			if err != errHalted {
				panic(err)
			}
			halted = true
		}
	}()

	fn()
	return false
}

func TestBuildBindsEveryException(t *testing.T) {
	defer resetTable()

	table := Build()
	for num := InterruptNumber(0); num < NumExceptions; num++ {
		entry := table.entries[num]

		bound := 0
		if entry.handler != nil {
			bound++
		}
		if entry.diverging != nil {
			bound++
		}
		if bound != 1 {
			t.Errorf("[vector %d] expected exactly one bound handler; got %d", num, bound)
		}

		expDiverging := num == DoubleFault || num == MachineCheck
		if got := entry.diverging != nil; got != expDiverging {
			t.Errorf("[vector %d] expected diverging to be %t; got %t", num, expDiverging, got)
		}
		if num.IsDiverging() != expDiverging {
			t.Errorf("[vector %d] expected IsDiverging to be %t", num, expDiverging)
		}

		expIST := uint8(0)
		if num == DoubleFault {
			expIST = gdt.DoubleFaultISTIndex + 1
		}
		if entry.ist != expIST {
			t.Errorf("[vector %d] expected IST slot %d; got %d", num, expIST, entry.ist)
		}
	}

	for num := FirstHardwareVector; num <= LastHardwareVector; num++ {
		if entry := table.entries[num]; entry.handler != nil || entry.diverging != nil {
			t.Errorf("[vector %d] expected hardware vector to be unbound", num)
		}
	}
}

func TestVectorInfo(t *testing.T) {
	specs := []struct {
		num          InterruptNumber
		expName      string
		expErrorCode bool
	}{
		{DivideByZero, "divide error", false},
		{Breakpoint, "breakpoint", false},
		{DoubleFault, "double fault", true},
		{GPFException, "general protection fault", true},
		{PageFaultException, "page fault", true},
		{15, "reserved", false},
		{AlignmentCheck, "alignment check", true},
		{MachineCheck, "machine check", false},
		{SecurityException, "security exception", true},
		{FirstHardwareVector, "hardware interrupt", false},
	}

	for specIndex, spec := range specs {
		if got := spec.num.String(); got != spec.expName {
			t.Errorf("[spec %d] expected name %q; got %q", specIndex, spec.expName, got)
		}
		if got := spec.num.HasErrorCode(); got != spec.expErrorCode {
			t.Errorf("[spec %d] expected HasErrorCode to be %t; got %t", specIndex, spec.expErrorCode, got)
		}
	}

	for num := 0; num < NumExceptions; num++ {
		if vectors[num].name == "" {
			t.Errorf("[vector %d] missing vector info", num)
		}
	}
}

func TestHandlerBinding(t *testing.T) {
	defer resetTable()

	table := Build()
	handler := func(*Registers) {}
	diverging := func(*Registers) Unreachable { return Halt() }

	specs := []struct {
		bind   func() *kernel.Error
		expErr *kernel.Error
	}{
		{func() *kernel.Error { return table.HandleInterrupt(32, handler) }, nil},
		{func() *kernel.Error { return table.HandleInterrupt(47, handler) }, nil},
		{func() *kernel.Error { return table.HandleInterrupt(31, handler) }, errNotHardwareVector},
		{func() *kernel.Error { return table.HandleInterrupt(48, handler) }, errNotHardwareVector},
		{func() *kernel.Error { return table.HandleException(Breakpoint, handler) }, nil},
		{func() *kernel.Error { return table.HandleException(DoubleFault, handler) }, errNotResumable},
		{func() *kernel.Error { return table.HandleException(33, handler) }, errNotException},
		{func() *kernel.Error { return table.HandleDivergingException(DoubleFault, diverging) }, nil},
		{func() *kernel.Error { return table.HandleDivergingException(GPFException, diverging) }, errNotDiverging},
	}

	for specIndex, spec := range specs {
		if err := spec.bind(); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}

	if table.entries[DoubleFault].ist != gdt.DoubleFaultISTIndex+1 {
		t.Error("expected replacing the double fault handler to keep the IST slot")
	}
}

func TestEncodeGate(t *testing.T) {
	desc := encodeGate(0xffff800012345678, 0x08, 1)

	if exp := uint64(0x12348e01_0008_5678); desc.low != exp {
		t.Errorf("expected low half 0x%016x; got 0x%016x", exp, desc.low)
	}
	if exp := uint64(0xffff8000); desc.high != exp {
		t.Errorf("expected high half 0x%016x; got 0x%016x", exp, desc.high)
	}

	if got := desc.offset(); got != 0xffff800012345678 {
		t.Errorf("expected offset to round-trip; got 0x%x", got)
	}
	if desc.selector() != 0x08 || desc.stackIndex() != 1 || !desc.present() {
		t.Errorf("unexpected decoded fields: selector 0x%x, ist %d, present %t", desc.selector(), desc.stackIndex(), desc.present())
	}

	if unsafe.Sizeof(gateDescriptor{}) != 16 {
		t.Errorf("expected gate descriptors to be 16 bytes long")
	}
}

func TestLoad(t *testing.T) {
	defer resetTable()
	_, restoreOutput := captureOutput()
	defer restoreOutput()

	entryPointsFn = func(table *[numVectors]uintptr) {
		for i := range table {
			table[i] = 0x100000 + uintptr(i)*16
		}
	}
	selectorsFn = func() gdt.Selectors { return gdt.Selectors{Code: 0x08, Data: 0x10, TSS: 0x18} }

	var loadedAddr uintptr
	loadIDTFn = func(addr uintptr) {
		if !active.IsInitialized() {
			t.Error("expected table to be published before lidt")
		}
		loadedAddr = addr
	}

	table := Build()
	table.Load()

	if loadedAddr != uintptr(unsafe.Pointer(&idtr)) {
		t.Fatal("expected lidt to be invoked with the static IDT register")
	}

	if exp := uint16(numVectors*16 - 1); idtr[0] != exp {
		t.Errorf("expected IDT limit %d; got %d", exp, idtr[0])
	}

	for num := range idt {
		desc := idt[num]
		if exp := 0x100000 + uintptr(num)*16; desc.offset() != exp {
			t.Errorf("[vector %d] expected entry point 0x%x; got 0x%x", num, exp, desc.offset())
		}
		if desc.selector() != 0x08 || !desc.present() {
			t.Errorf("[vector %d] expected a present gate using the kernel code selector", num)
		}

		expIST := uint8(0)
		if InterruptNumber(num) == DoubleFault {
			expIST = 1
		}
		if desc.stackIndex() != expIST {
			t.Errorf("[vector %d] expected IST %d; got %d", num, expIST, desc.stackIndex())
		}
	}

	if err := table.HandleInterrupt(40, func(*Registers) {}); err != errTableLoaded {
		t.Errorf("expected binding after load to fail with errTableLoaded; got %v", err)
	}

	t.Run("build after load", func(t *testing.T) {
		defer func() {
			if err := recover(); err != errTableLoaded {
				t.Errorf("expected Build after Load to panic with errTableLoaded; got %v", err)
			}
		}()
		Build()
	})

	t.Run("second load", func(t *testing.T) {
		defer func() {
			if err := recover(); err != lateinit.ErrAlreadyInitialized {
				t.Errorf("expected a second Load to panic with ErrAlreadyInitialized; got %v", err)
			}
		}()
		table.Load()
	})
}

func installTable(table *Table) {
	active = lateinit.Cell[*Table]{}
	active.Init(table)
}

func TestDispatchResumable(t *testing.T) {
	defer resetTable()

	table := &Table{}
	table.entries[33].handler = func(regs *Registers) {
		regs.RAX = 0xbadf00d
	}
	installTable(table)

	regs := Registers{Vector: 33}
	dispatch(&regs)

	if regs.RAX != 0xbadf00d {
		t.Fatal("expected handler modifications to be visible to the interrupted context")
	}
}

func TestDispatchDivergingHandlerReturns(t *testing.T) {
	defer resetTable()
	defer mockHalt()()
	buf, restoreOutput := captureOutput()
	defer restoreOutput()

	table := &Table{}
	table.entries[DoubleFault].diverging = func(*Registers) Unreachable {
		return Unreachable{}
	}
	installTable(table)

	if !expectHalt(func() { dispatch(&Registers{Vector: uint64(DoubleFault)}) }) {
		t.Fatal("expected dispatcher to halt when a diverging handler returns")
	}

	if exp := "[gate] handler for double fault returned\n"; buf.String() != exp {
		t.Fatalf("expected output %q; got %q", exp, buf.String())
	}
}

func TestDispatchUnbound(t *testing.T) {
	defer resetTable()
	buf, restoreOutput := captureOutput()
	defer restoreOutput()

	installTable(&Table{})
	dispatch(&Registers{Vector: 45})

	if exp := "[gate] no handler bound to vector 45\n"; buf.String() != exp {
		t.Fatalf("expected output %q; got %q", exp, buf.String())
	}
}

func TestDefaultHandlers(t *testing.T) {
	defer resetTable()
	defer mockHalt()()

	installTable(Build())

	specs := []struct {
		regs      Registers
		expHalt   bool
		expOutput string
	}{
		{
			Registers{Vector: uint64(Breakpoint), RIP: 0x1234, CS: 0x8, RSP: 0x5000, SS: 0x10, RFlags: 0x202},
			false,
			"[gate] breakpoint (vector 3)\n" +
				"[gate] RIP = 0000000000001234 CS  = 0000000000000008\n" +
				"[gate] RSP = 0000000000005000 SS  = 0000000000000010\n" +
				"[gate] RFL = 0000000000000202\n",
		},
		{
			Registers{Vector: uint64(GPFException), ErrorCode: 0x18, RIP: 0x10},
			false,
			"[gate] general protection fault (vector 13)\n" +
				"[gate] error code: 0x18\n" +
				"[gate] RIP = 0000000000000010 CS  = 0000000000000000\n" +
				"[gate] RSP = 0000000000000000 SS  = 0000000000000000\n" +
				"[gate] RFL = 0000000000000000\n",
		},
		{
			Registers{Vector: uint64(MachineCheck), RIP: 0x20},
			true,
			"[gate] machine check (vector 18)\n" +
				"[gate] RIP = 0000000000000020 CS  = 0000000000000000\n" +
				"[gate] RSP = 0000000000000000 SS  = 0000000000000000\n" +
				"[gate] RFL = 0000000000000000\n" +
				"[gate] unrecoverable exception; system halted\n",
		},
		{
			Registers{Vector: uint64(DoubleFault), RIP: 0x30},
			true,
			"[gate] double fault (vector 8)\n" +
				"[gate] error code: 0x0\n" +
				"[gate] RIP = 0000000000000030 CS  = 0000000000000000\n" +
				"[gate] RSP = 0000000000000000 SS  = 0000000000000000\n" +
				"[gate] RFL = 0000000000000000\n" +
				"[gate] unrecoverable exception; system halted\n",
		},
	}

	for specIndex, spec := range specs {
		buf, restoreOutput := captureOutput()
		regs := spec.regs
		halted := expectHalt(func() { dispatch(&regs) })
		restoreOutput()

		if halted != spec.expHalt {
			t.Errorf("[spec %d] expected halt to be %t; got %t", specIndex, spec.expHalt, halted)
		}
		if got := buf.String(); got != spec.expOutput {
			t.Errorf("[spec %d] expected output:\n%q\ngot:\n%q", specIndex, spec.expOutput, got)
		}
	}
}

func TestDescribePageFault(t *testing.T) {
	specs := []struct {
		code uint64
		exp  string
	}{
		{0, "page not present, read, kernel mode"},
		{pfProtection | pfWrite, "protection violation, write, kernel mode"},
		{pfUser | pfInstructionFetch, "page not present, read, user mode, instruction fetch"},
		{pfProtection | pfReservedBit | pfProtectionKey | pfShadowStack | pfSGX, "protection violation, read, kernel mode, reserved bit set, protection key, shadow stack, SGX"},
	}

	for specIndex, spec := range specs {
		var buf bytes.Buffer
		describePageFault(&buf, spec.code)
		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestPageFaultHandler(t *testing.T) {
	defer resetTable()
	defer mockHalt()()
	buf, restoreOutput := captureOutput()
	defer restoreOutput()

	readCR2Fn = func() uint64 { return 0xdeadb000 }
	installTable(Build())

	regs := Registers{Vector: uint64(PageFaultException), ErrorCode: pfWrite, RIP: 0x4000}
	if expectHalt(func() { dispatch(&regs) }) {
		t.Fatal("expected the first page fault to resume")
	}

	for _, exp := range []string{
		"[gate] page fault while accessing address: 0x00000000deadb000\n",
		"[gate] reason: page not present, write, kernel mode\n",
		"[gate] page fault (vector 14)\n",
		"[gate] error code: 0x2\n",
		"[gate] RIP = 0000000000004000",
	} {
		if !strings.Contains(buf.String(), exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, buf.String())
		}
	}
}

func TestPageFaultRefaultGuard(t *testing.T) {
	defer resetTable()
	defer mockHalt()()
	_, restoreOutput := captureOutput()
	defer restoreOutput()

	faultAddr := uint64(0x1000)
	readCR2Fn = func() uint64 { return faultAddr }
	installTable(Build())

	fault := func(rip uint64) bool {
		regs := Registers{Vector: uint64(PageFaultException), RIP: rip}
		return expectHalt(func() { dispatch(&regs) })
	}

	for i := 1; i < MaxPageFaultRetries; i++ {
		if fault(0x4000) {
			t.Fatalf("expected fault %d to resume", i)
		}
	}

	// A different address resets the counter.
	faultAddr = 0x2000
	if fault(0x4000) {
		t.Fatal("expected a fault on a different address to resume")
	}
	for i := 2; i < MaxPageFaultRetries; i++ {
		if fault(0x4000) {
			t.Fatalf("expected fault %d to resume", i)
		}
	}

	if !fault(0x4000) {
		t.Fatalf("expected fault %d on the same address to halt", MaxPageFaultRetries)
	}
}

func TestRegistersDumpTo(t *testing.T) {
	regs := Registers{
		RAX: 1,
		RBX: 2,
		RCX: 3,
		RDX: 4,
		RSI: 5,
		RDI: 6,
		RBP: 7,
		R8:  8,
		R9:  9,
		R10: 10,
		R11: 11,
		R12: 12,
		R13: 13,
		R14: 14,
		R15: 15,

		RIP:    16,
		CS:     17,
		RFlags: 18,
		RSP:    19,
		SS:     20,
	}

	var buf bytes.Buffer
	regs.DumpTo(&buf)

	exp := "RAX = 0000000000000001 RBX = 0000000000000002\nRCX = 0000000000000003 RDX = 0000000000000004\nRSI = 0000000000000005 RDI = 0000000000000006\nRBP = 0000000000000007\nR8  = 0000000000000008 R9  = 0000000000000009\nR10 = 000000000000000a R11 = 000000000000000b\nR12 = 000000000000000c R13 = 000000000000000d\nR14 = 000000000000000e R15 = 000000000000000f\n\nRIP = 0000000000000010 CS  = 0000000000000011\nRSP = 0000000000000013 SS  = 0000000000000014\nRFL = 0000000000000012\n"

	if got := buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}
}

func TestRegistersLayout(t *testing.T) {
	// The entry stubs push 15 registers followed by the vector and the
	// error code on top of the CPU frame.
	specs := []struct {
		offset uintptr
		exp    uintptr
	}{
		{unsafe.Offsetof(Registers{}.Vector), 15 * 8},
		{unsafe.Offsetof(Registers{}.ErrorCode), 16 * 8},
		{unsafe.Offsetof(Registers{}.RIP), 17 * 8},
		{unsafe.Offsetof(Registers{}.SS), 21 * 8},
	}

	for specIndex, spec := range specs {
		if spec.offset != spec.exp {
			t.Errorf("[spec %d] expected offset %d; got %d", specIndex, spec.exp, spec.offset)
		}
	}
}
