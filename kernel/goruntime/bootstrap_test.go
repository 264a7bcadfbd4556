package goruntime

import (
	"strings"
	"testing"
	"unsafe"

	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/irq"
	"github.com/HalogenPowered/os/kernel/mm/heap"
)

func TestSysReserve(t *testing.T) {
	defer func() {
		reserveFn = heap.Reserve
	}()

	specs := []struct {
		hint    uintptr
		size    uintptr
		retAddr uintptr
		retErr  *kernel.Error
		expPtr  uintptr
	}{
		{0, 4096, 0x4444_4446_0000, nil, 0x4444_4446_0000},
		{0x44c0_0000_0000, 64 << 20, 0x44c0_0000_0000, nil, 0x44c0_0000_0000},
		{0xc0_0000_0000, 64 << 20, 0, heap.ErrAddressSpaceExhausted, 0},
	}

	for specIndex, spec := range specs {
		reserveFn = func(hint, size uintptr) (uintptr, *kernel.Error) {
			if hint != spec.hint || size != spec.size {
				t.Errorf("[spec %d] expected Reserve(0x%x, %d); got Reserve(0x%x, %d)", specIndex, spec.hint, spec.size, hint, size)
			}
			return spec.retAddr, spec.retErr
		}

		if got := uintptr(sysReserve(unsafe.Pointer(spec.hint), spec.size)); got != spec.expPtr {
			t.Errorf("[spec %d] expected sysReserve to return 0x%x; got 0x%x", specIndex, spec.expPtr, got)
		}
	}
}

func TestSysMap(t *testing.T) {
	defer func() {
		mapRangeFn = heap.MapRange
	}()

	t.Run("success", func(t *testing.T) {
		var gotStart, gotSize uintptr
		mapRangeFn = func(start, size uintptr) *kernel.Error {
			gotStart, gotSize = start, size
			return nil
		}

		sysMap(unsafe.Pointer(uintptr(0x44c0_0000_0000)), 8192)

		if gotStart != 0x44c0_0000_0000 || gotSize != 8192 {
			t.Fatalf("expected MapRange(0x44c000000000, 8192); got MapRange(0x%x, %d)", gotStart, gotSize)
		}
	})

	t.Run("map fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "out of frames"}
		mapRangeFn = func(_, _ uintptr) *kernel.Error { return expErr }

		defer func() {
			if err := recover(); err != expErr {
				t.Fatalf("expected sysMap to panic with %v; got %v", expErr, err)
			}
		}()

		sysMap(unsafe.Pointer(uintptr(0x44c0_0000_0000)), 1)
	})
}

func TestSysAlloc(t *testing.T) {
	defer func() {
		reserveFn = heap.Reserve
		mapRangeFn = heap.MapRange
	}()

	var (
		expErr     = &kernel.Error{Module: "test", Message: "failed"}
		regionAddr = uintptr(0x4444_4450_0000)
	)

	specs := []struct {
		reserveErr  *kernel.Error
		mapErr      *kernel.Error
		expPtr      uintptr
		expMapCalls int
	}{
		{nil, nil, regionAddr, 1},
		{expErr, nil, 0, 0},
		{nil, expErr, 0, 1},
	}

	for specIndex, spec := range specs {
		var mapCalls int

		reserveFn = func(hint, size uintptr) (uintptr, *kernel.Error) {
			if hint != 0 || size != 3*4096 {
				t.Errorf("[spec %d] expected Reserve(0, %d); got Reserve(0x%x, %d)", specIndex, 3*4096, hint, size)
			}
			if spec.reserveErr != nil {
				return 0, spec.reserveErr
			}
			return regionAddr, nil
		}
		mapRangeFn = func(start, size uintptr) *kernel.Error {
			mapCalls++
			if start != regionAddr || size != 3*4096 {
				t.Errorf("[spec %d] expected MapRange(0x%x, %d); got MapRange(0x%x, %d)", specIndex, regionAddr, 3*4096, start, size)
			}
			return spec.mapErr
		}

		if got := uintptr(sysAlloc(3 * 4096)); got != spec.expPtr {
			t.Errorf("[spec %d] expected sysAlloc to return 0x%x; got 0x%x", specIndex, spec.expPtr, got)
		}
		if mapCalls != spec.expMapCalls {
			t.Errorf("[spec %d] expected %d MapRange calls; got %d", specIndex, spec.expMapCalls, mapCalls)
		}
	}
}

func TestNanotime(t *testing.T) {
	defer func() {
		ticksFn = irq.Ticks
	}()

	var ticks uint64 = 10
	ticksFn = func() uint64 { return ticks }

	first := nanotime()
	if first < 10*irq.TickPeriodNanos {
		t.Fatalf("expected nanotime to account for 10 ticks; got %d", first)
	}

	second := nanotime()
	if second <= first {
		t.Fatalf("expected nanotime to increase between ticks; got %d then %d", first, second)
	}

	ticks++
	if third := nanotime(); third-second < irq.TickPeriodNanos {
		t.Fatalf("expected a tick to advance nanotime by at least %d; got %d", irq.TickPeriodNanos, third-second)
	}
}

func TestInit(t *testing.T) {
	defer func() {
		mallocInitFn = mallocInit
		algInitFn = algInit
		modulesInitFn = modulesInit
		typeLinksInitFn = typeLinksInit
		itabsInitFn = itabsInit
	}()

	var calls []string
	mallocInitFn = func() { calls = append(calls, "malloc") }
	algInitFn = func() { calls = append(calls, "alg") }
	modulesInitFn = func() { calls = append(calls, "modules") }
	typeLinksInitFn = func() { calls = append(calls, "typelinks") }
	itabsInitFn = func() { calls = append(calls, "itabs") }

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	exp := "malloc alg modules typelinks itabs"
	if got := strings.Join(calls, " "); got != exp {
		t.Fatalf("expected initializers to run as %q; got %q", exp, got)
	}
}
