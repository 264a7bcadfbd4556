// Package lateinit provides a container for global kernel state that can
// only be computed at runtime, such as descriptor tables or the physical
// memory offset reported by the bootloader.
package lateinit

import (
	"sync/atomic"

	"github.com/HalogenPowered/os/kernel"
)

const (
	stateEmpty uint32 = iota
	stateInitializing
	stateReady
	statePoisoned
)

var (
	// ErrAlreadyInitialized is raised when Init is invoked on a cell that
	// already holds (or is receiving) a value.
	ErrAlreadyInitialized = &kernel.Error{Module: "lateinit", Message: "Init called more than once"}

	// ErrNotInitialized is raised when a cell is read before Init.
	ErrNotInitialized = &kernel.Error{Module: "lateinit", Message: "value accessed before initialization"}

	// ErrPoisoned is raised when a cell is read after a second Init attempt.
	ErrPoisoned = &kernel.Error{Module: "lateinit", Message: "value accessed after a duplicate initialization"}
)

// Cell holds a value that is written exactly once and read many times
// afterwards, possibly from interrupt context. The zero value is an empty
// cell ready for use.
//
// Misuse is a programming error: a second Init, or a read before Init,
// panics with one of the errors above.
type Cell[T any] struct {
	state uint32
	value T
}

// Init stores v in the cell. Calling Init more than once poisons the cell
// and panics with ErrAlreadyInitialized.
func (c *Cell[T]) Init(v T) {
	if !atomic.CompareAndSwapUint32(&c.state, stateEmpty, stateInitializing) {
		atomic.StoreUint32(&c.state, statePoisoned)
		panic(ErrAlreadyInitialized)
	}

	c.value = v

	// A concurrent Init may have poisoned the cell in the meantime; in that
	// case the poisoned state wins.
	atomic.CompareAndSwapUint32(&c.state, stateInitializing, stateReady)
}

// IsInitialized returns true if the cell holds a readable value.
func (c *Cell[T]) IsInitialized() bool {
	return atomic.LoadUint32(&c.state) == stateReady
}

// Get returns the stored value.
func (c *Cell[T]) Get() T {
	c.mustBeReady()
	return c.value
}

// Ptr returns a pointer to the stored value so callers can mutate it in
// place. Callers are responsible for synchronizing such mutations.
func (c *Cell[T]) Ptr() *T {
	c.mustBeReady()
	return &c.value
}

func (c *Cell[T]) mustBeReady() {
	switch atomic.LoadUint32(&c.state) {
	case stateReady:
		return
	case statePoisoned:
		panic(ErrPoisoned)
	default:
		panic(ErrNotInitialized)
	}
}
