// Package cpu declares the register-access primitives that this module
// consumes but does not implement. GDT/IDT setup, interrupt dispatch and the
// actual CR0/CR2/CR3 accessors are out of scope for the memory-management
// core (see the specification's Purpose & Scope); on real hardware these
// symbols are provided by the assembly trampoline that boots the kernel.
package cpu

// ReadCR0 returns the current value of control register 0. Bit 31 reports
// whether paging is enabled.
func ReadCR0() uint32

// WriteCR0 installs a new value for control register 0.
func WriteCR0(value uint32)

// ReadCR2 returns the linear address that caused the most recent page fault.
func ReadCR2() uint32

// WriteCR3 installs the physical address of the active page directory.
func WriteCR3(physAddr uint32)

// EnableInterrupts unmasks maskable interrupts.
func EnableInterrupts()

// DisableInterrupts masks maskable interrupts.
func DisableInterrupts()

// Halt stops instruction execution; it does not return.
func Halt()
