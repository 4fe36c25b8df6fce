package vmm

import "github.com/aayushhyadav/csce-611/kernel/mm/pmm"

// Entry is a 32-bit page-directory or page-table entry: the upper 20 bits
// hold the physical frame number of the target, the lower 12 bits hold
// flags.
type Entry uint32

// Flag is a single bit of a page-directory or page-table entry.
type Flag uint32

const (
	// FlagPresent marks an entry whose frame field is valid.
	FlagPresent Flag = 1 << 0
	// FlagRW marks an entry as writable.
	FlagRW Flag = 1 << 1
	// FlagUser marks an entry as accessible from user mode.
	FlagUser Flag = 1 << 2
)

// Canonical flag combinations used throughout the page table. Naming them
// after their access policy, rather than spelling out the individual bits
// at every call site, matches how the specification itself talks about
// mapping intent.
const (
	// KernelRWPresent is present, writable, supervisor-only: 0b011.
	KernelRWPresent = Entry(FlagPresent | FlagRW)
	// KernelRWAbsent is writable and supervisor-only but not present: 0b010.
	KernelRWAbsent = Entry(FlagRW)
	// UserRAbsent is user-accessible but not present: 0b100.
	UserRAbsent = Entry(FlagUser)
	// UserRWPresent is present, writable and user-accessible: 0b111.
	UserRWPresent = Entry(FlagPresent | FlagRW | FlagUser)
)

const frameMask = 0xFFFFF000

// HasFlags reports whether every bit in flags is set on e.
func (e Entry) HasFlags(flags Flag) bool {
	return uint32(e)&uint32(flags) == uint32(flags)
}

// SetFlags sets every bit in flags on e.
func (e *Entry) SetFlags(flags Flag) {
	*e = Entry(uint32(*e) | uint32(flags))
}

// ClearFlags clears every bit in flags on e.
func (e *Entry) ClearFlags(flags Flag) {
	*e = Entry(uint32(*e) &^ uint32(flags))
}

// Frame returns the physical frame this entry points to.
func (e Entry) Frame() pmm.Frame {
	return pmm.FrameFromAddress(uint32(e) & frameMask)
}

// SetFrame updates the frame field of e, leaving its flags untouched.
func (e *Entry) SetFrame(f pmm.Frame) {
	*e = Entry((uint32(*e) &^ frameMask) | f.Address())
}
