// Package irq declares the exception-dispatch contract that this module
// consumes. GDT/IDT setup and the actual dispatch from a raw interrupt gate
// to a Go handler are out of scope; the top-level bring-up sequence is
// expected to call HandleException(PageFault, vmm's handler) once the page
// table has installed its recursive self-mapping.
package irq

// ExceptionNum identifies a CPU exception vector.
type ExceptionNum uint8

const (
	// PageFault is raised when a PDT or page-table entry is not present,
	// or when a protection check on an existing mapping fails.
	PageFault = ExceptionNum(14)
)

// Regs is the register/error-code snapshot handed to an exception handler.
// Only ErrCode is consulted by this module; the remaining fields exist so
// that a handler can produce a diagnostic dump on a fatal error.
type Regs struct {
	// ErrCode is the error code the CPU pushes for exceptions that
	// report one. Bit 0 is the present bit: 0 means the fault was
	// caused by an access to a not-present page; 1 means an existing
	// mapping failed a protection check.
	ErrCode uint32

	EAX, EBX, ECX, EDX uint32
	ESI, EDI, EBP, ESP uint32
	EIP                uint32
}

// Present reports whether the faulting page was present, i.e. whether this
// was a protection violation rather than a missing mapping.
func (r *Regs) Present() bool {
	return r.ErrCode&0x1 != 0
}

// ExceptionHandler handles an exception that carries a register snapshot.
type ExceptionHandler func(*Regs)

// HandleException registers handler as the dispatch target for num. Calling
// it a second time for the same vector replaces the previous handler.
func HandleException(num ExceptionNum, handler ExceptionHandler)
