package kernel

import (
	"github.com/aayushhyadav/csce-611/kernel/console"
	"github.com/aayushhyadav/csce-611/kernel/cpu"
)

var (
	// haltFn is mocked by tests and is automatically inlined by the compiler
	// when compiling the kernel proper.
	haltFn = cpu.Halt
)

// Panic prints a diagnostic for err (if not nil) and halts the CPU forever.
// Every fatal assertion described by the specification (insufficient frames,
// a faulting address outside every registered pool, ...) routes through this
// function instead of unwinding a Go panic, since there is nothing above the
// kernel to recover into.
func Panic(err *Error) {
	console.Puts("\n-----------------------------------\n")
	if err != nil {
		console.Puts("[")
		console.Puts(err.Module)
		console.Puts("] unrecoverable error: ")
		console.Puts(err.Message)
		console.Puts("\n")
	} else {
		console.Puts("unrecoverable error\n")
	}
	console.Puts("*** kernel panic: system halted ***\n")
	console.Puts("-----------------------------------\n")

	// Halt never returns on real hardware; it is called once rather than in
	// a loop so that test doubles for haltFn can observe a single call.
	haltFn()
}

// PanicOnCondition calls Panic with err when cond is true. It is the
// idiomatic equivalent of the assert(...) calls used by the original
// implementation to enforce invariants such as "enough free frames" or
// "frame is the head of a sequence".
func PanicOnCondition(cond bool, err *Error) {
	if cond {
		Panic(err)
	}
}
