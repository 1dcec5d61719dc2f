// Package isolation owns the sandboxed execution of plugin bytecode:
// module compilation, instantiation, the guest ABI, and resource
// metering.
package isolation

import (
	"fmt"
	"time"
)

// CompilationError indicates the bytecode failed to compile.
type CompilationError struct {
	Plugin string
	Cause  error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compilation failed for %s: %v", e.Plugin, e.Cause)
}

func (e *CompilationError) Unwrap() error { return e.Cause }

// InstantiationError indicates a compiled module failed to instantiate.
type InstantiationError struct {
	Plugin string
	Cause  error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("instantiation failed for %s: %v", e.Plugin, e.Cause)
}

func (e *InstantiationError) Unwrap() error { return e.Cause }

// MemoryAccessError indicates a read or write outside the sandbox's
// linear memory.
type MemoryAccessError struct {
	Offset uint32
	Length uint32
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("memory access out of bounds: offset %d length %d", e.Offset, e.Length)
}

// TrapError indicates the sandbox trapped during execution.
type TrapError struct {
	Detail string
}

func (e *TrapError) Error() string {
	return "execution trap: " + e.Detail
}

// TimeoutError indicates a call exceeded its wall-clock budget.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("plugin call timed out after %dms", e.Elapsed.Milliseconds())
}

// OutOfFuelError indicates the call's fuel budget was exhausted.
type OutOfFuelError struct{}

func (e *OutOfFuelError) Error() string {
	return "plugin call ran out of fuel"
}

// FunctionNotFoundError indicates the module does not export the
// requested function.
type FunctionNotFoundError struct {
	Function string
}

func (e *FunctionNotFoundError) Error() string {
	return "function not found: " + e.Function
}
