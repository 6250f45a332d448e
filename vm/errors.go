package vm

import (
	"errors"
	"fmt"

	"github.com/krehermann/gcvm/heap"
)

var (
	ErrReturnStackOverflow  = errors.New("return stack overflow")
	ErrReturnStackUnderflow = errors.New("return stack underflow")
	ErrMemoryOutOfBounds    = errors.New("memory access out of bounds")
	ErrDivisionByZero       = errors.New("division by zero")
	ErrUnknownOpcode        = errors.New("unknown opcode")
	ErrMalformedInput       = errors.New("malformed input")
	ErrHeapExhausted        = errors.New("heap exhausted")
	ErrTruncatedOperand     = errors.New("truncated operand")
	ErrPCOutOfRange         = errors.New("program counter out of range")
	ErrInvalidOperand       = errors.New("invalid operand")
	ErrOutput               = errors.New("output failed")
	ErrHalted               = errors.New("vm halted")

	ErrInvalidReference = heap.ErrInvalidReference
	ErrFieldOutOfBounds = heap.ErrFieldOutOfBounds
)

// Fault records why a run stopped early. The VM state is left as it was
// before the faulting instruction, with PC pointing at it.
type Fault struct {
	PC          int
	Instruction Instruction
	Err         error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s (pc %d, %s)", f.Err, f.PC, f.Instruction)
}

func (f *Fault) Unwrap() error {
	return f.Err
}
