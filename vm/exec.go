package vm

import (
	"fmt"

	"go.uber.org/zap"
)

// exec runs inst with pc already past the opcode byte. Every check happens
// before the first write, so a returned error means nothing was applied.
func (vm *VM) exec(inst Instruction) error {
	switch inst {
	case InstructionPush:
		v, err := vm.operand()
		if err != nil {
			return err
		}
		return vm.Stack.Push(v)

	case InstructionPop:
		_, err := vm.Stack.Pop()
		return err

	case InstructionDup:
		if err := vm.need(1); err != nil {
			return err
		}
		return vm.Stack.Push(vm.Stack.top(0))

	case InstructionAdd:
		return vm.binary(func(a, b int32) (int32, error) { return a + b, nil })
	case InstructionSub:
		return vm.binary(func(a, b int32) (int32, error) { return a - b, nil })
	case InstructionMul:
		return vm.binary(func(a, b int32) (int32, error) { return a * b, nil })
	case InstructionDiv:
		return vm.binary(func(a, b int32) (int32, error) {
			if b == 0 {
				return 0, ErrDivisionByZero
			}
			return a / b, nil
		})
	case InstructionCmp:
		return vm.binary(func(a, b int32) (int32, error) {
			if a < b {
				return 1, nil
			}
			return 0, nil
		})

	case InstructionJmp:
		addr, err := vm.operand()
		if err != nil {
			return err
		}
		return vm.jump(addr)

	case InstructionJz, InstructionJnz:
		addr, err := vm.operand()
		if err != nil {
			return err
		}
		if err := vm.need(1); err != nil {
			return err
		}
		v := vm.Stack.top(0)
		if (v == 0) == (inst == InstructionJz) {
			if err := vm.jump(addr); err != nil {
				return err
			}
		}
		vm.Stack.drop(1)
		return nil

	case InstructionStore:
		idx, err := vm.operand()
		if err != nil {
			return err
		}
		if err := vm.need(1); err != nil {
			return err
		}
		if err := vm.memory.Put(idx, vm.Stack.top(0)); err != nil {
			return err
		}
		vm.Stack.drop(1)
		return nil

	case InstructionLoad:
		idx, err := vm.operand()
		if err != nil {
			return err
		}
		v, err := vm.memory.Get(idx)
		if err != nil {
			return err
		}
		return vm.Stack.Push(v)

	case InstructionCall:
		addr, err := vm.operand()
		if err != nil {
			return err
		}
		if vm.returns.Room() < 1 {
			return ErrReturnStackOverflow
		}
		ret := uint32(vm.pc)
		if err := vm.jump(addr); err != nil {
			return err
		}
		return vm.returns.Push(ret)

	case InstructionRet:
		if vm.returns.Empty() {
			return ErrReturnStackUnderflow
		}
		ret := vm.returns.top(0)
		if err := vm.jump(int32(ret)); err != nil {
			return err
		}
		vm.returns.drop(1)
		return nil

	case InstructionPrint:
		if err := vm.need(1); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(vm.out, vm.Stack.top(0)); err != nil {
			return fmt.Errorf("%w: %v", ErrOutput, err)
		}
		vm.Stack.drop(1)
		return nil

	case InstructionInput:
		if vm.Stack.Room() < 1 {
			return ErrStackOverflow
		}
		v, err := vm.in.ReadInt()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		return vm.Stack.Push(v)

	case InstructionAlloc:
		n, err := vm.operand()
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: ALLOC %d", ErrInvalidOperand, n)
		}
		if err := vm.need(int(n)); err != nil {
			return err
		}
		if n == 0 && vm.Stack.Room() < 1 {
			return ErrStackOverflow
		}
		// fields stay on the stack, and so stay rooted, until the object exists
		vals := vm.Stack.Values()
		ref, err := vm.Allocate(vals[len(vals)-int(n):]...)
		if err != nil {
			return err
		}
		vm.Stack.drop(int(n))
		return vm.Stack.Push(ref)

	case InstructionGetField:
		idx, err := vm.operand()
		if err != nil {
			return err
		}
		if err := vm.need(1); err != nil {
			return err
		}
		v, err := vm.heap.Load(vm.Stack.top(0), int(idx))
		if err != nil {
			return err
		}
		vm.Stack.drop(1)
		return vm.Stack.Push(v)

	case InstructionSetField:
		idx, err := vm.operand()
		if err != nil {
			return err
		}
		if err := vm.need(2); err != nil {
			return err
		}
		if err := vm.heap.Store(vm.Stack.top(1), int(idx), vm.Stack.top(0)); err != nil {
			return err
		}
		vm.Stack.drop(2)
		return nil

	case InstructionCollect:
		cs := vm.Collect()
		vm.logger.Debug("gc",
			zap.Int("freed", cs.Freed),
			zap.Int("live", vm.heap.Len()),
		)
		return nil

	case InstructionHalt:
		vm.halt()
		return nil
	}

	return fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, byte(inst))
}

func (vm *VM) operand() (int32, error) {
	v, err := Operand(vm.code, vm.pc)
	if err != nil {
		return 0, err
	}
	vm.pc += OperandWidth
	return v, nil
}

func (vm *VM) need(n int) error {
	if vm.Stack.Len() < n {
		return ErrStackUnderflow
	}
	return nil
}

// binary pops b then a and pushes fn(a, b).
func (vm *VM) binary(fn func(a, b int32) (int32, error)) error {
	if err := vm.need(2); err != nil {
		return err
	}
	r, err := fn(vm.Stack.top(1), vm.Stack.top(0))
	if err != nil {
		return err
	}
	vm.Stack.drop(2)
	return vm.Stack.Push(r)
}

// jump treats addr as unsigned; the end of the code is a valid target.
func (vm *VM) jump(addr int32) error {
	target := int64(uint32(addr))
	if target > int64(len(vm.code)) {
		return fmt.Errorf("%w: jump to %d, code is %d bytes", ErrPCOutOfRange, target, len(vm.code))
	}
	vm.pc = int(target)
	return nil
}
