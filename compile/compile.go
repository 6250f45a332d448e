// Package compile is the alternate execution backend. A program is decoded
// once into a slice of Go closures and jump targets are resolved to slice
// indices ahead of time, so running it skips opcode dispatch and operand
// decoding. Only the arithmetic, control flow and flat memory subset is
// supported; anything else makes Compile fail and the caller is expected to
// fall back to the interpreter.
package compile

import (
	"errors"
	"fmt"

	"github.com/krehermann/gcvm/vm"
	"go.uber.org/zap"
)

var (
	ErrUnsupported = errors.New("instruction not supported by compiler")
	ErrBadJump     = errors.New("jump target is not an instruction boundary")
	ErrStepLimit   = errors.New("step limit exceeded")
)

// Entry runs a compiled program from a fresh state. It can be called any
// number of times.
type Entry func() (vm.Result, error)

type compiler struct {
	cfg     vm.Config
	limit   uint64
	counter *uint64
	logger  *zap.Logger
}

type Opt func(*compiler) *compiler

func WithConfig(c vm.Config) Opt {
	return func(cc *compiler) *compiler {
		cc.cfg = c
		return cc
	}
}

// WithStepLimit stops a run with ErrStepLimit after n instructions. Zero
// means no limit.
func WithStepLimit(n uint64) Opt {
	return func(cc *compiler) *compiler {
		cc.limit = n
		return cc
	}
}

// WithStepCounter receives the number of instructions executed by the most
// recent run.
func WithStepCounter(n *uint64) Opt {
	return func(cc *compiler) *compiler {
		cc.counter = n
		return cc
	}
}

func WithLogger(l *zap.Logger) Opt {
	return func(cc *compiler) *compiler {
		cc.logger = l
		return cc
	}
}

type step struct {
	pos  int
	inst vm.Instruction
	fn   func(m *machine) error
}

type program struct {
	steps []step
	// byte offset to step index, including the end of the code
	index map[int]int
	cfg   vm.Config
}

// Compile translates code. Decode errors, unsupported instructions and
// jumps into the middle of an instruction are reported here rather than
// at run time.
func Compile(code []byte, opts ...Opt) (Entry, error) {
	cc := &compiler{
		cfg:    vm.DefaultConfig(),
		logger: zap.L(),
	}
	for _, opt := range opts {
		cc = opt(cc)
	}
	cc.logger = cc.logger.Named("compile")

	var decoded []vm.Decoded
	for pos := 0; pos < len(code); {
		d, err := vm.Decode(code, pos)
		if err != nil {
			return nil, fmt.Errorf("compile: offset %d: %w", pos, err)
		}
		decoded = append(decoded, d)
		pos += d.Len
	}

	p := &program{
		steps: make([]step, 0, len(decoded)),
		index: make(map[int]int, len(decoded)+1),
		cfg:   cc.cfg,
	}
	for i, d := range decoded {
		p.index[d.Pos] = i
	}
	p.index[len(code)] = len(decoded)

	for _, d := range decoded {
		fn, err := p.translate(d)
		if err != nil {
			return nil, fmt.Errorf("compile: offset %d: %w", d.Pos, err)
		}
		p.steps = append(p.steps, step{pos: d.Pos, inst: d.Instruction, fn: fn})
	}

	cc.logger.Debug("compiled",
		zap.Int("bytes", len(code)),
		zap.Int("steps", len(p.steps)),
	)

	limit, counter := cc.limit, cc.counter
	return func() (vm.Result, error) {
		m := newMachine(p.cfg)
		err := p.run(m, limit)
		if counter != nil {
			*counter = m.steps
		}
		return m.result(), err
	}, nil
}

func (p *program) target(addr int32) (int, error) {
	idx, ok := p.index[int(uint32(addr))]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrBadJump, uint32(addr))
	}
	return idx, nil
}

func (p *program) run(m *machine, limit uint64) error {
	for !m.halted && m.ip < len(p.steps) {
		if limit > 0 && m.steps >= limit {
			return fmt.Errorf("compiled run: %w: %d", ErrStepLimit, limit)
		}
		s := &p.steps[m.ip]
		m.ip++
		m.steps++
		if err := s.fn(m); err != nil {
			m.ip--
			return fmt.Errorf("compiled run: %w", &vm.Fault{PC: s.pos, Instruction: s.inst, Err: err})
		}
	}
	return nil
}

func (p *program) translate(d vm.Decoded) (func(*machine) error, error) {
	v := d.Operand
	next := uint32(d.Pos + d.Len)

	switch d.Instruction {
	case vm.InstructionPush:
		return func(m *machine) error { return m.push(v) }, nil
	case vm.InstructionPop:
		return func(m *machine) error {
			if err := m.need(1); err != nil {
				return err
			}
			m.sp--
			return nil
		}, nil
	case vm.InstructionDup:
		return func(m *machine) error {
			if err := m.need(1); err != nil {
				return err
			}
			return m.push(m.stack[m.sp-1])
		}, nil

	case vm.InstructionAdd:
		return binary(func(a, b int32) (int32, error) { return a + b, nil }), nil
	case vm.InstructionSub:
		return binary(func(a, b int32) (int32, error) { return a - b, nil }), nil
	case vm.InstructionMul:
		return binary(func(a, b int32) (int32, error) { return a * b, nil }), nil
	case vm.InstructionDiv:
		return binary(func(a, b int32) (int32, error) {
			if b == 0 {
				return 0, vm.ErrDivisionByZero
			}
			return a / b, nil
		}), nil
	case vm.InstructionCmp:
		return binary(func(a, b int32) (int32, error) {
			if a < b {
				return 1, nil
			}
			return 0, nil
		}), nil

	case vm.InstructionJmp:
		to, err := p.target(v)
		if err != nil {
			return nil, err
		}
		return func(m *machine) error {
			m.ip = to
			return nil
		}, nil
	case vm.InstructionJz, vm.InstructionJnz:
		to, err := p.target(v)
		if err != nil {
			return nil, err
		}
		onZero := d.Instruction == vm.InstructionJz
		return func(m *machine) error {
			if err := m.need(1); err != nil {
				return err
			}
			m.sp--
			if (m.stack[m.sp] == 0) == onZero {
				m.ip = to
			}
			return nil
		}, nil

	case vm.InstructionStore:
		return func(m *machine) error {
			if err := m.need(1); err != nil {
				return err
			}
			if err := m.memory.Put(v, m.stack[m.sp-1]); err != nil {
				return err
			}
			m.sp--
			return nil
		}, nil
	case vm.InstructionLoad:
		return func(m *machine) error {
			x, err := m.memory.Get(v)
			if err != nil {
				return err
			}
			return m.push(x)
		}, nil

	case vm.InstructionCall:
		to, err := p.target(v)
		if err != nil {
			return nil, err
		}
		return func(m *machine) error {
			if m.rp == len(m.returns) {
				return vm.ErrReturnStackOverflow
			}
			m.returns[m.rp] = next
			m.rp++
			m.ip = to
			return nil
		}, nil
	case vm.InstructionRet:
		return func(m *machine) error {
			if m.rp == 0 {
				return vm.ErrReturnStackUnderflow
			}
			// only CALL writes the return stack, so the address is a boundary
			to, ok := p.index[int(m.returns[m.rp-1])]
			if !ok {
				return fmt.Errorf("%w: return to %d", vm.ErrPCOutOfRange, m.returns[m.rp-1])
			}
			m.rp--
			m.ip = to
			return nil
		}, nil

	case vm.InstructionHalt:
		return func(m *machine) error {
			m.halted = true
			return nil
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupported, d.Instruction)
}

func binary(fn func(a, b int32) (int32, error)) func(*machine) error {
	return func(m *machine) error {
		if err := m.need(2); err != nil {
			return err
		}
		r, err := fn(m.stack[m.sp-2], m.stack[m.sp-1])
		if err != nil {
			return err
		}
		m.sp--
		m.stack[m.sp-1] = r
		return nil
	}
}
