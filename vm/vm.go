package vm

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/krehermann/gcvm/heap"
	"go.uber.org/zap"
)

// Config sizes the VM's storage. One VM owns one heap.
type Config struct {
	StackDepth  int
	ReturnDepth int
	MemoryWords int
	HeapWords   int
	Fit         heap.FitPolicy
	// treat flat memory words as GC roots in addition to the operand stack
	ScanMemory bool
}

func DefaultConfig() Config {
	return Config{
		StackDepth:  256,
		ReturnDepth: 256,
		MemoryWords: 1024,
		HeapWords:   4096,
		Fit:         heap.ExactFit,
	}
}

func (c Config) validate() error {
	switch {
	case c.StackDepth < 0:
		return fmt.Errorf("negative stack depth %d", c.StackDepth)
	case c.ReturnDepth < 0:
		return fmt.Errorf("negative return stack depth %d", c.ReturnDepth)
	case c.MemoryWords < 0 || c.MemoryWords > math.MaxInt32:
		return fmt.Errorf("memory size %d out of range", c.MemoryWords)
	case c.HeapWords < 0:
		return fmt.Errorf("negative heap size %d", c.HeapWords)
	}
	return nil
}

type Result struct {
	Top   int32
	Empty bool
}

func (r Result) String() string {
	if r.Empty {
		return "Stack empty"
	}
	return fmt.Sprintf("Top of stack: %d", r.Top)
}

type VM struct {
	// program bytecode
	code []byte
	// program counter
	pc int

	Stack   *Stack[int32]
	returns *Stack[uint32]
	memory  *Memory
	heap    *heap.Heap

	cfg     Config
	running bool
	fault   *Fault
	steps   uint64

	in     Input
	out    io.Writer
	logger *zap.Logger
}

type VMOpt func(*VM) *VM

func LoggerOpt(l *zap.Logger) VMOpt {
	return func(vm *VM) *VM {
		vm.logger = l
		return vm
	}
}

func ConfigOpt(c Config) VMOpt {
	return func(vm *VM) *VM {
		vm.cfg = c
		return vm
	}
}

func ScanMemoryOpt(scan bool) VMOpt {
	return func(vm *VM) *VM {
		vm.cfg.ScanMemory = scan
		return vm
	}
}

func InputOpt(in Input) VMOpt {
	return func(vm *VM) *VM {
		vm.in = in
		return vm
	}
}

func OutputOpt(w io.Writer) VMOpt {
	return func(vm *VM) *VM {
		vm.out = w
		return vm
	}
}

func NewVM(code []byte, opts ...VMOpt) (*VM, error) {
	vm := &VM{
		code:   code,
		pc:     0,
		cfg:    DefaultConfig(),
		in:     NewScanInput(strings.NewReader("")),
		out:    io.Discard,
		logger: zap.L(),
	}

	for _, opt := range opts {
		vm = opt(vm)
	}

	vm.logger = vm.logger.Named("vm")

	if err := vm.cfg.validate(); err != nil {
		return nil, fmt.Errorf("new vm: %w", err)
	}

	h, err := heap.New(int32(vm.cfg.MemoryWords), vm.cfg.HeapWords,
		heap.WithLogger(vm.logger),
		heap.WithFitPolicy(vm.cfg.Fit),
	)
	if err != nil {
		return nil, fmt.Errorf("new vm: %w", err)
	}

	vm.Stack = NewStack[int32](MaxStack(vm.cfg.StackDepth))
	vm.returns = NewStack[uint32](MaxStack(vm.cfg.ReturnDepth))
	vm.memory = NewMemory(vm.cfg.MemoryWords)
	vm.heap = h
	vm.running = true

	return vm, nil
}

// Run executes until HALT, the end of the code, or a fault.
func (vm *VM) Run() error {
	for vm.running {
		if err := vm.Step(); err != nil {
			return fmt.Errorf("vm run: %w", err)
		}
	}
	if vm.fault != nil {
		return fmt.Errorf("vm run: %w", vm.fault)
	}
	return nil
}

// Step executes a single instruction. Step limits and timeouts are left to
// the caller.
func (vm *VM) Step() error {
	if !vm.running {
		if vm.fault != nil {
			return vm.fault
		}
		return ErrHalted
	}

	// running off the end is a clean stop
	if vm.AtEnd() {
		vm.halt()
		return nil
	}

	pc := vm.pc
	inst := Instruction(vm.code[pc])
	vm.pc++
	vm.steps++

	if ce := vm.logger.Check(zap.DebugLevel, "exec"); ce != nil {
		ce.Write(
			zap.Int("pc", pc),
			zap.Stringer("inst", inst),
			zap.Int("sp", vm.Stack.Len()),
		)
	}

	if err := vm.exec(inst); err != nil {
		return vm.fail(pc, inst, err)
	}
	return nil
}

func (vm *VM) fail(pc int, inst Instruction, err error) error {
	// the faulting instruction is not applied, pc points back at it
	vm.pc = pc
	vm.running = false
	vm.fault = &Fault{PC: pc, Instruction: inst, Err: err}

	vm.logger.Debug("fault",
		zap.Int("pc", pc),
		zap.Stringer("inst", inst),
		zap.Error(err),
	)
	return vm.fault
}

func (vm *VM) halt() {
	vm.running = false
	vm.logger.Debug("halt",
		zap.Int("pc", vm.pc),
		zap.Uint64("steps", vm.steps),
	)
}

// Collect runs the garbage collector with the VM's registers as roots.
func (vm *VM) Collect() heap.CollectStats {
	return vm.collect(nil)
}

func (vm *VM) collect(extra heap.Values) heap.CollectStats {
	roots := []heap.Roots{heap.Values(vm.Stack.Values())}
	if vm.cfg.ScanMemory {
		roots = append(roots, heap.Values(vm.memory.Words()))
	}
	if len(extra) > 0 {
		roots = append(roots, extra)
	}
	return vm.heap.Collect(roots...)
}

// Allocate creates an object holding fields. When the arena is full it
// collects once and retries; running out a second time is ErrHeapExhausted.
// The fields themselves are roots for that collection.
func (vm *VM) Allocate(fields ...int32) (int32, error) {
	ref, err := vm.heap.Allocate(len(fields), fields...)
	if !errors.Is(err, heap.ErrExhausted) {
		return ref, err
	}

	cs := vm.collect(fields)
	vm.logger.Debug("collected on exhaustion",
		zap.Int("freed", cs.Freed),
		zap.Int("live", vm.heap.Len()),
	)

	ref, err = vm.heap.Allocate(len(fields), fields...)
	if errors.Is(err, heap.ErrExhausted) {
		return 0, fmt.Errorf("%w: %d words requested, %d objects live",
			ErrHeapExhausted, len(fields)+heap.HeaderWords, vm.heap.Len())
	}
	return ref, err
}

// Result reports the top of the operand stack.
func (vm *VM) Result() Result {
	top, err := vm.Stack.Peek()
	if err != nil {
		return Result{Empty: true}
	}
	return Result{Top: top}
}

// Err is the fault that stopped the VM, if any.
func (vm *VM) Err() error {
	if vm.fault == nil {
		return nil
	}
	return vm.fault
}

func (vm *VM) Running() bool { return vm.running }
func (vm *VM) Halted() bool { return !vm.running }
func (vm *VM) Faulted() bool { return vm.fault != nil }

func (vm *VM) PC() int { return vm.pc }

// AtEnd reports whether pc sits just past the last instruction.
func (vm *VM) AtEnd() bool { return vm.pc == len(vm.code) }

func (vm *VM) Steps() uint64 { return vm.steps }
func (vm *VM) Config() Config { return vm.cfg }
func (vm *VM) Heap() *heap.Heap { return vm.heap }
func (vm *VM) Memory() *Memory { return vm.memory }
func (vm *VM) ReturnStack() *Stack[uint32] { return vm.returns }
