package compile

import (
	"github.com/krehermann/gcvm/vm"
)

// machine is the state of one compiled run. Stacks are plain slices with
// explicit pointers; the closures index them directly.
type machine struct {
	stack []int32
	sp    int

	returns []uint32
	rp      int

	memory *vm.Memory

	ip     int
	halted bool
	steps  uint64
}

func newMachine(cfg vm.Config) *machine {
	return &machine{
		stack:   make([]int32, max(cfg.StackDepth, 0)),
		returns: make([]uint32, max(cfg.ReturnDepth, 0)),
		memory:  vm.NewMemory(cfg.MemoryWords),
	}
}

func (m *machine) push(v int32) error {
	if m.sp == len(m.stack) {
		return vm.ErrStackOverflow
	}
	m.stack[m.sp] = v
	m.sp++
	return nil
}

func (m *machine) need(n int) error {
	if m.sp < n {
		return vm.ErrStackUnderflow
	}
	return nil
}

func (m *machine) result() vm.Result {
	if m.sp == 0 {
		return vm.Result{Empty: true}
	}
	return vm.Result{Top: m.stack[m.sp-1]}
}
