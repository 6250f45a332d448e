package vm

import (
	"fmt"
)

// Memory is the VM's flat word-addressed store. It lives for the whole run
// and is never collected; it only counts as a GC root when the VM is
// configured to scan it.
type Memory struct {
	data []int32
}

func NewMemory(words int) *Memory {
	if words < 0 {
		words = 0
	}
	return &Memory{
		data: make([]int32, words),
	}
}

func (m *Memory) Put(idx int32, v int32) error {
	if err := m.check(idx); err != nil {
		return err
	}
	m.data[idx] = v
	return nil
}

func (m *Memory) Get(idx int32) (int32, error) {
	if err := m.check(idx); err != nil {
		return 0, err
	}
	return m.data[idx], nil
}

func (m *Memory) Size() int {
	return len(m.data)
}

// Words exposes the backing store, used for root scanning.
func (m *Memory) Words() []int32 {
	return m.data
}

func (m *Memory) check(idx int32) error {
	if idx < 0 || int(idx) >= len(m.data) {
		return fmt.Errorf("%w: index %d, size %d", ErrMemoryOutOfBounds, idx, len(m.data))
	}
	return nil
}
