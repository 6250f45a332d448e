package vm

import (
	"errors"
	"fmt"
)

var (
	ErrStackOverflow  = errors.New("stack overflow")
	ErrStackUnderflow = errors.New("stack underflow")
)

// Stack is a bounded stack. It is not safe for concurrent use; a VM owns
// its stacks.
type Stack[T any] struct {
	data []T
	// ptr is the next write slot
	ptr int

	depth int
}

type stackConfig struct {
	depth int
}

type StackOpt func(*stackConfig)

func MaxStack(max int) StackOpt {
	return func(c *stackConfig) {
		c.depth = max
	}
}

func NewStack[T any](opts ...StackOpt) *Stack[T] {
	c := &stackConfig{depth: 1024}
	for _, opt := range opts {
		opt(c)
	}
	if c.depth < 0 {
		c.depth = 0
	}
	return &Stack[T]{
		ptr:   0,
		depth: c.depth,
		data:  make([]T, c.depth),
	}
}

func (s *Stack[T]) Push(v T) error {
	if s.ptr == s.depth {
		return ErrStackOverflow
	}
	s.data[s.ptr] = v
	s.ptr += 1
	return nil
}

func (s *Stack[T]) Pop() (T, error) {
	if s.Empty() {
		var zero T
		return zero, ErrStackUnderflow
	}
	// ptr is at the next write slot, one ahead of the read slot
	v := s.data[s.ptr-1]
	s.ptr -= 1
	return v, nil
}

func (s *Stack[T]) Empty() bool {
	return s.ptr == 0
}

func (s *Stack[T]) Len() int {
	return s.ptr
}

func (s *Stack[T]) Cap() int {
	return s.depth
}

// Room is the number of pushes left before overflow.
func (s *Stack[T]) Room() int {
	return s.depth - s.ptr
}

func (s *Stack[T]) Peek() (T, error) {
	return s.Read(s.Len() - 1)
}

// Read returns the value at pos, counted from the bottom.
func (s *Stack[T]) Read(pos int) (T, error) {
	if pos >= s.Len() || pos < 0 {
		var zero T
		return zero, fmt.Errorf("read out of range len %d, pos %d", s.Len(), pos)
	}
	return s.data[pos], nil
}

// Values is the live portion of the stack, bottom first. The slice aliases
// the stack and is only valid until the next push or pop.
func (s *Stack[T]) Values() []T {
	return s.data[:s.ptr]
}

func (s *Stack[T]) Reset() {
	clear(s.data[:s.ptr])
	s.ptr = 0
}

// top returns the value n slots below the top without bounds checks;
// callers check Len first.
func (s *Stack[T]) top(n int) T {
	return s.data[s.ptr-1-n]
}

func (s *Stack[T]) drop(n int) {
	s.ptr -= n
}
