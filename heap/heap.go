// Package heap is a fixed-size word arena holding the VM's objects.
//
// Objects are addressed by plain int32 values. The arena is mapped directly
// after the VM's flat memory, so an object's address is
//
//	base + header offset + HeaderWords
//
// and every address is >= base. The heap never collects on its own;
// Allocate reports ErrExhausted and the caller decides when to Collect.
package heap

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// HeaderWords is the per-object overhead in the arena.
const HeaderWords = 3

// header word offsets
const (
	hdrSize = 0
	// index of the header in the allocated set, -1 while on the free set
	hdrSlot = 1
	hdrMark = 2
)

var (
	ErrExhausted        = errors.New("heap exhausted")
	ErrInvalidReference = errors.New("invalid heap reference")
	ErrFieldOutOfBounds = errors.New("field index out of bounds")
	ErrInvalidSize      = errors.New("invalid object size")
)

type FitPolicy int

const (
	// ExactFit only reuses reclaimed blocks with the same payload size.
	ExactFit FitPolicy = iota
	// BestFit reuses the smallest reclaimed block at least as large as
	// the request. Blocks are not split.
	BestFit
)

func (p FitPolicy) String() string {
	switch p {
	case ExactFit:
		return "exact"
	case BestFit:
		return "best"
	}
	return fmt.Sprintf("FitPolicy(%d)", int(p))
}

func ParseFitPolicy(s string) (FitPolicy, error) {
	switch s {
	case "", "exact":
		return ExactFit, nil
	case "best":
		return BestFit, nil
	}
	return ExactFit, fmt.Errorf("unknown fit policy %q", s)
}

// Header is a read-only view of an object's header.
type Header struct {
	Offset int
	Size   int
	Marked bool
}

type Heap struct {
	arena   []int32
	base    int32
	freePtr int

	// allocated set: header offsets of live objects
	live []int
	// free set: reclaimed header offsets keyed by payload size
	free      map[int][]int
	freeCount int

	fit  FitPolicy
	work []int

	stats  Stats
	logger *zap.Logger
}

type HeapOpt func(*Heap) *Heap

func WithLogger(l *zap.Logger) HeapOpt {
	return func(h *Heap) *Heap {
		h.logger = l
		return h
	}
}

func WithFitPolicy(p FitPolicy) HeapOpt {
	return func(h *Heap) *Heap {
		h.fit = p
		return h
	}
}

// New creates a heap of words int32 words whose addresses start at base.
func New(base int32, words int, opts ...HeapOpt) (*Heap, error) {
	if base < 0 {
		return nil, fmt.Errorf("new heap: negative base %d", base)
	}
	if words < 0 {
		return nil, fmt.Errorf("new heap: negative size %d", words)
	}
	if int64(base)+int64(words) > math.MaxInt32 {
		return nil, fmt.Errorf("new heap: base %d + %d words overflows the 32-bit address space", base, words)
	}

	h := &Heap{
		arena:  make([]int32, words),
		base:   base,
		live:   make([]int, 0, 64),
		free:   make(map[int][]int),
		fit:    ExactFit,
		logger: zap.L(),
	}
	for _, opt := range opts {
		h = opt(h)
	}
	h.logger = h.logger.Named("heap")

	return h, nil
}

// Base is the lowest address the heap can hand out (minus the header).
func (h *Heap) Base() int32 {
	return h.base
}

// Cap is the arena size in words.
func (h *Heap) Cap() int {
	return len(h.arena)
}

// Len is the number of allocated objects.
func (h *Heap) Len() int {
	return len(h.live)
}

// FreeBlocks is the number of reclaimed blocks waiting for reuse.
func (h *Heap) FreeBlocks() int {
	return h.freeCount
}

// InRange reports whether v falls in the heap's address range. It says
// nothing about whether an object lives there.
func (h *Heap) InRange(v int32) bool {
	return int64(v) >= int64(h.base) && int64(v) < int64(h.base)+int64(len(h.arena))
}

// Contains reports whether ref is the address of an allocated object.
func (h *Heap) Contains(ref int32) bool {
	_, ok := h.lookup(ref)
	return ok
}

// Allocate reserves an object with size payload words, copies init into the
// leading payload words and zeroes the rest.
func (h *Heap) Allocate(size int, init ...int32) (int32, error) {
	if size < 0 || len(init) > size {
		return 0, fmt.Errorf("%w: size %d with %d initial values", ErrInvalidSize, size, len(init))
	}

	off, reused := h.takeFree(size)
	if !reused {
		need := size + HeaderWords
		if need > len(h.arena)-h.freePtr {
			return 0, ErrExhausted
		}
		off = h.freePtr
		h.freePtr += need
		h.arena[off+hdrSize] = int32(size)
		h.stats.HighWater = max(h.stats.HighWater, h.freePtr)
	}

	h.arena[off+hdrSlot] = int32(len(h.live))
	h.arena[off+hdrMark] = 0
	h.live = append(h.live, off)

	payload := h.payload(off)
	n := copy(payload, init)
	clear(payload[n:])

	h.stats.Allocations++
	h.stats.LiveWords += len(payload) + HeaderWords
	h.stats.PeakWords = max(h.stats.PeakWords, h.stats.LiveWords)

	return h.address(off), nil
}

// takeFree unlinks a reusable block from the free set.
func (h *Heap) takeFree(size int) (int, bool) {
	bucket := size
	if len(h.free[bucket]) == 0 {
		if h.fit != BestFit {
			return 0, false
		}
		bucket = -1
		for s, blocks := range h.free {
			if s >= size && len(blocks) > 0 && (bucket < 0 || s < bucket) {
				bucket = s
			}
		}
		if bucket < 0 {
			return 0, false
		}
	}

	blocks := h.free[bucket]
	off := blocks[len(blocks)-1]
	if len(blocks) == 1 {
		delete(h.free, bucket)
	} else {
		h.free[bucket] = blocks[:len(blocks)-1]
	}
	h.freeCount--
	h.stats.Reused++
	return off, true
}

func (h *Heap) Load(ref int32, field int) (int32, error) {
	off, err := h.resolve(ref)
	if err != nil {
		return 0, err
	}
	payload := h.payload(off)
	if field < 0 || field >= len(payload) {
		return 0, fmt.Errorf("%w: field %d of %d", ErrFieldOutOfBounds, field, len(payload))
	}
	return payload[field], nil
}

func (h *Heap) Store(ref int32, field int, v int32) error {
	off, err := h.resolve(ref)
	if err != nil {
		return err
	}
	payload := h.payload(off)
	if field < 0 || field >= len(payload) {
		return fmt.Errorf("%w: field %d of %d", ErrFieldOutOfBounds, field, len(payload))
	}
	payload[field] = v
	return nil
}

// Size returns the payload size of the object at ref.
func (h *Heap) Size(ref int32) (int, error) {
	off, err := h.resolve(ref)
	if err != nil {
		return 0, err
	}
	return int(h.arena[off+hdrSize]), nil
}

func (h *Heap) Header(ref int32) (Header, error) {
	off, err := h.resolve(ref)
	if err != nil {
		return Header{}, err
	}
	return Header{
		Offset: off,
		Size:   int(h.arena[off+hdrSize]),
		Marked: h.arena[off+hdrMark] != 0,
	}, nil
}

// Objects returns the addresses of all allocated objects in allocated-set
// order.
func (h *Heap) Objects() []int32 {
	out := make([]int32, len(h.live))
	for i, off := range h.live {
		out[i] = h.address(off)
	}
	return out
}

func (h *Heap) Stats() Stats {
	return h.stats
}

func (h *Heap) resolve(ref int32) (int, error) {
	off, ok := h.lookup(ref)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrInvalidReference, ref)
	}
	return off, nil
}

// lookup maps an address to the header offset of the allocated object whose
// payload starts there.
func (h *Heap) lookup(ref int32) (int, bool) {
	off := int(int64(ref) - int64(h.base) - HeaderWords)
	if off < 0 || off+HeaderWords > h.freePtr {
		return 0, false
	}
	slot := int(h.arena[off+hdrSlot])
	if slot < 0 || slot >= len(h.live) || h.live[slot] != off {
		return 0, false
	}
	return off, true
}

func (h *Heap) payload(off int) []int32 {
	start := off + HeaderWords
	return h.arena[start : start+int(h.arena[off+hdrSize])]
}

func (h *Heap) address(off int) int32 {
	return h.base + int32(off+HeaderWords)
}
