package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testBase  = 1024
	testWords = 4096
)

func newTestHeap(t *testing.T, opts ...HeapOpt) *Heap {
	opts = append([]HeapOpt{WithLogger(zaptest.NewLogger(t))}, opts...)
	h, err := New(testBase, testWords, opts...)
	require.NoError(t, err)
	return h
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		base    int32
		words   int
		wantErr bool
	}{
		{name: "default sizes", base: 1024, words: 4096},
		{name: "empty arena", base: 0, words: 0},
		{name: "negative base", base: -1, words: 10, wantErr: true},
		{name: "negative words", base: 10, words: -1, wantErr: true},
		{name: "overflows address space", base: 1 << 30, words: 1 << 31, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := New(tt.base, tt.words)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.words, h.Cap())
			assert.Equal(t, tt.base, h.Base())
			assert.Equal(t, 0, h.Len())
		})
	}
}

func TestHeap_AllocateLayout(t *testing.T) {
	h := newTestHeap(t)

	o1, err := h.Allocate(2, 0, 0)
	require.NoError(t, err)
	// first object: header at arena[0], payload right after it
	assert.Equal(t, int32(testBase+HeaderWords), o1)

	hdr, err := h.Header(o1)
	require.NoError(t, err)
	assert.Equal(t, Header{Offset: 0, Size: 2}, hdr)

	o2, err := h.Allocate(2, o1, 0)
	require.NoError(t, err)
	assert.Equal(t, o1+2+HeaderWords, o2)

	v, err := h.Load(o2, 0)
	require.NoError(t, err)
	assert.Equal(t, o1, v)

	assert.Equal(t, []int32{o1, o2}, h.Objects())
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, 10, h.Stats().HighWater)
}

func TestHeap_AllocateInit(t *testing.T) {
	h := newTestHeap(t)

	ref, err := h.Allocate(4, 7, 8)
	require.NoError(t, err)
	for i, want := range []int32{7, 8, 0, 0} {
		got, err := h.Load(ref, i)
		require.NoError(t, err)
		assert.Equal(t, want, got, "field %d", i)
	}

	_, err = h.Allocate(1, 1, 2)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = h.Allocate(-1)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestHeap_Exhausted(t *testing.T) {
	h, err := New(100, 10)
	require.NoError(t, err)

	_, err = h.Allocate(2)
	require.NoError(t, err)
	_, err = h.Allocate(2)
	require.NoError(t, err)

	// 10 words hold exactly two pairs
	_, err = h.Allocate(2)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 2, h.Len())

	// nothing is collected implicitly
	assert.Equal(t, 0, h.Stats().Collections)
}

func TestHeap_LoadStore(t *testing.T) {
	h := newTestHeap(t)
	ref, err := h.Allocate(2)
	require.NoError(t, err)

	assert.NoError(t, h.Store(ref, 1, 42))
	v, err := h.Load(ref, 1)
	assert.NoError(t, err)
	assert.Equal(t, int32(42), v)

	assert.ErrorIs(t, h.Store(ref, 2, 1), ErrFieldOutOfBounds)
	_, err = h.Load(ref, -1)
	assert.ErrorIs(t, err, ErrFieldOutOfBounds)

	// not the start of a payload
	_, err = h.Load(ref+1, 0)
	assert.ErrorIs(t, err, ErrInvalidReference)
	// flat memory range
	_, err = h.Load(5, 0)
	assert.ErrorIs(t, err, ErrInvalidReference)
	// past the bump pointer
	_, err = h.Size(ref + 100)
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestHeap_AddressSeparation(t *testing.T) {
	h := newTestHeap(t)
	for i := 0; i < 100; i++ {
		ref, err := h.Allocate(i % 4)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ref, int32(testBase))
		assert.True(t, h.InRange(ref))
	}
	assert.False(t, h.InRange(testBase-1))
	assert.False(t, h.InRange(0))
	assert.False(t, h.InRange(testBase+testWords))
}

func TestHeap_ReuseExactFit(t *testing.T) {
	h := newTestHeap(t)

	small, err := h.Allocate(1)
	require.NoError(t, err)
	pair, err := h.Allocate(2)
	require.NoError(t, err)

	cs := h.Collect()
	assert.Equal(t, 2, cs.Freed)
	assert.Equal(t, 2, h.FreeBlocks())

	bump := h.Stats().HighWater

	// same size comes back from the free set
	again, err := h.Allocate(2, 9, 9)
	require.NoError(t, err)
	assert.Equal(t, pair, again)
	assert.Equal(t, bump, h.Stats().HighWater)
	assert.Equal(t, 1, h.FreeBlocks())

	// exact fit never hands the pair block to a 1 word request
	// and never hands the 1 word block to a 3 word request
	_, err = h.Allocate(3)
	require.NoError(t, err)
	assert.Greater(t, h.Stats().HighWater, bump)

	one, err := h.Allocate(1)
	require.NoError(t, err)
	assert.Equal(t, small, one)
	assert.Equal(t, 0, h.FreeBlocks())
	assert.Equal(t, 2, h.Stats().Reused)
}

func TestHeap_ReuseBestFit(t *testing.T) {
	h := newTestHeap(t, WithFitPolicy(BestFit))

	big, err := h.Allocate(8)
	require.NoError(t, err)
	mid, err := h.Allocate(4)
	require.NoError(t, err)
	h.Collect()

	ref, err := h.Allocate(3, 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, mid, ref)

	// block keeps its size, tail is zeroed
	size, err := h.Size(ref)
	require.NoError(t, err)
	assert.Equal(t, 4, size)
	v, err := h.Load(ref, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(0), v)

	ref, err = h.Allocate(5)
	require.NoError(t, err)
	assert.Equal(t, big, ref)
}

func TestParseFitPolicy(t *testing.T) {
	p, err := ParseFitPolicy("best")
	assert.NoError(t, err)
	assert.Equal(t, BestFit, p)

	p, err = ParseFitPolicy("")
	assert.NoError(t, err)
	assert.Equal(t, ExactFit, p)
	assert.Equal(t, "exact", p.String())

	_, err = ParseFitPolicy("worst")
	assert.Error(t, err)
}
