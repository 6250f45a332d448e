package vm

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStack(t *testing.T) {
	type args struct {
		opts []StackOpt
	}
	tests := []struct {
		name string
		args args
		want *Stack[int32]
	}{
		{
			name: "default",
			want: &Stack[int32]{
				ptr:   0,
				depth: 1024,
				data:  make([]int32, 1024),
			},
		},
		{
			name: "depth opt",
			args: args{
				[]StackOpt{MaxStack(2)},
			},
			want: &Stack[int32]{
				ptr:   0,
				depth: 2,
				data:  make([]int32, 2),
			},
		},
		{
			name: "negative depth",
			args: args{
				[]StackOpt{MaxStack(-4)},
			},
			want: &Stack[int32]{
				ptr:   0,
				depth: 0,
				data:  make([]int32, 0),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewStack[int32](tt.args.opts...); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NewStack() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStack_Pop(t *testing.T) {
	type fields struct {
		data  []int32
		ptr   int
		depth int
	}
	tests := []struct {
		name      string
		fields    fields
		want      int32
		wantErr   bool
		wantPanic bool
	}{

		{
			name:    "empty",
			wantErr: true,
		},
		{
			name: "start",
			fields: fields{
				data: []int32{1, 7, 9},
				ptr:  1,
			},
			wantErr: false,
			want:    1,
		},
		{
			name: "middle",
			fields: fields{
				data: []int32{2, 7, 9},
				ptr:  2,
			},
			wantErr: false,
			want:    7,
		},
		{
			name: "end",
			fields: fields{
				data: []int32{2, 7, 9},
				ptr:  3,
			},
			wantErr: false,
			want:    9,
		},
		{
			name: "out of range",
			fields: fields{
				data: []int32{2, 7, 9},
				ptr:  4,
			},
			wantPanic: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Stack[int32]{
				data:  tt.fields.data,
				ptr:   tt.fields.ptr,
				depth: tt.fields.depth,
			}
			if tt.wantPanic {
				assert.Panics(t, func() { s.Pop() })
				return
			}
			got, err := s.Pop()
			if (err != nil) != tt.wantErr {
				t.Errorf("Stack.Pop() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Stack.Pop() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStackFunctional(t *testing.T) {
	max := 3
	vals := []int32{0, 2, 4}
	s := NewStack[int32](MaxStack(max))
	for i := 0; i < max; i += 1 {
		assert.NoError(t, s.Push(vals[i]))
		assert.Equal(t, i+1, s.Len())
		assert.Equal(t, max-i-1, s.Room())
	}

	// overflow leaves the stack alone
	assert.ErrorIs(t, s.Push(99), ErrStackOverflow)
	assert.Equal(t, vals, s.Values())

	top, err := s.Peek()
	assert.NoError(t, err)
	assert.Equal(t, int32(4), top)

	// pop all
	for i := 0; i < max; i += 1 {
		l := s.Len()
		assert.Equal(t, l, max-i)
		want := vals[l-1]
		got, err := s.Pop()
		assert.NoError(t, err)
		assert.Equal(t, got, want)
	}

	// underflow
	_, err = s.Pop()
	assert.ErrorIs(t, err, ErrStackUnderflow)
	_, err = s.Peek()
	assert.Error(t, err)

	// reuse
	assert.NoError(t, s.Push(7))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []int32{7}, s.Values())

	s.Reset()
	assert.True(t, s.Empty())
	assert.Equal(t, 3, s.Cap())
}

func TestStack_ReturnAddresses(t *testing.T) {
	s := NewStack[uint32](MaxStack(2))
	assert.NoError(t, s.Push(10))
	assert.NoError(t, s.Push(20))
	assert.ErrorIs(t, s.Push(30), ErrStackOverflow)

	v, err := s.Read(0)
	assert.NoError(t, err)
	assert.Equal(t, uint32(10), v)

	_, err = s.Read(2)
	assert.Error(t, err)
}
