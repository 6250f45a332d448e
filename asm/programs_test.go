package asm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/krehermann/gcvm/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestPrograms(t *testing.T) {
	tests := []struct {
		file    string
		opts    []vm.VMOpt
		want    vm.Result
		wantErr error
	}{
		{file: "push.asm", want: vm.Result{Top: 10}},
		{file: "pop.asm", want: vm.Result{Top: 10}},
		{file: "dup.asm", want: vm.Result{Top: 10}},
		{file: "halt.asm", want: vm.Result{Top: 10}},
		{file: "add.asm", want: vm.Result{Top: 30}},
		{file: "sub.asm", want: vm.Result{Top: 20}},
		{file: "mul.asm", want: vm.Result{Top: 30}},
		{file: "div.asm", want: vm.Result{Top: 10}},
		{file: "loop.asm", want: vm.Result{Top: 0}},
		{file: "call.asm", want: vm.Result{Top: 25}},
		{file: "call2.asm", want: vm.Result{Top: 25}},
		{file: "branching.asm", want: vm.Result{Top: 1}},
		{file: "memory.asm", want: vm.Result{Top: 123}},
		{file: "factorial.asm", want: vm.Result{Top: 120}},
		{file: "gc_stress.asm", want: vm.Result{Top: 0}},
		{file: "list.asm", opts: []vm.VMOpt{vm.ScanMemoryOpt(true)}, want: vm.Result{Top: 6}},
		// without memory roots the collection frees the whole list
		{file: "list.asm", want: vm.Result{Top: 1037}, wantErr: vm.ErrInvalidReference},
		{file: "stack_underflow.asm", want: vm.Result{Empty: true}, wantErr: vm.ErrStackUnderflow},
		{file: "stack_overflow.asm", want: vm.Result{Top: 1}, wantErr: vm.ErrStackOverflow},
		{file: "mem_oob.asm", want: vm.Result{Top: 1}, wantErr: vm.ErrMemoryOutOfBounds},
		{file: "div_zero.asm", want: vm.Result{Top: 0}, wantErr: vm.ErrDivisionByZero},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			f, err := os.Open(filepath.Join("testdata", tt.file))
			require.NoError(t, err)
			defer f.Close()

			code, err := Assemble(f)
			require.NoError(t, err)

			opts := append([]vm.VMOpt{vm.LoggerOpt(zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))}, tt.opts...)
			machine, err := vm.NewVM(code, opts...)
			require.NoError(t, err)

			err = machine.Run()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, machine.Faulted())
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, machine.Result())
		})
	}
}

func TestPrograms_GCStressStats(t *testing.T) {
	code, err := os.ReadFile(filepath.Join("testdata", "gc_stress.asm"))
	require.NoError(t, err)
	bin, err := AssembleString(string(code))
	require.NoError(t, err)

	machine, err := vm.NewVM(bin, vm.LoggerOpt(zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))))
	require.NoError(t, err)
	require.NoError(t, machine.Run())

	st := machine.Heap().Stats()
	assert.Equal(t, 100000, st.Allocations)
	assert.Greater(t, st.Collections, 100)
	assert.LessOrEqual(t, st.PeakWords, machine.Config().HeapWords)
	assert.LessOrEqual(t, st.HighWater, machine.Config().HeapWords)
}
