package compile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/krehermann/gcvm/asm"
	"github.com/krehermann/gcvm/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func testLogger(t *testing.T) Opt {
	return WithLogger(zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))
}

func mustAssemble(t *testing.T, src string) []byte {
	t.Helper()
	code, err := asm.AssembleString(src)
	require.NoError(t, err)
	return code
}

// Compiled and interpreted runs of the same program must agree on the
// result and on the fault.
func TestCompile_MatchesInterpreter(t *testing.T) {
	files := []string{
		"push.asm", "pop.asm", "dup.asm", "halt.asm", "add.asm", "sub.asm",
		"mul.asm", "div.asm", "loop.asm", "call.asm", "call2.asm",
		"branching.asm", "memory.asm", "factorial.asm",
		"stack_underflow.asm", "stack_overflow.asm", "mem_oob.asm", "div_zero.asm",
	}
	for _, file := range files {
		t.Run(file, func(t *testing.T) {
			src, err := os.ReadFile(filepath.Join("..", "asm", "testdata", file))
			require.NoError(t, err)
			code := mustAssemble(t, string(src))

			machine, err := vm.NewVM(code, vm.LoggerOpt(zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))))
			require.NoError(t, err)
			wantErr := machine.Run()

			entry, err := Compile(code, testLogger(t))
			require.NoError(t, err)
			got, gotErr := entry()

			assert.Equal(t, machine.Result(), got)
			if wantErr == nil {
				assert.NoError(t, gotErr)
				return
			}
			var want, fault *vm.Fault
			require.ErrorAs(t, wantErr, &want)
			require.ErrorAs(t, gotErr, &fault)
			assert.Equal(t, want.PC, fault.PC)
			assert.Equal(t, want.Instruction, fault.Instruction)
			assert.ErrorIs(t, gotErr, want.Err)
		})
	}
}

func TestCompile_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		code    []byte
		wantErr error
	}{
		{
			name:    "print",
			code:    mustAssemble(t, "PUSH 1\nPRINT"),
			wantErr: ErrUnsupported,
		},
		{
			name:    "input",
			code:    mustAssemble(t, "INPUT"),
			wantErr: ErrUnsupported,
		},
		{
			name:    "alloc",
			code:    mustAssemble(t, "ALLOC 0"),
			wantErr: ErrUnsupported,
		},
		{
			name:    "gc",
			code:    mustAssemble(t, "GC"),
			wantErr: ErrUnsupported,
		},
		{
			name:    "jump into an operand",
			code:    mustAssemble(t, "PUSH 1\nJMP 2"),
			wantErr: ErrBadJump,
		},
		{
			name:    "jump past the end",
			code:    mustAssemble(t, "CALL 100"),
			wantErr: ErrBadJump,
		},
		{
			name:    "unknown opcode",
			code:    []byte{0xEE},
			wantErr: vm.ErrUnknownOpcode,
		},
		{
			name:    "truncated operand",
			code:    []byte{byte(vm.InstructionPush), 1},
			wantErr: vm.ErrTruncatedOperand,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := Compile(tt.code, testLogger(t))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, entry)
		})
	}
}

func TestCompile_JumpToEnd(t *testing.T) {
	code := mustAssemble(t, "PUSH 7\nJMP end\nPUSH 8\nend:")
	entry, err := Compile(code, testLogger(t))
	require.NoError(t, err)

	got, err := entry()
	require.NoError(t, err)
	assert.Equal(t, vm.Result{Top: 7}, got)
}

func TestCompile_StepLimit(t *testing.T) {
	code := mustAssemble(t, "top: JMP top")

	var steps uint64
	entry, err := Compile(code, testLogger(t), WithStepLimit(1000), WithStepCounter(&steps))
	require.NoError(t, err)

	_, err = entry()
	assert.ErrorIs(t, err, ErrStepLimit)
	assert.Equal(t, uint64(1000), steps)
}

func TestCompile_EntryIsReusable(t *testing.T) {
	code := mustAssemble(t, `
		LOAD 0
		PUSH 1
		ADD
		DUP
		STORE 0`)

	var steps uint64
	entry, err := Compile(code, testLogger(t), WithStepCounter(&steps))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := entry()
		require.NoError(t, err)
		// memory starts zeroed on every run
		assert.Equal(t, vm.Result{Top: 1}, got)
		assert.Equal(t, uint64(5), steps)
	}
}

func TestCompile_Config(t *testing.T) {
	cfg := vm.DefaultConfig()
	cfg.ReturnDepth = 2
	code := mustAssemble(t, "f: CALL f")

	entry, err := Compile(code, testLogger(t), WithConfig(cfg))
	require.NoError(t, err)

	_, err = entry()
	assert.ErrorIs(t, err, vm.ErrReturnStackOverflow)

	var fault *vm.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, 0, fault.PC)
	assert.Equal(t, vm.InstructionCall, fault.Instruction)
}
