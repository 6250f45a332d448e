package asm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/krehermann/gcvm/vm"
)

// Disassemble writes one line per instruction. Bytes that do not decode are
// printed as UNKNOWN and skipped one at a time.
func Disassemble(w io.Writer, code []byte) error {
	pos := 0
	for pos < len(code) {
		d, derr := vm.Decode(code, pos)
		var err error
		switch {
		case errors.Is(derr, vm.ErrUnknownOpcode):
			_, err = fmt.Fprintf(w, "%04d UNKNOWN 0x%02X\n", pos, code[pos])
			pos++
		case derr != nil:
			// operand runs past the end
			_, err = fmt.Fprintf(w, "%04d %s <truncated>\n", pos, d.Instruction)
			pos = len(code)
		case d.HasOperand:
			_, err = fmt.Fprintf(w, "%04d %s %d\n", pos, d.Instruction, d.Operand)
			pos += d.Len
		default:
			_, err = fmt.Fprintf(w, "%04d %s\n", pos, d.Instruction)
			pos += d.Len
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func DisassembleString(code []byte) string {
	var out bytes.Buffer
	_ = Disassemble(&out, code)
	return out.String()
}
