package vm

import (
	"encoding/binary"
	"fmt"
)

// Operand reads the little-endian operand at pos.
func Operand(code []byte, pos int) (int32, error) {
	if pos < 0 || pos+OperandWidth > len(code) {
		return 0, fmt.Errorf("%w: need %d bytes at %d, code is %d bytes",
			ErrTruncatedOperand, OperandWidth, pos, len(code))
	}
	return int32(binary.LittleEndian.Uint32(code[pos:])), nil
}

// PutOperand appends v to code in instruction stream encoding.
func PutOperand(code []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(code, uint32(v))
}

// Decoded is a single instruction pulled out of a byte stream.
type Decoded struct {
	Pos         int
	Instruction Instruction
	Operand     int32
	HasOperand  bool
	// Len includes the opcode byte
	Len int
}

// Decode reads the instruction at pos.
func Decode(code []byte, pos int) (Decoded, error) {
	if pos < 0 || pos >= len(code) {
		return Decoded{}, fmt.Errorf("%w: %d", ErrPCOutOfRange, pos)
	}
	inst := Instruction(code[pos])
	info, ok := Lookup(inst)
	if !ok {
		return Decoded{Pos: pos, Instruction: inst, Len: 1},
			fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, byte(inst))
	}

	d := Decoded{Pos: pos, Instruction: inst, Len: 1 + info.OperandLen}
	if info.OperandLen > 0 {
		v, err := Operand(code, pos+1)
		if err != nil {
			return d, err
		}
		d.Operand = v
		d.HasOperand = true
	}
	return d, nil
}
