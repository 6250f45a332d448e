package vm

import (
	"fmt"
	"sort"
	"strings"
)

type Instruction byte

const (
	InstructionPush Instruction = 0x01
	InstructionPop  Instruction = 0x02
	InstructionDup  Instruction = 0x03

	InstructionAdd Instruction = 0x10
	InstructionSub Instruction = 0x11
	InstructionMul Instruction = 0x12
	InstructionDiv Instruction = 0x13
	// a < b
	InstructionCmp Instruction = 0x14

	InstructionJmp Instruction = 0x20
	InstructionJz  Instruction = 0x21
	InstructionJnz Instruction = 0x22

	InstructionStore Instruction = 0x30
	InstructionLoad  Instruction = 0x31

	InstructionCall Instruction = 0x40
	InstructionRet  Instruction = 0x41

	InstructionPrint Instruction = 0x50
	InstructionInput Instruction = 0x51

	InstructionAlloc    Instruction = 0x60
	InstructionGetField Instruction = 0x61
	InstructionSetField Instruction = 0x62
	InstructionCollect  Instruction = 0x63

	InstructionHalt Instruction = 0xFF
)

// OperandWidth is the size of every operand in the instruction stream.
const OperandWidth = 4

type InstructionInfo struct {
	Name string
	// operand bytes following the opcode, 0 or OperandWidth
	OperandLen int
}

var instructionTable = map[Instruction]InstructionInfo{
	InstructionPush: {"PUSH", OperandWidth},
	InstructionPop:  {"POP", 0},
	InstructionDup:  {"DUP", 0},

	InstructionAdd: {"ADD", 0},
	InstructionSub: {"SUB", 0},
	InstructionMul: {"MUL", 0},
	InstructionDiv: {"DIV", 0},
	InstructionCmp: {"CMP", 0},

	InstructionJmp: {"JMP", OperandWidth},
	InstructionJz:  {"JZ", OperandWidth},
	InstructionJnz: {"JNZ", OperandWidth},

	InstructionStore: {"STORE", OperandWidth},
	InstructionLoad:  {"LOAD", OperandWidth},

	InstructionCall: {"CALL", OperandWidth},
	InstructionRet:  {"RET", 0},

	InstructionPrint: {"PRINT", 0},
	InstructionInput: {"INPUT", 0},

	InstructionAlloc:    {"ALLOC", OperandWidth},
	InstructionGetField: {"GETF", OperandWidth},
	InstructionSetField: {"SETF", OperandWidth},
	InstructionCollect:  {"GC", 0},

	InstructionHalt: {"HALT", 0},
}

var instructionNames = func() map[string]Instruction {
	m := make(map[string]Instruction, len(instructionTable))
	for inst, info := range instructionTable {
		m[info.Name] = inst
	}
	return m
}()

func Lookup(inst Instruction) (InstructionInfo, bool) {
	info, ok := instructionTable[inst]
	return info, ok
}

// LookupName finds an instruction by mnemonic, ignoring case.
func LookupName(name string) (Instruction, bool) {
	inst, ok := instructionNames[strings.ToUpper(name)]
	return inst, ok
}

// Instructions lists the instruction set ordered by opcode.
func Instructions() []Instruction {
	out := make([]Instruction, 0, len(instructionTable))
	for inst := range instructionTable {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (i Instruction) String() string {
	if info, ok := instructionTable[i]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(i))
}
