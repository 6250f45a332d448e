// Package asm turns the VM's assembly language into bytecode and back.
//
// One instruction per line. A ';' starts a comment, "name:" defines a label
// at the current address and may be followed by an instruction on the same
// line. Operands are integers (decimal, 0x hex, 0b binary) or label names.
//
//	    PUSH 10
//	loop:
//	    PUSH 1
//	    SUB
//	    DUP
//	    JNZ loop
//	    HALT
package asm

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/krehermann/gcvm/vm"
)

type Error struct {
	Line int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

type line struct {
	num     int
	labels  []string
	inst    vm.Instruction
	operand string
	hasInst bool
}

// Assemble reads a whole program and returns its bytecode.
func Assemble(r io.Reader) ([]byte, error) {
	lines, err := parse(r)
	if err != nil {
		return nil, err
	}

	// pass 1: label addresses
	labels := map[string]int{}
	addr := 0
	for _, l := range lines {
		for _, name := range l.labels {
			if _, dup := labels[name]; dup {
				return nil, &Error{Line: l.num, Msg: fmt.Sprintf("duplicate label %q", name)}
			}
			labels[name] = addr
		}
		if l.hasInst {
			info, _ := vm.Lookup(l.inst)
			addr += 1 + info.OperandLen
		}
	}

	// pass 2: emit
	code := make([]byte, 0, addr)
	for _, l := range lines {
		if !l.hasInst {
			continue
		}
		code = append(code, byte(l.inst))
		info, _ := vm.Lookup(l.inst)
		if info.OperandLen == 0 {
			continue
		}
		v, err := resolve(l, labels)
		if err != nil {
			return nil, err
		}
		code = vm.PutOperand(code, v)
	}
	return code, nil
}

// AssembleString is Assemble for in-memory sources.
func AssembleString(src string) ([]byte, error) {
	return Assemble(strings.NewReader(src))
}

func parse(r io.Reader) ([]line, error) {
	var out []line
	sc := bufio.NewScanner(r)
	num := 0
	for sc.Scan() {
		num++
		text := sc.Text()
		if i := strings.IndexByte(text, ';'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}

		l := line{num: num}
		for len(fields) > 0 && strings.HasSuffix(fields[0], ":") {
			name := strings.TrimSuffix(fields[0], ":")
			if !validLabel(name) {
				return nil, &Error{Line: num, Msg: fmt.Sprintf("invalid label %q", name)}
			}
			l.labels = append(l.labels, name)
			fields = fields[1:]
		}

		if len(fields) > 0 {
			inst, ok := vm.LookupName(fields[0])
			if !ok {
				return nil, &Error{Line: num, Msg: fmt.Sprintf("unknown instruction %q", fields[0])}
			}
			info, _ := vm.Lookup(inst)
			switch {
			case info.OperandLen > 0 && len(fields) < 2:
				return nil, &Error{Line: num, Msg: fmt.Sprintf("%s needs an operand", info.Name)}
			case info.OperandLen == 0 && len(fields) > 1:
				return nil, &Error{Line: num, Msg: fmt.Sprintf("%s takes no operand", info.Name)}
			case len(fields) > 2:
				return nil, &Error{Line: num, Msg: fmt.Sprintf("unexpected %q after operand", fields[2])}
			}
			l.inst = inst
			l.hasInst = true
			if len(fields) == 2 {
				l.operand = fields[1]
			}
		}
		out = append(out, l)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return out, nil
}

func resolve(l line, labels map[string]int) (int32, error) {
	if addr, ok := labels[l.operand]; ok {
		return int32(addr), nil
	}
	if validLabel(l.operand) {
		return 0, &Error{Line: l.num, Msg: fmt.Sprintf("undefined label %q", l.operand)}
	}

	v, err := strconv.ParseInt(l.operand, 0, 64)
	if err != nil {
		return 0, &Error{Line: l.num, Msg: fmt.Sprintf("bad operand %q", l.operand)}
	}
	// addresses are unsigned, everything else is signed
	if v < math.MinInt32 || v > math.MaxUint32 {
		return 0, &Error{Line: l.num, Msg: fmt.Sprintf("operand %d does not fit in 32 bits", v)}
	}
	return int32(uint32(v)), nil
}

func validLabel(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
