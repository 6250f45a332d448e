package vm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// Input is where INPUT gets its integers from.
type Input interface {
	ReadInt() (int32, error)
}

// ScanInput reads whitespace separated decimal integers.
type ScanInput struct {
	sc *bufio.Scanner
}

func NewScanInput(r io.Reader) *ScanInput {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	return &ScanInput{sc: sc}
}

func (in *ScanInput) ReadInt() (int32, error) {
	if !in.sc.Scan() {
		if err := in.sc.Err(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	tok := in.sc.Text()
	v, err := strconv.ParseInt(tok, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not a 32-bit integer: %q", tok)
	}
	return int32(v), nil
}
