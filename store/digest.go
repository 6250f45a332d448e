package store

import (
	"crypto/sha256"
	"encoding/hex"
)

const DigestLen = sha256.Size

// Digest identifies bytecode by content. Two programs with the same code
// have the same digest whatever their ids.
type Digest [DigestLen]uint8

func DigestOf(code []byte) Digest {
	return Digest(sha256.Sum256(code))
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
