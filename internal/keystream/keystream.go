// Package keystream implements the permutation based byte stream generator
// used to produce shredding data. It is the classic RC4 construction and is
// fast rather than cryptographically strong.
//
// Every call to Fill or XOR walks the permutation starting from indices
// (0,0). Two successive calls therefore do not continue one stream; each
// produces an independent keystream from the permutation left behind by the
// previous call.
package keystream

import (
	"errors"
)

// ErrEmptyKey is returned when key material of length zero is supplied.
var ErrEmptyKey = errors.New("keystream: key must be at least one byte")

// Engine holds a permutation of the 256 byte values.
type Engine struct {
	s [256]byte
}

// New builds the identity permutation and mixes key into it.
func New(key []byte) (*Engine, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	e := &Engine{}
	for i := range e.s {
		e.s[i] = byte(i)
	}
	e.schedule(key)

	return e, nil
}

// Reseed mixes additional key material into the current permutation
// without resetting it to the identity.
func (e *Engine) Reseed(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	e.schedule(key)
	return nil
}

func (e *Engine) schedule(key []byte) {
	var j byte
	for i := 0; i < 256; i++ {
		j += e.s[i] + key[i%len(key)]
		e.s[i], e.s[j] = e.s[j], e.s[i]
	}
}

// Fill overwrites buf with keystream bytes.
func (e *Engine) Fill(buf []byte) {
	var i, j byte
	s := &e.s
	for n := range buf {
		i++
		x := s[i]
		j += x
		y := s[j]
		s[i], s[j] = y, x
		buf[n] = s[x+y]
	}
}

// XOR combines buf in place with keystream bytes.
func (e *Engine) XOR(buf []byte) {
	var i, j byte
	s := &e.s
	for n := range buf {
		i++
		x := s[i]
		j += x
		y := s[j]
		s[i], s[j] = y, x
		buf[n] ^= s[x+y]
	}
}

// Clone returns an independent deep copy of the engine.
func (e *Engine) Clone() *Engine {
	c := *e
	return &c
}

// State returns a copy of the current permutation.
func (e *Engine) State() [256]byte {
	return e.s
}
