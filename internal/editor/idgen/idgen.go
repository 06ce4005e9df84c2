// Package idgen produces identifiers for new element records.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

const Prefix = "el_"

// Generator returns a fresh identifier on every call.
type Generator interface {
	NewID() string
}

// Func adapts a function to Generator.
type Func func() string

func (f Func) NewID() string { return f() }

// UUID generates "el_" followed by a version 7 UUID, so identifiers sort by
// creation time. It falls back to a random UUID if the clock source fails.
type UUID struct{}

func (UUID) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return Prefix + uuid.NewString()
	}
	return Prefix + id.String()
}

// Sequence generates prefix1, prefix2, ... and is meant for tests and
// reproducible CLI runs.
type Sequence struct {
	prefix string
	n      atomic.Uint64
}

func NewSequence(prefix string) *Sequence {
	if prefix == "" {
		prefix = Prefix
	}
	return &Sequence{prefix: prefix}
}

func (s *Sequence) NewID() string {
	return s.prefix + strconv.FormatUint(s.n.Add(1), 10)
}

// Default is the generator used when none is configured.
var Default Generator = UUID{}
