package crdt

import (
	"bytes"
	"errors"

	"github.com/google/uuid"
)

// ReplicaID identifies one independently mutating copy of a list. It is
// assigned once per replica and never reused.
type ReplicaID = uuid.UUID

func NewReplicaID() ReplicaID {
	return uuid.New()
}

func replicaLess(a, b ReplicaID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// ErrMalformedSnapshot is returned when a decoded snapshot breaks a lattice
// invariant.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// Outcome reports what a mutation actually did.
type Outcome int

const (
	Applied    Outcome = iota
	Clamped            // decrement capped at the replica's own increments
	Overflowed         // a magnitude entry would overflow uint32, state unchanged
	Absent             // addressed item does not exist, state unchanged
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Clamped:
		return "clamped"
	case Overflowed:
		return "overflowed"
	case Absent:
		return "absent"
	}
	return "unknown"
}

// Changed reports whether the quantity change took effect, fully or clamped.
// AddOrUpdateItem and AddOrUpdateNeeded register membership even on overflow.
func (o Outcome) Changed() bool {
	return o == Applied || o == Clamped
}

// worst picks the more severe of two outcomes of a compound mutation.
func worst(a, b Outcome) Outcome {
	rank := func(o Outcome) int {
		switch o {
		case Overflowed:
			return 2
		case Clamped:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
