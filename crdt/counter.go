package crdt

import (
	"math"

	"github.com/kevinxiao27/listsync/util"
)

// BoundedCounter is a grow/shrink counter partitioned by replica whose value
// never drops below zero: a replica can only shrink what it grew itself.
type BoundedCounter struct {
	grown  map[ReplicaID]uint32
	shrunk map[ReplicaID]uint32 // shrunk[r] <= grown[r]
}

func NewBoundedCounter() *BoundedCounter {
	return &BoundedCounter{
		grown:  make(map[ReplicaID]uint32),
		shrunk: make(map[ReplicaID]uint32),
	}
}

func (c *BoundedCounter) Increment(replica ReplicaID, amount uint32) Outcome {
	current := c.grown[replica]
	if current > math.MaxUint32-amount {
		return Overflowed
	}
	c.grown[replica] = current + amount
	return Applied
}

func (c *BoundedCounter) Decrement(replica ReplicaID, amount uint32) Outcome {
	current := c.shrunk[replica]
	if current > math.MaxUint32-amount {
		return Overflowed
	}

	candidate, limit := current+amount, c.grown[replica]
	if candidate > limit {
		c.shrunk[replica] = limit
		return Clamped
	}
	c.shrunk[replica] = candidate
	return Applied
}

// headroom is how much Increment can still add for replica.
func (c *BoundedCounter) headroom(replica ReplicaID) uint32 {
	return math.MaxUint32 - c.grown[replica]
}

// shrinkRoom is how much Decrement can still record for replica before its
// shrunk entry would overflow.
func (c *BoundedCounter) shrinkRoom(replica ReplicaID) uint32 {
	return math.MaxUint32 - c.shrunk[replica]
}

func (c *BoundedCounter) Value() uint64 {
	// per-replica clamp guarantees sum(shrunk) <= sum(grown)
	return util.SumValues(c.grown) - util.SumValues(c.shrunk)
}

// Contribution is the net quantity replica added to the counter.
func (c *BoundedCounter) Contribution(replica ReplicaID) uint32 {
	return c.grown[replica] - c.shrunk[replica]
}

// DominatedBy reports whether c <= other in the lattice order, i.e. every
// grown and shrunk entry of c is at most the matching entry of other.
func (c *BoundedCounter) DominatedBy(other *BoundedCounter) bool {
	return lessOrEqual(c.grown, other.grown) && lessOrEqual(c.shrunk, other.shrunk)
}

func lessOrEqual(a, b map[ReplicaID]uint32) bool {
	for r, v := range a {
		if v > b[r] {
			return false
		}
	}
	return true
}

// Merge returns the join of c and other. Neither input is modified.
func (c *BoundedCounter) Merge(other *BoundedCounter) *BoundedCounter {
	return &BoundedCounter{
		grown:  joinMax(c.grown, other.grown),
		shrunk: joinMax(c.shrunk, other.shrunk),
	}
}

func joinMax(a, b map[ReplicaID]uint32) map[ReplicaID]uint32 {
	joined := make(map[ReplicaID]uint32, len(a))
	util.UnionKeys(a, b, func(r ReplicaID) {
		joined[r] = max(a[r], b[r])
	})
	return joined
}

func (c *BoundedCounter) Clone() *BoundedCounter {
	return c.Merge(NewBoundedCounter())
}

// Equal compares the counters entry by entry; a missing entry equals zero.
func (c *BoundedCounter) Equal(other *BoundedCounter) bool {
	return c.DominatedBy(other) && other.DominatedBy(c)
}
