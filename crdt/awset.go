package crdt

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kevinxiao27/listsync/util"
)

// Dot is one add event: name was added by Replica as its Gen-th event.
type Dot struct {
	Name    string
	Replica ReplicaID
	Gen     uint64
}

// AddWinsSet is an observed-remove set where an add that a concurrent remove
// has not observed survives the merge. Removes leave no tombstone: whether a
// missing entry was removed or never seen is decided by the causal context.
type AddWinsSet struct {
	state   map[string]map[ReplicaID]uint64 // latest add per (name, replica)
	context map[ReplicaID]uint64            // highest generation per replica
}

func NewAddWinsSet() *AddWinsSet {
	return &AddWinsSet{
		state:   make(map[string]map[ReplicaID]uint64),
		context: make(map[ReplicaID]uint64),
	}
}

// Elements returns the names currently in the set, sorted.
func (s *AddWinsSet) Elements() []string {
	return util.SortedKeys(s.state, func(a, b string) bool { return a < b })
}

func (s *AddWinsSet) Contains(name string) bool {
	_, ok := s.state[name]
	return ok
}

func (s *AddWinsSet) Len() int {
	return len(s.state)
}

// Generation is the highest generation replica is known to have emitted.
func (s *AddWinsSet) Generation(replica ReplicaID) uint64 {
	return s.context[replica]
}

// Add records a fresh add event for name by replica and returns its
// generation. An older add of the same name by the same replica is replaced.
func (s *AddWinsSet) Add(name string, replica ReplicaID) uint64 {
	next := s.context[replica] + 1
	s.context[replica] = next
	s.insert(Dot{Name: name, Replica: replica, Gen: next})
	return next
}

// Remove drops every add event for name. The context is left untouched.
func (s *AddWinsSet) Remove(name string) bool {
	if _, ok := s.state[name]; !ok {
		return false
	}
	delete(s.state, name)
	return true
}

func (s *AddWinsSet) insert(d Dot) {
	adds, ok := s.state[d.Name]
	if !ok {
		adds = make(map[ReplicaID]uint64)
		s.state[d.Name] = adds
	}
	if d.Gen > adds[d.Replica] {
		adds[d.Replica] = d.Gen
	}
}

func (s *AddWinsSet) dots() mapset.Set[Dot] {
	set := mapset.NewThreadUnsafeSet[Dot]()
	s.eachDot(func(d Dot) { set.Add(d) })
	return set
}

func (s *AddWinsSet) eachDot(fn func(Dot)) {
	for name, adds := range s.state {
		for replica, gen := range adds {
			fn(Dot{Name: name, Replica: replica, Gen: gen})
		}
	}
}

// filter keeps the dots of s that other has not causally superseded.
func (s *AddWinsSet) filter(other *AddWinsSet) mapset.Set[Dot] {
	kept := util.Filter(s.dots().ToSlice(), func(d Dot) bool {
		return !(other.context[d.Replica] > d.Gen)
	})
	return mapset.NewThreadUnsafeSet(kept...)
}

// Merge returns the join of s and other. Neither input is modified.
func (s *AddWinsSet) Merge(other *AddWinsSet) *AddWinsSet {
	intersection := s.dots().Intersect(other.dots())
	survivors := s.filter(other).Union(other.filter(s))

	merged := NewAddWinsSet()
	for _, d := range survivors.Union(intersection).ToSlice() {
		merged.insert(d)
	}
	for r, gen := range s.context {
		merged.context[r] = gen
	}
	for r, gen := range other.context {
		merged.context[r] = max(merged.context[r], gen)
	}
	return merged
}

func (s *AddWinsSet) Clone() *AddWinsSet {
	clone := NewAddWinsSet()
	s.eachDot(clone.insert)
	for r, gen := range s.context {
		clone.context[r] = gen
	}
	return clone
}

func (s *AddWinsSet) Equal(other *AddWinsSet) bool {
	if len(s.context) != len(other.context) {
		return false
	}
	for r, gen := range s.context {
		if g, ok := other.context[r]; !ok || g != gen {
			return false
		}
	}
	return s.dots().Equal(other.dots())
}
