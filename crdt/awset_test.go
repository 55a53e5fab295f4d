package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAddDoesNotAccumulate(t *testing.T) {
	s := NewAddWinsSet()

	assert.Equal(t, uint64(1), s.Add("apple", n1))
	assert.Equal(t, map[ReplicaID]uint64{n1: 1}, s.context)
	assert.Equal(t, map[string]map[ReplicaID]uint64{"apple": {n1: 1}}, s.state)

	assert.Equal(t, uint64(2), s.Add("apple", n1))
	assert.Equal(t, map[ReplicaID]uint64{n1: 2}, s.context)
	assert.Equal(t, map[string]map[ReplicaID]uint64{"apple": {n1: 2}}, s.state)
}

func TestSetContextIsSharedAcrossItems(t *testing.T) {
	s := NewAddWinsSet()
	s.Add("apple", n1)
	s.Add("pear", n1)
	s.Add("apple", n2)

	assert.Equal(t, uint64(2), s.Generation(n1))
	assert.Equal(t, uint64(1), s.Generation(n2))
	assert.Zero(t, s.Generation(n3))
	assert.Equal(t, []string{"apple", "pear"}, s.Elements())
	assert.Equal(t, 2, s.Len())
}

func TestSetRemoveKeepsContext(t *testing.T) {
	s := NewAddWinsSet()
	s.Add("apple", n1)
	s.Add("apple", n2)

	assert.True(t, s.Remove("apple"))
	assert.False(t, s.Contains("apple"))
	assert.Empty(t, s.Elements())
	assert.Equal(t, uint64(1), s.Generation(n1))
	assert.Equal(t, uint64(1), s.Generation(n2))

	assert.False(t, s.Remove("apple"))
	assert.False(t, s.Remove("never-added"))
}

func TestSetFilter(t *testing.T) {
	a := NewAddWinsSet()
	b := NewAddWinsSet()
	a.Add("apple", n1) // (apple, n1, 1)
	a.Add("pear", n2)  // (pear, n2, 1)

	b.Add("x", n1)
	b.Add("y", n1) // b has seen n1 up to 2

	kept := a.filter(b)
	assert.ElementsMatch(t, []Dot{{Name: "pear", Replica: n2, Gen: 1}}, kept.ToSlice())

	// equal generations are not superseded
	c := NewAddWinsSet()
	c.Add("z", n2)
	assert.Equal(t, 2, a.filter(c).Cardinality())
}

func TestSetMergeUnion(t *testing.T) {
	a := NewAddWinsSet()
	b := NewAddWinsSet()
	a.Add("apple", n1)
	b.Add("bread", n2)

	m := a.Merge(b)
	assert.Equal(t, []string{"apple", "bread"}, m.Elements())
	assert.Equal(t, uint64(1), m.Generation(n1))
	assert.Equal(t, uint64(1), m.Generation(n2))

	// inputs untouched
	assert.Equal(t, []string{"apple"}, a.Elements())
	assert.Equal(t, []string{"bread"}, b.Elements())
}

func TestSetMergePropagatesSupersededRemove(t *testing.T) {
	a := NewAddWinsSet()
	a.Add("apple", n1) // generation 1
	a.Add("pear", n1)  // generation 2

	b := a.Clone()
	b.Remove("apple")

	assert.Equal(t, []string{"pear"}, a.Merge(b).Elements())
	assert.Equal(t, []string{"pear"}, b.Merge(a).Elements())
}

func TestSetMergeRemoveOfLatestGenerationIsNotSuperseded(t *testing.T) {
	a := NewAddWinsSet()
	a.Add("apple", n1)

	b := a.Clone()
	b.Remove("apple")

	// b's context for n1 equals the generation it removed, which does not
	// supersede it
	assert.True(t, a.Merge(b).Contains("apple"))
	assert.True(t, b.Merge(a).Contains("apple"))
}

func TestSetMergeAddWins(t *testing.T) {
	// n1 adds apple; n2 sees it
	s1 := NewAddWinsSet()
	s1.Add("apple", n1)
	s2 := NewAddWinsSet().Merge(s1)

	// n1 removes apple while n2 concurrently re-adds it
	s1.Remove("apple")
	s2.Add("apple", n2)

	m := s1.Merge(s2)
	require.True(t, m.Contains("apple"))
	assert.True(t, m.Equal(s2.Merge(s1)))
}

func TestSetMergeConcurrentRemovesStayRemoved(t *testing.T) {
	s1 := NewAddWinsSet()
	s1.Add("apple", n1)
	s2 := NewAddWinsSet().Merge(s1)

	s1.Remove("apple")
	s2.Remove("apple")

	assert.False(t, s1.Merge(s2).Contains("apple"))
}

func TestSetMergeLaggingReplicaSeesRemove(t *testing.T) {
	// n1 adds and removes its own generation before n3 ever hears of it
	s1 := NewAddWinsSet()
	s1.Add("apple", n1)
	s1.Remove("apple")

	s3 := NewAddWinsSet()
	s3.Add("bread", n3)

	m := s3.Merge(s1)
	assert.False(t, m.Contains("apple"))
	assert.Equal(t, uint64(1), m.Generation(n1))
}

func TestSetMergeKeepsIntersectionEvenWhenSuperseded(t *testing.T) {
	a := NewAddWinsSet()
	a.Add("apple", n1) // generation 1
	a.Add("pear", n1)  // generation 2
	b := a.Clone()
	b.Remove("pear")

	// both contexts supersede apple's generation, only the intersection
	// keeps it alive
	assert.Equal(t, 1, a.filter(b).Cardinality())
	assert.Equal(t, 0, b.filter(a).Cardinality())

	m := a.Merge(b)
	assert.True(t, m.Contains("apple"))
	assert.True(t, m.Equal(b.Merge(a)))
}

func TestSetMergeStaleGenerationReplaced(t *testing.T) {
	a := NewAddWinsSet()
	a.Add("apple", n1)
	b := a.Clone()
	b.Add("apple", n1) // generation 2 for the same pair

	m := a.Merge(b)
	assert.Equal(t, map[ReplicaID]uint64{n1: 2}, m.state["apple"])
}

func TestSetCloneIsIndependent(t *testing.T) {
	a := NewAddWinsSet()
	a.Add("apple", n1)
	c := a.Clone()
	c.Add("pear", n1)
	c.Remove("apple")

	assert.Equal(t, []string{"apple"}, a.Elements())
	assert.Equal(t, uint64(1), a.Generation(n1))
	assert.False(t, a.Equal(c))
}
