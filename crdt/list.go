package crdt

// ItemList binds item names to a quantity counter each. Membership is decided
// by the set alone; a counter for a name outside the set is stale.
type ItemList struct {
	owner ReplicaID
	items map[string]*BoundedCounter
	set   *AddWinsSet
}

func NewItemList(owner ReplicaID) *ItemList {
	return &ItemList{
		owner: owner,
		items: make(map[string]*BoundedCounter),
		set:   NewAddWinsSet(),
	}
}

func (l *ItemList) Owner() ReplicaID {
	return l.owner
}

// AddOrUpdateItem changes the quantity of name on behalf of the owner and
// registers an add event for it, even when amount is zero.
func (l *ItemList) AddOrUpdateItem(name string, amount uint32, isDecrement bool) Outcome {
	counter := counterFor(l.items, name)

	var outcome Outcome
	if isDecrement {
		outcome = counter.Decrement(l.owner, amount)
	} else {
		outcome = counter.Increment(l.owner, amount)
	}

	l.set.Add(name, l.owner)
	return outcome
}

func (l *ItemList) RemoveItem(name string) bool {
	_, had := l.items[name]
	removed := l.set.Remove(name)
	delete(l.items, name)
	return removed || had
}

// Merge folds other into l. Counters are kept only for names that survive
// the set merge.
func (l *ItemList) Merge(other *ItemList) {
	l.set = l.set.Merge(other.set)
	l.items = mergeBucket(l.set, l.items, other.items)
}

func (l *ItemList) GetItems() []string {
	return l.set.Elements()
}

// Quantity returns the current quantity of name and whether it is listed.
func (l *ItemList) Quantity(name string) (uint64, bool) {
	if !l.set.Contains(name) {
		return 0, false
	}
	if counter, ok := l.items[name]; ok {
		return counter.Value(), true
	}
	return 0, true
}

func (l *ItemList) Clone() *ItemList {
	return &ItemList{
		owner: l.owner,
		items: cloneBucket(l.items),
		set:   l.set.Clone(),
	}
}

// Equal reports whether both lists hold the same replicated state. The owner
// is local to each replica and is not compared.
func (l *ItemList) Equal(other *ItemList) bool {
	return l.set.Equal(other.set) && bucketsEqual(l.items, other.items)
}

func counterFor(bucket map[string]*BoundedCounter, name string) *BoundedCounter {
	counter, ok := bucket[name]
	if !ok {
		counter = NewBoundedCounter()
		bucket[name] = counter
	}
	return counter
}

// mergeBucket rebuilds a name -> counter mapping from both sides, keeping
// exactly the names in set.
func mergeBucket(set *AddWinsSet, mine, theirs map[string]*BoundedCounter) map[string]*BoundedCounter {
	merged := make(map[string]*BoundedCounter, set.Len())
	for _, name := range set.Elements() {
		a, inMine := mine[name]
		b, inTheirs := theirs[name]
		switch {
		case inMine && inTheirs:
			merged[name] = a.Merge(b)
		case inMine:
			merged[name] = a.Clone()
		case inTheirs:
			merged[name] = b.Clone()
		}
	}
	return merged
}

func cloneBucket(bucket map[string]*BoundedCounter) map[string]*BoundedCounter {
	clone := make(map[string]*BoundedCounter, len(bucket))
	for name, counter := range bucket {
		clone[name] = counter.Clone()
	}
	return clone
}

func bucketsEqual(a, b map[string]*BoundedCounter) bool {
	if len(a) != len(b) {
		return false
	}
	for name, counter := range a {
		other, ok := b[name]
		if !ok || !counter.Equal(other) {
			return false
		}
	}
	return true
}
