package crdt

// DualBucketItemList splits each item's quantity into a needed and a
// purchased counter that share one membership set.
//
// The two buckets converge independently. Two replicas transferring the same
// item concurrently may leave needed+purchased different from what either
// replica saw locally; the total is not a conserved quantity.
type DualBucketItemList struct {
	owner     ReplicaID
	needed    map[string]*BoundedCounter
	purchased map[string]*BoundedCounter
	set       *AddWinsSet
}

func NewDualBucketItemList(owner ReplicaID) *DualBucketItemList {
	return &DualBucketItemList{
		owner:     owner,
		needed:    make(map[string]*BoundedCounter),
		purchased: make(map[string]*BoundedCounter),
		set:       NewAddWinsSet(),
	}
}

func (l *DualBucketItemList) Owner() ReplicaID {
	return l.owner
}

func (l *DualBucketItemList) AddOrUpdateNeeded(name string, amount uint32, isDecrement bool) Outcome {
	counter := counterFor(l.needed, name)

	var outcome Outcome
	if isDecrement {
		outcome = counter.Decrement(l.owner, amount)
	} else {
		outcome = counter.Increment(l.owner, amount)
	}

	l.set.Add(name, l.owner)
	return outcome
}

// MarkAsPurchased moves qty of name from needed to purchased.
func (l *DualBucketItemList) MarkAsPurchased(name string, qty uint32) Outcome {
	return l.transfer(name, qty, l.needed, l.purchased)
}

// MarkAsNeededAgain moves qty of name from purchased back to needed.
func (l *DualBucketItemList) MarkAsNeededAgain(name string, qty uint32) Outcome {
	return l.transfer(name, qty, l.purchased, l.needed)
}

func (l *DualBucketItemList) transfer(name string, qty uint32, from, to map[string]*BoundedCounter) Outcome {
	source, ok := from[name]
	if !ok {
		return Absent
	}
	// all or nothing: neither bucket moves unless both sides can take qty
	if source.shrinkRoom(l.owner) < qty {
		return Overflowed
	}
	if target, ok := to[name]; ok && target.headroom(l.owner) < qty {
		return Overflowed
	}

	outcome := source.Decrement(l.owner, qty)
	outcome = worst(outcome, counterFor(to, name).Increment(l.owner, qty))

	l.set.Add(name, l.owner)
	return outcome
}

func (l *DualBucketItemList) RemoveItem(name string) bool {
	_, inNeeded := l.needed[name]
	_, inPurchased := l.purchased[name]
	removed := l.set.Remove(name)
	delete(l.needed, name)
	delete(l.purchased, name)
	return removed || inNeeded || inPurchased
}

func (l *DualBucketItemList) Merge(other *DualBucketItemList) {
	l.set = l.set.Merge(other.set)
	l.needed = mergeBucket(l.set, l.needed, other.needed)
	l.purchased = mergeBucket(l.set, l.purchased, other.purchased)
}

func (l *DualBucketItemList) GetItems() []string {
	return l.set.Elements()
}

// Needed returns the needed quantity of name and whether name is listed. A
// listed item with no needed entry reports 0.
func (l *DualBucketItemList) Needed(name string) (uint64, bool) {
	return bucketQuantity(l.set, l.needed, name)
}

// Purchased is Needed for the purchased bucket.
func (l *DualBucketItemList) Purchased(name string) (uint64, bool) {
	return bucketQuantity(l.set, l.purchased, name)
}

func bucketQuantity(set *AddWinsSet, bucket map[string]*BoundedCounter, name string) (uint64, bool) {
	if !set.Contains(name) {
		return 0, false
	}
	counter, ok := bucket[name]
	if !ok {
		return 0, true
	}
	return counter.Value(), true
}

func (l *DualBucketItemList) Clone() *DualBucketItemList {
	return &DualBucketItemList{
		owner:     l.owner,
		needed:    cloneBucket(l.needed),
		purchased: cloneBucket(l.purchased),
		set:       l.set.Clone(),
	}
}

// Equal compares replicated state only; the owner is ignored.
func (l *DualBucketItemList) Equal(other *DualBucketItemList) bool {
	return l.set.Equal(other.set) &&
		bucketsEqual(l.needed, other.needed) &&
		bucketsEqual(l.purchased, other.purchased)
}
