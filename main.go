package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/sanity-io/litter"

	"github.com/kevinxiao27/listsync/crdt"
	"github.com/kevinxiao27/listsync/util"
)

// exchange ships src to dst the way two replicas would: as a JSON snapshot.
func exchange(dst, src *crdt.DualBucketItemList) {
	data, err := json.Marshal(src)
	if err != nil {
		log.Fatal(err)
	}
	var incoming crdt.DualBucketItemList
	if err := json.Unmarshal(data, &incoming); err != nil {
		log.Fatal(err)
	}
	dst.Merge(&incoming)
}

type row struct {
	Name      string
	Needed    uint64
	Purchased uint64
}

func rows(l *crdt.DualBucketItemList) []row {
	var out []row
	for _, name := range l.GetItems() {
		needed, _ := l.Needed(name)
		purchased, _ := l.Purchased(name)
		out = append(out, row{name, needed, purchased})
	}
	return out
}

func main() {
	alice := crdt.NewDualBucketItemList(crdt.NewReplicaID())
	bob := crdt.NewDualBucketItemList(crdt.NewReplicaID())

	alice.AddOrUpdateNeeded("milk", 2, false)
	alice.AddOrUpdateNeeded("eggs", 12, false)
	exchange(bob, alice)

	// offline edits on both sides
	alice.MarkAsPurchased("milk", 2)
	alice.RemoveItem("eggs")
	bob.AddOrUpdateNeeded("eggs", 6, false)
	bob.AddOrUpdateNeeded("bread", 1, false)
	fmt.Println("bob buys 5 bread:", bob.MarkAsPurchased("bread", 5))

	exchange(alice, bob)
	exchange(bob, alice)

	litter.Dump(rows(alice))
	litter.Dump(rows(bob))

	bought := util.Reduce(rows(alice), func(r row, n uint64) uint64 { return n + r.Purchased }, 0)
	fmt.Println("Purchased in total:", bought)

	if alice.Equal(bob) {
		fmt.Println("Replicas converged")
	} else {
		fmt.Println("Replicas differ")
	}
}
