package crdt

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

type counterJSON struct {
	Grown  map[ReplicaID]uint32 `json:"grown"`
	Shrunk map[ReplicaID]uint32 `json:"shrunk"`
}

type dotJSON struct {
	Name    string    `json:"name"`
	Replica ReplicaID `json:"replica"`
	Gen     uint64    `json:"gen"`
}

type setJSON struct {
	State   []dotJSON            `json:"state"`
	Context map[ReplicaID]uint64 `json:"context"`
}

type itemListJSON struct {
	Owner ReplicaID                  `json:"owner"`
	Items map[string]*BoundedCounter `json:"items"`
	Set   *AddWinsSet                `json:"set"`
}

type dualJSON struct {
	Owner     ReplicaID                  `json:"owner"`
	Needed    map[string]*BoundedCounter `json:"needed"`
	Purchased map[string]*BoundedCounter `json:"purchased"`
	Set       *AddWinsSet                `json:"set"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedSnapshot, fmt.Sprintf(format, args...))
}

func (c *BoundedCounter) MarshalJSON() ([]byte, error) {
	return json.Marshal(counterJSON{Grown: c.grown, Shrunk: c.shrunk})
}

func (c *BoundedCounter) UnmarshalJSON(data []byte) error {
	var raw counterJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: decode counter: %w", ErrMalformedSnapshot, err)
	}

	decoded := NewBoundedCounter()
	for r, v := range raw.Grown {
		decoded.grown[r] = v
	}
	for r, v := range raw.Shrunk {
		if v > decoded.grown[r] {
			return malformed("replica %s shrunk %d beyond grown %d", r, v, decoded.grown[r])
		}
		decoded.shrunk[r] = v
	}

	*c = *decoded
	return nil
}

func (s *AddWinsSet) MarshalJSON() ([]byte, error) {
	state := make([]dotJSON, 0, len(s.state))
	s.eachDot(func(d Dot) {
		state = append(state, dotJSON{Name: d.Name, Replica: d.Replica, Gen: d.Gen})
	})
	sort.Slice(state, func(i, j int) bool {
		if state[i].Name != state[j].Name {
			return state[i].Name < state[j].Name
		}
		return replicaLess(state[i].Replica, state[j].Replica)
	})

	return json.Marshal(setJSON{State: state, Context: s.context})
}

func (s *AddWinsSet) UnmarshalJSON(data []byte) error {
	var raw setJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: decode set: %w", ErrMalformedSnapshot, err)
	}

	decoded := NewAddWinsSet()
	for r, gen := range raw.Context {
		if gen > 0 {
			decoded.context[r] = gen
		}
	}
	for _, d := range raw.State {
		if d.Gen == 0 {
			return malformed("item %q has generation 0", d.Name)
		}
		if d.Gen > decoded.context[d.Replica] {
			return malformed("item %q generation %d ahead of context %d for replica %s",
				d.Name, d.Gen, decoded.context[d.Replica], d.Replica)
		}
		if _, dup := decoded.state[d.Name][d.Replica]; dup {
			return malformed("item %q added twice by replica %s", d.Name, d.Replica)
		}
		decoded.insert(Dot{Name: d.Name, Replica: d.Replica, Gen: d.Gen})
	}

	*s = *decoded
	return nil
}

func (l *ItemList) MarshalJSON() ([]byte, error) {
	return json.Marshal(itemListJSON{Owner: l.owner, Items: l.items, Set: l.set})
}

func (l *ItemList) UnmarshalJSON(data []byte) error {
	var raw itemListJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: decode item list: %w", ErrMalformedSnapshot, err)
	}
	if raw.Owner == uuid.Nil {
		return malformed("item list without owner")
	}
	if err := checkBucket("items", raw.Items); err != nil {
		return err
	}

	decoded := NewItemList(raw.Owner)
	if raw.Items != nil {
		decoded.items = raw.Items
	}
	if raw.Set != nil {
		decoded.set = raw.Set
	}

	*l = *decoded
	return nil
}

func (l *DualBucketItemList) MarshalJSON() ([]byte, error) {
	return json.Marshal(dualJSON{
		Owner:     l.owner,
		Needed:    l.needed,
		Purchased: l.purchased,
		Set:       l.set,
	})
}

func (l *DualBucketItemList) UnmarshalJSON(data []byte) error {
	var raw dualJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: decode dual bucket list: %w", ErrMalformedSnapshot, err)
	}
	if raw.Owner == uuid.Nil {
		return malformed("dual bucket list without owner")
	}
	if err := checkBucket("needed", raw.Needed); err != nil {
		return err
	}
	if err := checkBucket("purchased", raw.Purchased); err != nil {
		return err
	}

	decoded := NewDualBucketItemList(raw.Owner)
	if raw.Needed != nil {
		decoded.needed = raw.Needed
	}
	if raw.Purchased != nil {
		decoded.purchased = raw.Purchased
	}
	if raw.Set != nil {
		decoded.set = raw.Set
	}

	*l = *decoded
	return nil
}

func checkBucket(bucket string, counters map[string]*BoundedCounter) error {
	for name, counter := range counters {
		if counter == nil {
			return malformed("%s bucket has null counter for %q", bucket, name)
		}
	}
	return nil
}
