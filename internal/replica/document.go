package replica

import (
	"encoding/json"
	"fmt"

	"github.com/kevinxiao27/listsync/crdt"
	"github.com/kevinxiao27/listsync/internal/types"
	"github.com/kevinxiao27/listsync/util"
)

// document is a decoded list of either kind.
type document interface {
	json.Marshaler
	apply(op types.Op) (crdt.Outcome, error)
	merge(other document) error
	items() []types.Item
}

// lattice is what both crdt list types share.
type lattice[T any] interface {
	*T
	json.Unmarshaler
	Merge(*T)
	GetItems() []string
}

func newDocument(kind types.Kind, owner crdt.ReplicaID) (document, error) {
	switch kind {
	case types.Items:
		return &itemsDoc{crdt.NewItemList(owner)}, nil
	case types.Dual:
		return &dualDoc{crdt.NewDualBucketItemList(owner)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrKindMismatch, kind)
}

func decodeDocument(kind types.Kind, data []byte) (document, error) {
	switch kind {
	case types.Items:
		l, err := decode[crdt.ItemList](data)
		return &itemsDoc{l}, err
	case types.Dual:
		l, err := decode[crdt.DualBucketItemList](data)
		return &dualDoc{l}, err
	}
	return nil, fmt.Errorf("%w: %q", ErrKindMismatch, kind)
}

func decode[T any, P lattice[T]](data []byte) (P, error) {
	var l T
	if err := P(&l).UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &l, nil
}

func mergeInto[T any, P lattice[T]](dst P, other document) error {
	src, ok := other.(interface{ list() P })
	if !ok {
		return fmt.Errorf("%w: cannot merge %T into %T", ErrKindMismatch, other, dst)
	}
	dst.Merge(src.list())
	return nil
}

func removed(ok bool) crdt.Outcome {
	if ok {
		return crdt.Applied
	}
	return crdt.Absent
}

type itemsDoc struct {
	*crdt.ItemList
}

func (d *itemsDoc) list() *crdt.ItemList { return d.ItemList }

func (d *itemsDoc) apply(op types.Op) (crdt.Outcome, error) {
	switch op.Type {
	case types.Add:
		return d.AddOrUpdateItem(op.Name, op.Amount, op.Decrement), nil
	case types.Rmv:
		return removed(d.RemoveItem(op.Name)), nil
	case types.Buy, types.Restock:
		return 0, fmt.Errorf("%w: %q needs a dual list", ErrKindMismatch, op.Type)
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOp, op.Type)
}

func (d *itemsDoc) merge(other document) error {
	return mergeInto(d.ItemList, other)
}

func (d *itemsDoc) items() []types.Item {
	return util.Map(d.GetItems(), func(name string) types.Item {
		qty, _ := d.Quantity(name)
		return types.Item{Name: name, Quantity: qty}
	})
}

type dualDoc struct {
	*crdt.DualBucketItemList
}

func (d *dualDoc) list() *crdt.DualBucketItemList { return d.DualBucketItemList }

func (d *dualDoc) apply(op types.Op) (crdt.Outcome, error) {
	switch op.Type {
	case types.Add:
		return d.AddOrUpdateNeeded(op.Name, op.Amount, op.Decrement), nil
	case types.Rmv:
		return removed(d.RemoveItem(op.Name)), nil
	case types.Buy:
		return d.MarkAsPurchased(op.Name, op.Amount), nil
	case types.Restock:
		return d.MarkAsNeededAgain(op.Name, op.Amount), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOp, op.Type)
}

func (d *dualDoc) merge(other document) error {
	return mergeInto(d.DualBucketItemList, other)
}

func (d *dualDoc) items() []types.Item {
	return util.Map(d.GetItems(), func(name string) types.Item {
		needed, _ := d.Needed(name)
		purchased, _ := d.Purchased(name)
		return types.Item{Name: name, Quantity: needed, Purchased: purchased}
	})
}
