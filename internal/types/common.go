package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kevinxiao27/listsync/crdt"
)

var ErrInvalidOp = errors.New("invalid op")

// Kind selects which list lattice backs a list.
type Kind string

const (
	Items Kind = "items" // crdt.ItemList
	Dual  Kind = "dual"  // crdt.DualBucketItemList
)

func (k Kind) Valid() bool {
	return k == Items || k == Dual
}

// ListRecord is the replicated metadata of one list. Owner is the replica the
// local snapshot is mutated on behalf of.
type ListRecord struct {
	ID        uuid.UUID      `json:"id"`
	Title     string         `json:"title"`
	Owner     crdt.ReplicaID `json:"owner"`
	Kind      Kind           `json:"kind"`
	CreatedAt time.Time      `json:"created_at"`
}

// Envelope carries a list snapshot between replicas.
type Envelope struct {
	Record   ListRecord      `json:"record"`
	Snapshot json.RawMessage `json:"snapshot"`
}

type OpType string

const (
	Add     OpType = "add"
	Rmv     OpType = "rmv"
	Buy     OpType = "buy"     // needed -> purchased, dual lists only
	Restock OpType = "restock" // purchased -> needed, dual lists only
)

type Op struct {
	Type      OpType `json:"type"`
	Name      string `json:"name"`
	Amount    uint32 `json:"amount,omitempty"`
	Decrement bool   `json:"decrement,omitempty"`
}

func (op Op) Validate() error {
	switch op.Type {
	case Add, Rmv, Buy, Restock:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOp, op.Type)
	}
	if op.Name == "" {
		return fmt.Errorf("%w: empty item name", ErrInvalidOp)
	}
	if op.Decrement && op.Type != Add {
		return fmt.Errorf("%w: decrement only applies to %q", ErrInvalidOp, Add)
	}
	return nil
}

// Item is the read view of one listed item. Purchased is only set for dual
// lists, where Quantity is the needed amount.
type Item struct {
	Name      string `json:"name"`
	Quantity  uint64 `json:"quantity"`
	Purchased uint64 `json:"purchased,omitempty"`
}
