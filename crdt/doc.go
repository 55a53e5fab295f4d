/*
Package crdt implements the state-based lattices a collaborative list is
replicated with: a bounded grow/shrink counter, an add-wins observed-remove
set with a compacted causal context, and the two list structures built from
them (ItemList and DualBucketItemList).

Replicas mutate their own copy and reconcile by exchanging full snapshots and
calling Merge. Merge is commutative and idempotent, so snapshots may arrive
any number of times and replicas that exchange state pairwise converge.

Access to a single instance is expected to be serialized by the caller, e.g.
one in-process call at a time or a mutex around a stored instance. This
package does not synchronize access by itself and keeps no global state.
*/
package crdt
