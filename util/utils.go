package util

import "sort"

func Map[T, V any](ts []T, fn func(T) V) []V {
	result := make([]V, len(ts))
	for i, t := range ts {
		result[i] = fn(t)
	}
	return result
}

func Filter[T any](ts []T, fn func(T) bool) []T {
	result := []T{}
	for _, v := range ts {
		if fn(v) {
			result = append(result, v)
		}
	}
	return result
}

func Reduce[T, V any](ts []T, acc func(t T, v V) V, base V) V {
	for _, v := range ts {
		base = acc(v, base)
	}

	return base
}

func Choose[T any](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}

// SortedKeys returns the keys of m ordered by less.
func SortedKeys[K comparable, V any](m map[K]V, less func(a, b K) bool) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return less(keys[i], keys[j])
	})
	return keys
}

// SumValues adds up every value of m without overflowing the element type.
func SumValues[K comparable](m map[K]uint32) uint64 {
	var sum uint64
	for _, v := range m {
		sum += uint64(v)
	}
	return sum
}

// UnionKeys visits every key present in a or b exactly once.
func UnionKeys[K comparable, V any](a, b map[K]V, fn func(K)) {
	for k := range a {
		fn(k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			fn(k)
		}
	}
}
