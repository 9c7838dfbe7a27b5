// Package collections holds small generic container helpers used across the
// dashboard.
package collections

import (
	"errors"
	"fmt"
)

var ErrKeyNotFound = errors.New("key not found")

// RequiredMap is a map whose lookups treat a missing key as an error.
type RequiredMap[K comparable, V any] struct {
	m map[K]V
}

func NewRequiredMap[K comparable, V any]() *RequiredMap[K, V] {
	return &RequiredMap[K, V]{m: map[K]V{}}
}

func (r *RequiredMap[K, V]) Set(k K, v V) {
	r.m[k] = v
}

func (r *RequiredMap[K, V]) Has(k K) bool {
	_, ok := r.m[k]
	return ok
}

func (r *RequiredMap[K, V]) Delete(k K) {
	delete(r.m, k)
}

func (r *RequiredMap[K, V]) Len() int {
	return len(r.m)
}

func (r *RequiredMap[K, V]) GetOrFail(k K) (V, error) {
	v, ok := r.m[k]
	if !ok {
		var zero V
		return zero, fmt.Errorf("%w: %v", ErrKeyNotFound, k)
	}
	return v, nil
}

// DefaultMap computes and stores a value for a key on first access.
type DefaultMap[K comparable, V any] struct {
	m   map[K]V
	gen func(K) V
}

func NewDefaultMap[K comparable, V any](gen func(K) V) *DefaultMap[K, V] {
	return &DefaultMap[K, V]{m: map[K]V{}, gen: gen}
}

func (d *DefaultMap[K, V]) GetOrInsert(k K) V {
	v, ok := d.m[k]
	if !ok {
		v = d.gen(k)
		d.m[k] = v
	}
	return v
}

func (d *DefaultMap[K, V]) Set(k K, v V) {
	d.m[k] = v
}

func (d *DefaultMap[K, V]) Get(k K) (V, bool) {
	v, ok := d.m[k]
	return v, ok
}

func (d *DefaultMap[K, V]) Delete(k K) {
	delete(d.m, k)
}

func (d *DefaultMap[K, V]) Range(fn func(K, V)) {
	for k, v := range d.m {
		fn(k, v)
	}
}

func (d *DefaultMap[K, V]) Len() int {
	return len(d.m)
}

// InjectSeparators returns items with sep placed between each pair:
// [a, sep, b, sep, c].
func InjectSeparators[E any](items []E, sep E) []E {
	return InjectSeparatorsFunc(items, func(E, int) E { return sep })
}

// InjectSeparatorsFunc is InjectSeparators with a separator computed from the
// element preceding it and that element's index.
func InjectSeparatorsFunc[E any](items []E, gen func(elem E, index int) E) []E {
	if len(items) == 0 {
		return []E{}
	}
	out := make([]E, 0, len(items)*2-1)
	for i, it := range items {
		if i > 0 {
			out = append(out, gen(items[i-1], i-1))
		}
		out = append(out, it)
	}
	return out
}
