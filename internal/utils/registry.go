package utils

import "sync"

// Registry is a typed sync.Map keyed by object id. It holds media
// pipelines, endpoints and Kurento event subscriptions.
type Registry[K comparable, V any] struct {
	m sync.Map
}

func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{}
}

func (r *Registry[K, V]) Store(key K, value V) {
	r.m.Store(key, value)
}

func (r *Registry[K, V]) Load(key K) (V, bool) {
	v, ok := r.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

func (r *Registry[K, V]) Delete(key K) {
	r.m.Delete(key)
}

// Each calls fn for every value present when the walk reaches it.
func (r *Registry[K, V]) Each(fn func(V)) {
	r.m.Range(func(_, v any) bool {
		fn(v.(V))
		return true
	})
}

// Drain removes every entry and returns the removed values. A value
// stored concurrently is either returned or left in place, never lost.
func (r *Registry[K, V]) Drain() []V {
	var values []V
	r.m.Range(func(k, _ any) bool {
		if v, ok := r.m.LoadAndDelete(k); ok {
			values = append(values, v.(V))
		}
		return true
	})
	return values
}
