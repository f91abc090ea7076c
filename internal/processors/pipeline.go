// Package processors runs items through ordered chains of filter functions
// before they are queued for work.
package processors

// Filter decides for one item whether it continues down the pipeline. It
// may modify the item. Anything the user should learn about a dropped item
// is logged by the filter itself.
type Filter[T any] func(item T) bool

// BatchFilter works on the whole set of items at once, for reordering or
// checks across items. It receives a copy and returns the items to keep;
// false aborts the pipeline.
type BatchFilter[T any] func(items []T) ([]T, bool)

// Pipeline holds the batch filters that run first and the per-item
// filters that run after them.
type Pipeline[T any] struct {
	batch []BatchFilter[T]
	item  []Filter[T]
}

// AddBatch appends a [BatchFilter].
func (p *Pipeline[T]) AddBatch(fn BatchFilter[T]) *Pipeline[T] {
	p.batch = append(p.batch, fn)

	return p
}

// Add appends a [Filter].
func (p *Pipeline[T]) Add(fn Filter[T]) *Pipeline[T] {
	p.item = append(p.item, fn)

	return p
}

// Keep reports whether item passes every [Filter], stopping at the first
// that rejects it.
func (p *Pipeline[T]) Keep(item T) bool {
	for _, fn := range p.item {
		if !fn(item) {
			return false
		}
	}

	return true
}

// Run applies the batch filters in order and then keeps the items passing
// [Pipeline.Keep]. It returns false if a batch filter aborted.
func (p *Pipeline[T]) Run(items []T) ([]T, bool) {
	cur := append([]T(nil), items...)

	for _, fn := range p.batch {
		next, ok := fn(append([]T(nil), cur...))
		if !ok {
			return nil, false
		}
		cur = next
	}

	kept := cur[:0:0]
	for _, item := range cur {
		if p.Keep(item) {
			kept = append(kept, item)
		}
	}

	return kept, true
}
