// Package history keeps an undo/redo log of immutable snapshots of a single value.
package history

import "reflect"

// History is a list of snapshots plus a cursor. Snapshots are stored as given, so callers
// must never mutate a value after handing it to Set.
type History[T any] struct {
	snapshots []T
	cursor    int
	equal     func(a, b T) bool
}

// Option configures a History.
type Option[T any] func(*History[T])

// WithEqual overrides the deep-equality check used to skip no-op updates.
func WithEqual[T any](eq func(a, b T) bool) Option[T] {
	return func(h *History[T]) { h.equal = eq }
}

// New starts a history at initial.
func New[T any](initial T, opts ...Option[T]) *History[T] {
	h := &History[T]{snapshots: []T{initial}}
	for _, opt := range opts {
		opt(h)
	}
	if h.equal == nil {
		h.equal = func(a, b T) bool { return reflect.DeepEqual(a, b) }
	}
	return h
}

// Current returns the snapshot under the cursor.
func (h *History[T]) Current() T {
	return h.snapshots[h.cursor]
}

// Set records next. It returns false and changes nothing when next equals the current snapshot.
// Otherwise any redo branch is discarded.
func (h *History[T]) Set(next T) bool {
	if h.equal(h.Current(), next) {
		return false
	}
	h.snapshots = append(h.snapshots[:h.cursor+1:h.cursor+1], next)
	h.cursor++
	return true
}

// Update computes the next value from the current one and records it like Set.
func (h *History[T]) Update(fn func(T) T) bool {
	return h.Set(fn(h.Current()))
}

// Undo moves the cursor back, clamped at the first snapshot.
func (h *History[T]) Undo() bool {
	if h.cursor == 0 {
		return false
	}
	h.cursor--
	return true
}

// Redo moves the cursor forward, clamped at the last snapshot.
func (h *History[T]) Redo() bool {
	if h.cursor >= len(h.snapshots)-1 {
		return false
	}
	h.cursor++
	return true
}

func (h *History[T]) CanUndo() bool { return h.cursor > 0 }
func (h *History[T]) CanRedo() bool { return h.cursor < len(h.snapshots)-1 }

// Len is the number of snapshots kept, including the initial one.
func (h *History[T]) Len() int { return len(h.snapshots) }

// Cursor is the index of the current snapshot.
func (h *History[T]) Cursor() int { return h.cursor }
