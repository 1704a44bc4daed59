// Package history implements bounded undo/redo over an immutable-by-convention
// state value.
//
// The manager never performs I/O. Every state it hands out is a clone, so
// callers can mutate what they receive without corrupting the stacks.
package history

// DefaultMaxSize bounds the past stack when no size is configured.
const DefaultMaxSize = 50

// Manager tracks a present state plus bounded past and future stacks.
// It is not safe for concurrent use; callers serialize access.
type Manager[T any] struct {
	past    []T
	present T
	future  []T
	maxSize int
	clone   func(T) T
	equal   func(a, b T) bool
}

// New creates a manager seeded with initial. clone must return a deep copy and
// equal must compare by value. maxSize <= 0 selects DefaultMaxSize.
func New[T any](initial T, maxSize int, clone func(T) T, equal func(a, b T) bool) *Manager[T] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Manager[T]{
		present: clone(initial),
		maxSize: maxSize,
		clone:   clone,
		equal:   equal,
	}
}

// Present returns a copy of the current state.
func (m *Manager[T]) Present() T {
	return m.clone(m.present)
}

// SetState computes the next state from a copy of the present. When the
// result differs from the present by value, the previous present is pushed
// onto the past stack (evicting the oldest entry beyond the bound) and the
// future stack is cleared. Returns whether the state changed.
func (m *Manager[T]) SetState(updater func(T) T) bool {
	next := updater(m.clone(m.present))
	if m.equal(m.present, next) {
		return false
	}
	m.past = append(m.past, m.present)
	if over := len(m.past) - m.maxSize; over > 0 {
		// Copy so evicted entries can be collected.
		m.past = append([]T(nil), m.past[over:]...)
	}
	m.present = m.clone(next)
	m.future = nil
	return true
}

// Undo moves the most recent past state into the present. It is a no-op when
// there is nothing to undo. Returns the resulting present.
func (m *Manager[T]) Undo() T {
	if len(m.past) == 0 {
		return m.Present()
	}
	last := len(m.past) - 1
	prev := m.past[last]
	m.past = m.past[:last]
	m.future = append(m.future, m.present)
	m.present = prev
	return m.Present()
}

// Redo is the mirror of Undo.
func (m *Manager[T]) Redo() T {
	if len(m.future) == 0 {
		return m.Present()
	}
	last := len(m.future) - 1
	next := m.future[last]
	m.future = m.future[:last]
	m.past = append(m.past, m.present)
	m.present = next
	return m.Present()
}

// CanUndo reports whether Undo would change the state.
func (m *Manager[T]) CanUndo() bool { return len(m.past) > 0 }

// CanRedo reports whether Redo would change the state.
func (m *Manager[T]) CanRedo() bool { return len(m.future) > 0 }

// Depth returns the sizes of the past and future stacks.
func (m *Manager[T]) Depth() (past, future int) { return len(m.past), len(m.future) }

// Rewrite applies fn to the present and to every past and future state
// without recording a step. It suits derived fields that must follow an
// external change in every state undo can return to.
func (m *Manager[T]) Rewrite(fn func(T) T) {
	for i := range m.past {
		m.past[i] = fn(m.past[i])
	}
	for i := range m.future {
		m.future[i] = fn(m.future[i])
	}
	m.present = fn(m.present)
}

// Reset replaces the present and drops both stacks.
func (m *Manager[T]) Reset(state T) {
	m.present = m.clone(state)
	m.past = nil
	m.future = nil
}
