// Package replay provides the bounded experience store used by the planner:
// a fixed-capacity ring buffer with uniform sampling without replacement.
package replay

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCapacity is returned by New for a capacity below one.
	ErrInvalidCapacity = errors.New("replay buffer capacity must be positive")
	// ErrInsufficientData is returned by Sample when more elements are
	// requested than the buffer holds.
	ErrInsufficientData = errors.New("not enough elements in replay buffer")
)

// Intner is the random source used for sampling. *rand.Rand satisfies it.
type Intner interface {
	Intn(n int) int
}

// Transition is one step of experience. It is treated as immutable once
// pushed; Clone gives the buffer its own copy of the slices.
type Transition struct {
	State     []float64
	Action    int
	Reward    float64
	NextState []float64
	Done      bool
}

// Clone returns a deep copy of t.
func (t Transition) Clone() Transition {
	t.State = append([]float64(nil), t.State...)
	t.NextState = append([]float64(nil), t.NextState...)
	return t
}

// Buffer is a fixed-capacity FIFO. Pushing onto a full buffer overwrites the
// oldest element. It is not safe for concurrent use.
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int

	// scratch index permutation reused by Sample
	idx []int
}

// New allocates a buffer holding at most capacity elements.
func New[T any](capacity int) (*Buffer[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &Buffer[T]{
		items: make([]T, capacity),
		idx:   make([]int, 0, capacity),
	}, nil
}

// Push appends v, evicting the oldest element when the buffer is full.
func (b *Buffer[T]) Push(v T) {
	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = v
		b.size++
		return
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
}

// Len returns the number of stored elements.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// At returns the i-th element counted from the oldest.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic(fmt.Sprintf("replay: index %d out of range [0, %d)", i, b.size))
	}
	return b.items[(b.head+i)%len(b.items)]
}

// Items returns the stored elements from oldest to newest.
func (b *Buffer[T]) Items() []T {
	out := make([]T, b.size)
	for i := range out {
		out[i] = b.At(i)
	}
	return out
}

// Sample draws k distinct elements uniformly at random without replacement,
// using a partial Fisher-Yates shuffle over the valid range.
func (b *Buffer[T]) Sample(rng Intner, k int) ([]T, error) {
	if k < 0 || k > b.size {
		return nil, fmt.Errorf("%w: requested %d, have %d", ErrInsufficientData, k, b.size)
	}

	b.idx = b.idx[:0]
	for i := 0; i < b.size; i++ {
		b.idx = append(b.idx, i)
	}

	out := make([]T, k)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(b.size-i)
		b.idx[i], b.idx[j] = b.idx[j], b.idx[i]
		out[i] = b.At(b.idx[i])
	}
	return out, nil
}

// Clear drops every element but keeps the allocation.
func (b *Buffer[T]) Clear() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}
