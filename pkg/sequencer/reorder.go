package sequencer

import (
	"errors"
	"fmt"
)

var ErrInvalidIndex = errors.New("invalid index")

// ReorderBuffer releases values in index order no matter in which order
// they arrive. It holds a fixed arena of n slots and a cursor at the first
// index not yet released.
type ReorderBuffer[T any] struct {
	slots  []T
	filled []bool
	cursor int
}

func NewReorderBuffer[T any](n int) *ReorderBuffer[T] {
	return &ReorderBuffer[T]{
		slots:  make([]T, n),
		filled: make([]bool, n),
	}
}

// Put stores v at index i and returns the run of values that became ready,
// starting at the cursor. Out-of-range and repeated indices are rejected.
func (b *ReorderBuffer[T]) Put(i int, v T) ([]T, error) {
	if i < 0 || i >= len(b.slots) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidIndex, i, len(b.slots))
	}
	if i < b.cursor || b.filled[i] {
		return nil, fmt.Errorf("%w: %d delivered twice", ErrInvalidIndex, i)
	}
	b.slots[i] = v
	b.filled[i] = true

	var ready []T
	var zero T
	for b.cursor < len(b.slots) && b.filled[b.cursor] {
		ready = append(ready, b.slots[b.cursor])
		b.slots[b.cursor] = zero
		b.cursor++
	}
	return ready, nil
}

// Cursor is the index of the next value to be released.
func (b *ReorderBuffer[T]) Cursor() int { return b.cursor }

// Pending counts values held back waiting for a lower index.
func (b *ReorderBuffer[T]) Pending() int {
	n := 0
	for i := b.cursor; i < len(b.filled); i++ {
		if b.filled[i] {
			n++
		}
	}
	return n
}

// Done reports whether every index has been released.
func (b *ReorderBuffer[T]) Done() bool { return b.cursor == len(b.slots) }

func (b *ReorderBuffer[T]) Len() int { return len(b.slots) }
