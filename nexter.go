package rdk

import (
	"sync/atomic"
)

// INexter is the interface for monotonic index generators.
type INexter interface {
	Next() uint64
	Last() uint64
}

// Nexter is a threadsafe monotonic unique index generator. The dataset
// writer uses one per index column (frame, episode, global).
type Nexter struct {
	id *uint64
}

// NewNexter creates a new index generator starting at 0.
func NewNexter() *Nexter {
	var id uint64
	return &Nexter{
		id: &id,
	}
}

// NewNexterAt creates a new index generator whose first Next returns start.
// Useful when resuming an existing dataset.
func NewNexterAt(start uint64) *Nexter {
	id := start
	return &Nexter{
		id: &id,
	}
}

// Next generates a new index and returns it.
func (n *Nexter) Next() (nextID uint64) {
	nextID = atomic.AddUint64(n.id, 1)
	return nextID - 1
}

// Last returns the most recently generated index.
func (n *Nexter) Last() (lastID uint64) {
	lastID = atomic.LoadUint64(n.id) - 1
	return
}
