package history

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/ignite/funnel-studio/internal/domain"
)

// Collection is the keyed set of per-stage block lists an editing session
// works on.
type Collection map[string][]domain.Block

// Clone deep-copies the collection.
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for k, blocks := range c {
		out[k] = domain.CloneBlocks(blocks)
	}
	return out
}

// equateEmpty treats nil and empty maps/slices as equal, so a block with a
// nil style equals one with an empty style.
var equateEmpty = cmpopts.EquateEmpty()

// EqualBlocks compares two block lists by value.
func EqualBlocks(a, b []domain.Block) bool {
	return cmp.Equal(a, b, equateEmpty)
}

// EqualCollections compares two collections by value.
func EqualCollections(a, b Collection) bool {
	return cmp.Equal(a, b, equateEmpty)
}

// NewBlockHistory creates a history over a block collection.
func NewBlockHistory(initial Collection, maxSize int) *Manager[Collection] {
	if initial == nil {
		initial = Collection{}
	}
	return New(initial, maxSize, Collection.Clone, EqualCollections)
}
