// Package ranking assigns sparse fractional ranks to items in an ordered
// collection. A moved item normally receives a single new rank between its
// neighbours; when the gap between neighbours has been bisected too often the
// whole collection is renormalized to evenly spaced ranks.
package ranking

import (
	"fmt"
	"math"
	"slices"
	"time"
)

const (
	// Spacing is the gap between consecutive ranks after renormalization and
	// the step used for moves to either end of the list.
	Spacing = 1000.0

	// NormalizationThreshold is the smallest neighbour gap that may still be
	// bisected. Narrower gaps force a renormalization.
	NormalizationThreshold = 1.0
)

// Item is one entry of an ordered collection. Payload is carried through
// untouched.
type Item struct {
	ID      string
	Rank    float64
	Payload map[string]any
}

type Kind string

const (
	KindSingle      Kind = "single"
	KindRenormalize Kind = "renormalize"
)

// Plan is the allocator's answer for one move. Rank is set for KindSingle,
// Ranks for KindRenormalize.
type Plan struct {
	Kind  Kind
	Rank  float64
	Ranks map[string]float64
}

// Allocate computes the rank for the item movedID that now sits at newIndex.
// items must already reflect the positional move.
//
// Allocate panics when newIndex is out of range or does not hold movedID:
// callers validate user input before getting here.
func Allocate(items []Item, movedID string, newIndex int) Plan {
	if newIndex < 0 || newIndex >= len(items) {
		panic(fmt.Sprintf("ranking: index %d out of range for %d items", newIndex, len(items)))
	}
	if items[newIndex].ID != movedID {
		panic(fmt.Sprintf("ranking: item at index %d is %q, not %q", newIndex, items[newIndex].ID, movedID))
	}

	last := len(items) - 1
	switch {
	case newIndex == 0:
		if len(items) > 1 {
			return Plan{Kind: KindSingle, Rank: items[1].Rank - Spacing}
		}
		return Plan{Kind: KindSingle, Rank: Spacing}
	case newIndex == last:
		return Plan{Kind: KindSingle, Rank: items[last-1].Rank + Spacing}
	}

	left := items[newIndex-1].Rank
	right := items[newIndex+1].Rank
	if math.Abs(right-left) < NormalizationThreshold {
		return Plan{Kind: KindRenormalize, Ranks: Renormalize(items)}
	}
	return Plan{Kind: KindSingle, Rank: (left + right) / 2}
}

// Renormalize returns evenly spaced ranks keyed by item id, preserving the
// order of items.
func Renormalize(items []Item) map[string]float64 {
	ranks := make(map[string]float64, len(items))
	for i, item := range items {
		ranks[item.ID] = float64(i+1) * Spacing
	}
	return ranks
}

// Move returns a copy of items with the element at from relocated to to.
func Move(items []Item, from, to int) []Item {
	out := Clone(items)
	if from == to {
		return out
	}
	moved := out[from]
	out = slices.Delete(out, from, from+1)
	return slices.Insert(out, to, moved)
}

// Sort orders items by ascending rank. Ties keep their relative order.
func Sort(items []Item) {
	slices.SortStableFunc(items, func(a, b Item) int {
		switch {
		case a.Rank < b.Rank:
			return -1
		case a.Rank > b.Rank:
			return 1
		default:
			return 0
		}
	})
}

// Clone copies the slice. Payload maps are shared; nothing here mutates them.
func Clone(items []Item) []Item {
	if items == nil {
		return nil
	}
	return slices.Clone(items)
}

// CreationRank is the rank given to a newly created item. The millisecond
// clock places new items after everything created before them.
func CreationRank(now time.Time) float64 {
	return float64(now.UnixMilli())
}
