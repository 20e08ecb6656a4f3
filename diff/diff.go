// Package diff computes structural differences between two historical layer
// snapshots and selectively combines them into a merged layer list.
package diff

import (
	"reflect"

	"designboard/core"
)

// Kind classifies a single layer difference.
type Kind string

const (
	Added    Kind = "added"    // present in compare, absent in base
	Removed  Kind = "removed"  // present in base, absent in compare
	Modified Kind = "modified" // present in both, structurally unequal
)

// Entry is one layer-level difference between two snapshots.
type Entry struct {
	LayerID string      `json:"layerId"`
	Kind    Kind        `json:"kind"`
	Base    *core.Layer `json:"base,omitempty"`
	Compare *core.Layer `json:"compare,omitempty"`
}

// Layers diffs the compare layer list against the base list. For every id in
// the symmetric union: absent in base is Added, absent in compare is Removed,
// deep-unequal is Modified, equal layers produce no entry. Entries are ordered
// by first appearance, base list first.
func Layers(base, compare []core.Layer) []Entry {
	baseByID := indexByID(base)
	compareByID := indexByID(compare)

	entries := []Entry{}
	for i := range base {
		b := &base[i]
		c, ok := compareByID[b.ID]
		if !ok {
			entries = append(entries, Entry{LayerID: b.ID, Kind: Removed, Base: b})
			continue
		}
		if !reflect.DeepEqual(*b, *c) {
			entries = append(entries, Entry{LayerID: b.ID, Kind: Modified, Base: b, Compare: c})
		}
	}
	for i := range compare {
		c := &compare[i]
		if _, ok := baseByID[c.ID]; !ok {
			entries = append(entries, Entry{LayerID: c.ID, Kind: Added, Compare: c})
		}
	}
	return entries
}

// Merge applies the selected subset of entries onto the base layer list and
// returns the merged list. Each selected id's effect is applied independently
// and exactly once, so selection order does not matter. Unselected entries
// leave the base untouched. Removals delete the first matching id found by
// linear search.
func Merge(base []core.Layer, entries []Entry, selected []string) []core.Layer {
	want := make(map[string]bool, len(selected))
	for _, id := range selected {
		want[id] = true
	}

	merged := make([]core.Layer, len(base))
	copy(merged, base)

	for _, e := range entries {
		if !want[e.LayerID] {
			continue
		}
		switch e.Kind {
		case Added:
			merged = append(merged, *e.Compare)
		case Removed:
			for i := range merged {
				if merged[i].ID == e.LayerID {
					merged = append(merged[:i], merged[i+1:]...)
					break
				}
			}
		case Modified:
			for i := range merged {
				if merged[i].ID == e.LayerID {
					merged[i] = *e.Compare
					break
				}
			}
		}
	}
	return merged
}

func indexByID(layers []core.Layer) map[string]*core.Layer {
	byID := make(map[string]*core.Layer, len(layers))
	for i := range layers {
		byID[layers[i].ID] = &layers[i]
	}
	return byID
}
