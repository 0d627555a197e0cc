package domain

import "sort"

// ShelfSet is a set of bookshelf ids. Membership order is irrelevant; the
// zero value is usable.
type ShelfSet map[int64]struct{}

// NewShelfSet builds a set from a slice, dropping duplicates.
func NewShelfSet(ids []int64) ShelfSet {
	s := make(ShelfSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports membership.
func (s ShelfSet) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members as a sorted slice, the canonical storage form.
func (s ShelfSet) Sorted() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Diff computes the membership delta from old to new: toRemove = old − new,
// toAdd = new − old. Shelves present in both sets are untouched.
func Diff(old, new ShelfSet) (toRemove, toAdd []int64) {
	remove := make(ShelfSet)
	for id := range old {
		if !new.Contains(id) {
			remove[id] = struct{}{}
		}
	}
	add := make(ShelfSet)
	for id := range new {
		if !old.Contains(id) {
			add[id] = struct{}{}
		}
	}
	return remove.Sorted(), add.Sorted()
}
