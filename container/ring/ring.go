/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package ring is a GC friendly ring implementation backing global's
// fixed-capacity allocation trace: items are allocated by one malloc and
// cannot be resized or grown, which is exactly the shape a bounded
// circular history needs. Trimmed to the subset global actually calls
// (Get/Do/Len plus Item access) from the original Next/Prev/Move/Head
// ring-traversal API, which a single-writer circular trace index has no
// use for.
package ring

// Ring is a GC friendly ring implementation.
// items are allocated by one malloc and cannot be resized. Item inside
// can be accessed and modified in place via Item.Pointer.
// V must NOT contain pointers, for performance concern.
type Ring[V any] struct {
	items []Item[V]
}

// Item is the element stored in the Ring.
type Item[V any] struct {
	value V
	idx   int
}

// NewFromSlice builds a Ring of len(vv) items, one bulk allocation
// backing all of them.
func NewFromSlice[V any](vv []V) *Ring[V] {
	r := &Ring[V]{}
	r.items = make([]Item[V], len(vv))
	for i := 0; i < len(vv); i++ {
		r.items[i].value = vv[i]
		r.items[i].idx = i
	}
	return r
}

// Get returns the ith item.
func (r *Ring[V]) Get(i int) (*Item[V], bool) {
	if i < 0 || i >= len(r.items) {
		return nil, false
	}
	return &r.items[i], true
}

// Do calls f on each item of the ring in index order.
func (r *Ring[V]) Do(f func(v *V)) {
	for i := 0; i < len(r.items); i++ {
		f(&r.items[i].value)
	}
}

// Len returns the number of items in the ring.
func (r *Ring[V]) Len() int {
	return len(r.items)
}

// Index returns the index of the item in the ring.
func (it *Item[V]) Index() int {
	return it.idx
}

// Value returns the value of the item.
func (it *Item[V]) Value() V {
	return it.value
}

// Pointer returns a pointer to the item's value for in-place
// modification. Do not retain it past the Ring's lifetime.
func (it *Item[V]) Pointer() *V {
	return &it.value
}
