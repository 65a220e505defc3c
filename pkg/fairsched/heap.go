// Copyright 2024 The Fairsched Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the file LICENSE.

package fairsched

import "container/heap"

// classHeap is a container/heap.Interface over the set of plugged,
// non-empty priority classes, ordered by accumulated ascending (the class
// that has consumed the least scaled capacity dispatches next). Each
// priorityClass tracks its own index into the backing slice so that an
// arbitrary class — not just the current top — can be removed in
// O(log n), which Unplug needs (a class being unplugged is not
// necessarily the one currently at the head of the heap).
type classHeap struct {
	classes []*priorityClass
}

var _ heap.Interface = (*classHeap)(nil)

func (h *classHeap) Len() int { return len(h.classes) }

func (h *classHeap) Less(i, j int) bool {
	return h.classes[i].accumulated < h.classes[j].accumulated
}

func (h *classHeap) Swap(i, j int) {
	h.classes[i], h.classes[j] = h.classes[j], h.classes[i]
	h.classes[i].heapIndex = i
	h.classes[j].heapIndex = j
}

func (h *classHeap) Push(x interface{}) {
	pc := x.(*priorityClass)
	pc.heapIndex = len(h.classes)
	h.classes = append(h.classes, pc)
}

func (h *classHeap) Pop() interface{} {
	n := len(h.classes)
	pc := h.classes[n-1]
	h.classes[n-1] = nil
	h.classes = h.classes[:n-1]
	pc.heapIndex = -1
	return pc
}

// peek returns the class at the head of the heap without removing it. It
// must only be called when h.Len() > 0.
func (h *classHeap) peek() *priorityClass {
	return h.classes[0]
}
