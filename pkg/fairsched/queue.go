// Copyright 2024 The Fairsched Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the file LICENSE.

package fairsched

import (
	"container/heap"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fairsched/fairsched/pkg/util/ring"
)

// ClassID names a priority class registered with a FairQueue. Classes are
// dense small integers assigned by the caller (typically an enum of
// request origins: interactive, batch, compaction, and so on).
type ClassID uint32

// Entry is one unit of queued work: a Ticket describing its cost and an
// opaque Payload the caller attaches and recovers from the dispatch
// callback. Entry is intentionally minimal — FairQueue never interprets
// Payload.
type Entry struct {
	ticket  Ticket
	Payload interface{}
}

// NewEntry constructs an Entry with the given cost and payload.
func NewEntry(ticket Ticket, payload interface{}) *Entry {
	return &Entry{ticket: ticket, Payload: payload}
}

// Ticket returns the entry's cost. After NotifyCancelled, this reads back
// as the zero Ticket.
func (e *Entry) Ticket() Ticket { return e.ticket }

// priorityClass is the per-class bookkeeping record: its FIFO of queued
// entries, its position in the fairness accounting, and its membership in
// the dispatch heap.
type priorityClass struct {
	id     ClassID
	shares uint32

	// accumulated is the scaled-capacity fairness accumulator this class
	// is ordered on. Signed so that renormalize can subtract without
	// underflow ceremony; see FairQueue.renormalize.
	accumulated int64

	// pureAccumulated is the unscaled running total of capacity this
	// class has been granted, exposed only as a metric.
	pureAccumulated uint64

	queue ring.Buffer[*Entry]

	plugged   bool
	queued    bool
	heapIndex int

	metrics classMetrics
}

// pendingWait records a reservation this FairQueue is still waiting on the
// gate to satisfy, blocking further dispatch until it clears.
type pendingWait struct {
	headTarget Capacity
	cap        Capacity
}

type grabResult int

const (
	grabGrabbed grabResult = iota
	grabPending
	grabCantPreempt
)

// farFuture stands in for "never" as a return value from NextPendingAIO.
var farFuture = time.Date(9999, time.January, 1, 0, 0, 0, 0, time.UTC)

// FairQueue is a single shard's weighted fair scheduler: it holds one
// FIFO per registered priority class, orders classes in a min-heap keyed
// by a fairness accumulator, and dispatches cost-weighted requests
// against capacity grabbed from a shared FairGroup gate. FairQueue itself
// is not safe for concurrent use — each shard in a thread-per-core runtime
// owns exactly one, and only the shared FairGroup is accessed
// concurrently across shards.
type FairQueue struct {
	cfg   QueueConfig
	group *FairGroup

	// groupReplenish is this queue's local view of when the gate was last
	// asked to replenish; advanced lazily by MaybeReplenish.
	groupReplenish time.Time

	classes []*priorityClass
	heap    classHeap

	// lastAccumulated is the largest accumulated value (taken just before
	// its increment) of any class dispatched since the last
	// renormalization, used as the push-from-idle reference point;
	// renormalize resets it to zero.
	lastAccumulated int64

	pending *pendingWait

	resourcesExecuting Ticket
	resourcesQueued    Ticket
	requestsExecuting  int
	requestsQueued     int

	metrics *Metrics
}

// NewFairQueue constructs a FairQueue attached to group, using cfg to
// configure its anti-starvation handicap window and per-dispatch budget
// share.
func NewFairQueue(group *FairGroup, cfg QueueConfig) *FairQueue {
	return &FairQueue{
		cfg:            cfg,
		group:          group,
		groupReplenish: group.Now(),
		classes:        make([]*priorityClass, 0),
		metrics:        newMetrics(),
	}
}

// Metrics returns the queue's metric registry, for wiring into a
// prometheus.Gatherer.
func (q *FairQueue) Metrics() *Metrics { return q.metrics }

func (q *FairQueue) classFor(id ClassID) *priorityClass {
	if int(id) >= len(q.classes) {
		return nil
	}
	return q.classes[id]
}

// RegisterClass adds a new priority class with the given share weight
// (clamped to a minimum of 1). Registering an already-registered class is
// a programming error.
func (q *FairQueue) RegisterClass(id ClassID, shares uint32) {
	for int(id) >= len(q.classes) {
		q.classes = append(q.classes, nil)
	}
	if q.classes[id] != nil {
		panic(errors.AssertionFailedf("fairsched: class %d is already registered", id))
	}
	if shares == 0 {
		shares = 1
	}
	pc := &priorityClass{id: id, shares: shares, plugged: true, heapIndex: -1}
	pc.metrics = q.metrics.registerClass(id)
	q.classes[id] = pc
}

// UnregisterClass removes a priority class. Unregistering a class with
// entries still queued is a programming error: callers must drain (or
// cancel) a class's entries before unregistering it.
func (q *FairQueue) UnregisterClass(id ClassID) {
	pc := q.classFor(id)
	if pc == nil {
		panic(errors.AssertionFailedf("fairsched: class %d is not registered", id))
	}
	if !pc.queue.Empty() {
		panic(errors.AssertionFailedf("fairsched: class %d unregistered with requests still queued", id))
	}
	if pc.queued {
		q.popPriorityClass(pc)
	}
	q.classes[id] = nil
}

// UpdateShares changes a class's share weight. The change is visible to
// dispatch decisions made after this call returns; it does not retroactively
// adjust the class's existing accumulated value.
func (q *FairQueue) UpdateShares(id ClassID, shares uint32) {
	pc := q.classFor(id)
	if pc == nil {
		panic(errors.AssertionFailedf("fairsched: class %d is not registered", id))
	}
	if shares == 0 {
		shares = 1
	}
	pc.shares = shares
}

// Plug re-enables dispatch from a class previously Unplugged, rejoining
// its queue to the dispatch heap (with the idle handicap applied) if it
// has entries waiting. Plugging an already-plugged class is a programming
// error.
func (q *FairQueue) Plug(id ClassID) {
	pc := q.classFor(id)
	if pc == nil {
		panic(errors.AssertionFailedf("fairsched: class %d is not registered", id))
	}
	if pc.plugged || pc.queued {
		panic(errors.AssertionFailedf("fairsched: class %d is already plugged", id))
	}
	pc.plugged = true
	if !pc.queue.Empty() {
		q.pushPriorityClassFromIdle(pc)
	}
}

// Unplug withdraws a class from dispatch consideration without discarding
// its queued entries; they simply stop being offered to Dispatch until
// Plug is called again. Unplugging an already-unplugged class is a
// programming error.
func (q *FairQueue) Unplug(id ClassID) {
	pc := q.classFor(id)
	if pc == nil {
		panic(errors.AssertionFailedf("fairsched: class %d is not registered", id))
	}
	if !pc.plugged {
		panic(errors.AssertionFailedf("fairsched: class %d is already unplugged", id))
	}
	if pc.queued {
		q.popPriorityClass(pc)
	}
	pc.plugged = false
}

// Queue appends entry to class id's FIFO, joining the class to the
// dispatch heap if it was idle.
func (q *FairQueue) Queue(id ClassID, entry *Entry) {
	pc := q.classFor(id)
	if pc == nil {
		panic(errors.AssertionFailedf("fairsched: class %d is not registered", id))
	}
	wasEmpty := pc.queue.Empty()
	pc.queue.PushBack(entry)
	q.resourcesQueued = q.resourcesQueued.Add(entry.ticket)
	q.requestsQueued++
	q.metrics.requestsQueued.Update(int64(q.requestsQueued))
	if wasEmpty && pc.plugged && !pc.queued {
		q.pushPriorityClassFromIdle(pc)
	}
}

// NotifyCancelled marks entry as cancelled: its ticket is zeroed and no
// longer counted against resourcesQueued, but the entry itself is left in
// its class's FIFO to preserve ordering — Dispatch will eventually offer
// it to the callback with a zero Ticket, and the caller is expected to
// recognize that and discard it without performing the underlying work.
func (q *FairQueue) NotifyCancelled(entry *Entry) {
	q.resourcesQueued = q.resourcesQueued.Sub(entry.ticket)
	entry.ticket = Ticket{}
}

// NotifyFinished records the completion of a dispatched request, releasing
// the capacity it held back to the gate and decrementing the queue's
// executing counters.
func (q *FairQueue) NotifyFinished(ticket Ticket) {
	q.resourcesExecuting = q.resourcesExecuting.Sub(ticket)
	q.requestsExecuting--
	q.metrics.requestsExecuting.Update(int64(q.requestsExecuting))
	q.group.Release(q.group.TicketCapacity(ticket))
}

// ResourcesExecuting returns the total ticket cost of entries currently
// dispatched but not yet completed via NotifyFinished.
func (q *FairQueue) ResourcesExecuting() Ticket { return q.resourcesExecuting }

// ResourcesQueued returns the total ticket cost of entries queued but not
// yet dispatched.
func (q *FairQueue) ResourcesQueued() Ticket { return q.resourcesQueued }

// Stats is a point-in-time snapshot of a FairQueue's queued/executing
// counters, suitable for a status endpoint or log line.
type Stats struct {
	RequestsQueued     int
	RequestsExecuting  int
	ResourcesQueued    Ticket
	ResourcesExecuting Ticket
}

// Stats returns a snapshot of the queue's current counters.
func (q *FairQueue) Stats() Stats {
	return Stats{
		RequestsQueued:     q.requestsQueued,
		RequestsExecuting:  q.requestsExecuting,
		ResourcesQueued:    q.resourcesQueued,
		ResourcesExecuting: q.resourcesExecuting,
	}
}

// NextPendingAIO estimates when the gate will next be able to satisfy this
// queue's oldest outstanding reservation, for a reactor to use as a
// sleep/poll deadline. It returns farFuture if the queue has no pending
// reservation.
func (q *FairQueue) NextPendingAIO() time.Time {
	if q.pending == nil {
		return farFuture
	}
	deficiency := q.group.Deficiency(q.pending.headTarget)
	if deficiency == 0 {
		return q.group.Now()
	}
	return q.group.Now().Add(q.group.Duration(deficiency))
}

// Dispatch offers the queue's highest-priority eligible entries to cb, one
// at a time, in accumulated-fairness order, until either the gate runs out
// of tokens, this shard's per-call capacity budget is exhausted, or no
// class has any dispatchable entry. cb is called synchronously and must
// not re-enter Dispatch.
func (q *FairQueue) Dispatch(cb func(*Entry)) {
	budget := q.group.MaximumCapacity() / Capacity(q.cfg.shardCount())
	var dispatched Capacity
	var setAside []*priorityClass

	for q.heap.Len() > 0 && dispatched < budget {
		pc := q.heap.peek()
		if pc.queue.Empty() {
			q.popPriorityClass(pc)
			continue
		}

		entry := pc.queue.Front()
		switch q.grabCapacity(pc, entry) {
		case grabPending:
			goto done

		case grabCantPreempt:
			q.popPriorityClass(pc)
			setAside = append(setAside, pc)
			continue

		case grabGrabbed:
			if pc.accumulated > q.lastAccumulated {
				q.lastAccumulated = pc.accumulated
			}
			q.popPriorityClass(pc)
			entry = pc.queue.PopFront()

			q.resourcesExecuting = q.resourcesExecuting.Add(entry.ticket)
			q.resourcesQueued = q.resourcesQueued.Sub(entry.ticket)
			q.requestsExecuting++
			q.requestsQueued--
			q.metrics.requestsExecuting.Update(int64(q.requestsExecuting))
			q.metrics.requestsQueued.Update(int64(q.requestsQueued))

			reqCap := q.group.TicketCapacity(entry.ticket)
			reqCost := int64(reqCap / Capacity(pc.shares))
			if reqCost < 1 {
				reqCost = 1
			}

			if pc.accumulated >= math.MaxInt64-reqCost {
				q.renormalize(pc)
			}
			pc.accumulated += reqCost
			pc.pureAccumulated += reqCap
			pc.metrics.update(pc.pureAccumulated, pc.accumulated)

			dispatched += reqCap
			cb(entry)

			if pc.plugged && !pc.queue.Empty() {
				q.pushPriorityClass(pc)
			}
		}
	}

done:
	for _, pc := range setAside {
		if pc.plugged && !pc.queue.Empty() {
			q.pushPriorityClass(pc)
		}
	}
}

// grabCapacity attempts to reserve entry's cost at the gate on behalf of
// pc, returning whether the reservation succeeded outright, must wait, or
// (when a different reservation is already pending) cannot be serviced
// ahead of that one.
func (q *FairQueue) grabCapacity(pc *priorityClass, entry *Entry) grabResult {
	if q.pending != nil {
		return q.grabPendingCapacity(entry)
	}
	cap := q.group.TicketCapacity(entry.ticket)
	headTarget := q.group.Grab(cap)
	if q.group.Deficiency(headTarget) > 0 {
		q.pending = &pendingWait{headTarget: headTarget, cap: cap}
		return grabPending
	}
	return grabGrabbed
}

// grabPendingCapacity resolves (or continues waiting on) an
// already-outstanding reservation. A smaller entry than the one the gate
// is waiting on may proceed (releasing the unused remainder back to the
// gate); a larger one must wait its turn.
func (q *FairQueue) grabPendingCapacity(entry *Entry) grabResult {
	q.group.MaybeReplenish(&q.groupReplenish)
	if q.group.Deficiency(q.pending.headTarget) > 0 {
		return grabPending
	}
	cap := q.group.TicketCapacity(entry.ticket)
	if cap > q.pending.cap {
		return grabCantPreempt
	}
	if cap < q.pending.cap {
		q.group.Release(q.pending.cap - cap)
	}
	q.pending = nil
	return grabGrabbed
}

// pushPriorityClass re-joins an already-fairness-ordered class to the
// dispatch heap after Dispatch has updated its accumulated value. pc must
// be plugged; a class that is already queued (for example, re-queued from
// inside the dispatch callback) is left where it is.
func (q *FairQueue) pushPriorityClass(pc *priorityClass) {
	if pc.queued {
		return
	}
	if !pc.plugged {
		panic(errors.AssertionFailedf("fairsched: pushPriorityClass on unplugged class %d", pc.id))
	}
	heap.Push(&q.heap, pc)
	pc.queued = true
}

// pushPriorityClassFromIdle joins a class to the dispatch heap after it
// transitions from empty-queue to non-empty (or from unplugged to
// plugged), applying an anti-monopoly handicap so it cannot leapfrog
// classes that have been dispatching all along: its
// accumulated value is raised to at least lastAccumulated minus the
// maximum deviation its share and the queue's tau allow.
func (q *FairQueue) pushPriorityClassFromIdle(pc *priorityClass) {
	if pc.queued {
		return
	}
	tauTicks := float64(q.cfg.tau()) / float64(rateResolution)
	maxDeviation := int64(math.Round(fixedPointFactor / float64(pc.shares) * tauTicks))
	candidate := q.lastAccumulated - maxDeviation
	if candidate > pc.accumulated {
		pc.accumulated = candidate
	}
	heap.Push(&q.heap, pc)
	pc.queued = true
}

// popPriorityClass removes pc from the dispatch heap. pc must be plugged
// and queued.
func (q *FairQueue) popPriorityClass(pc *priorityClass) {
	if !pc.plugged || !pc.queued {
		panic(errors.AssertionFailedf("fairsched: popPriorityClass on class %d not both plugged and queued", pc.id))
	}
	heap.Remove(&q.heap, pc.heapIndex)
	pc.queued = false
}

// renormalize rescales every class's accumulated value down by h's, and
// resets lastAccumulated, to avoid signed-int64 overflow in a queue that
// has been running long enough to accumulate that much scaled capacity.
// Non-queued classes (including h itself, already popped by the time this
// runs) are simply zeroed rather than shifted, since their relative
// ordering doesn't matter until they rejoin the heap anyway.
func (q *FairQueue) renormalize(h *priorityClass) {
	base := h.accumulated
	for _, pc := range q.classes {
		if pc == nil {
			continue
		}
		if pc.queued {
			pc.accumulated -= base
			if pc.accumulated < 0 {
				pc.accumulated = 0
			}
		} else {
			pc.accumulated = 0
		}
	}
	q.lastAccumulated = 0
}
