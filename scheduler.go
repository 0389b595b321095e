package wansim

// scheduler.go implements the event scheduler that drives a simulation
// run.  An EventManager owns the virtual clock and a priority queue of
// pending events.  Events with equal timestamps execute in the order
// they were scheduled, so two runs given the same sequence of Schedule
// calls replay identically.  Event execution is strictly sequential,
// one event runs to completion before the next is popped, which is the
// concurrency discipline every other structure in the package assumes.

import (
	"container/heap"
	"errors"
)

// ErrInvalidDelay is returned by Schedule when the offset would place
// an event before the current clock value
var ErrInvalidDelay = errors.New("negative scheduling delay")

// EventHandlerFunction is the signature of all event handlers.  The context
// argument carries the object the event concerns, data carries the payload
// given at scheduling time.  The return value is ignored by the scheduler.
type EventHandlerFunction func(evtMgr *EventManager, context any, data any) any

// event binds a handler and its arguments to a point in virtual time.
// seq is the global scheduling sequence number used to break timestamp ties.
type event struct {
	time      Time
	seq       int64
	evtID     int
	context   any
	data      any
	handler   EventHandlerFunction
	cancelled bool
}

// eventHeap and its methods implement a min-priority heap on
// (timestamp, scheduling sequence)
type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].time.EQ(h[j].time) {
		return h[i].seq < h[j].seq
	}
	return h[i].time.LT(h[j].time)
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(*event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// EventManager holds the virtual clock and the queue of pending events
type EventManager struct {
	now      Time
	pending  eventHeap
	byID     map[int]*event
	nxtSeq   int64
	nxtEvtID int
}

// CreateEventManager is a constructor.  The clock starts at virtual time zero.
func CreateEventManager() *EventManager {
	evtMgr := new(EventManager)
	evtMgr.now = TimeZero
	evtMgr.pending = eventHeap{}
	heap.Init(&evtMgr.pending)
	evtMgr.byID = make(map[int]*event)
	return evtMgr
}

// CurrentTime returns the virtual clock value, which equals the timestamp
// of the most recently executed event
func (evtMgr *EventManager) CurrentTime() Time {
	return evtMgr.now
}

// CurrentSeconds returns the virtual clock value in seconds
func (evtMgr *EventManager) CurrentSeconds() float64 {
	return evtMgr.now.Seconds()
}

// Schedule enqueues a call to handler at the current clock value plus offset.
// It returns an event identifier that can be passed to CancelEvent.
// A negative offset is rejected with ErrInvalidDelay and nothing is enqueued.
func (evtMgr *EventManager) Schedule(context any, data any,
	handler EventHandlerFunction, offset Time) (int, error) {

	if offset.Neg() {
		return -1, ErrInvalidDelay
	}

	evtMgr.nxtSeq += 1
	evtMgr.nxtEvtID += 1

	evt := &event{
		time:    evtMgr.now.Plus(offset),
		seq:     evtMgr.nxtSeq,
		evtID:   evtMgr.nxtEvtID,
		context: context,
		data:    data,
		handler: handler,
	}

	heap.Push(&evtMgr.pending, evt)
	evtMgr.byID[evt.evtID] = evt

	return evt.evtID, nil
}

// CancelEvent marks the identified event inert so the run loop skips it.
// Cancelling an event that already executed, was already cancelled, or
// never existed is a no-op.
func (evtMgr *EventManager) CancelEvent(evtID int) {
	evt, present := evtMgr.byID[evtID]
	if !present {
		return
	}
	evt.cancelled = true
	delete(evtMgr.byID, evtID)
}

// RunUntil drives the queue forward until it is exhausted or the next
// event lies beyond stopTime.  Events beyond stopTime are never popped.
// The clock is left at the timestamp of the last executed event.
func (evtMgr *EventManager) RunUntil(stopTime Time) {
	for evtMgr.pending.Len() > 0 {
		if evtMgr.pending[0].time.GT(stopTime) {
			return
		}

		evt := heap.Pop(&evtMgr.pending).(*event)
		delete(evtMgr.byID, evt.evtID)

		if evt.cancelled {
			continue
		}

		// handlers observe the clock already advanced to their own timestamp
		evtMgr.now = evt.time
		evt.handler(evtMgr, evt.context, evt.data)
	}
}

// Run is a convenience wrapper on RunUntil for a stop time given in seconds
func (evtMgr *EventManager) Run(stopSeconds float64) {
	evtMgr.RunUntil(SecondsToTime(stopSeconds))
}
