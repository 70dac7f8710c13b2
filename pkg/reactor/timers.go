package reactor

import (
	"container/heap"
	"time"
)

type timerEntry struct {
	at    time.Time
	x     *Exchange
	index int
}

// timerHeap orders pending exchange deadlines, earliest first. It is only
// touched from the loop goroutine.
type timerHeap []*timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(v any) {
	e := v.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

func (h *timerHeap) schedule(x *Exchange, at time.Time) {
	e := &timerEntry{at: at, x: x}
	x.timer = e
	heap.Push(h, e)
}

func (h *timerHeap) drop(x *Exchange) {
	if x.timer == nil || x.timer.index < 0 {
		x.timer = nil
		return
	}
	heap.Remove(h, x.timer.index)
	x.timer = nil
}

// next returns the earliest pending deadline.
func (h timerHeap) next() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	return h[0].at, true
}

// expire pops every deadline at or before now and returns the affected
// exchanges.
func (h *timerHeap) expire(now time.Time) []*Exchange {
	var expired []*Exchange
	for len(*h) > 0 && !(*h)[0].at.After(now) {
		e := heap.Pop(h).(*timerEntry)
		e.x.timer = nil
		expired = append(expired, e.x)
	}
	return expired
}
