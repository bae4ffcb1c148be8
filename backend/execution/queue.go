package execution

import "container/heap"

// entry is one item held by the priority queue's internal heap.
type entry struct {
	order PrioritizedOrder
	index int
}

// orderHeap implements container/heap.Interface ordered by (priority asc,
// sequence asc) as required by §4.3.
type orderHeap []*entry

func (h orderHeap) Len() int { return len(h) }

func (h orderHeap) Less(i, j int) bool {
	if h[i].order.Priority != h[j].order.Priority {
		return h[i].order.Priority < h[j].order.Priority
	}
	return h[i].order.Seq < h[j].order.Seq
}

func (h orderHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *orderHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *orderHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// PriorityQueue is the unbounded, priority+FIFO order queue described in
// §4.3. Push is non-blocking; Pop blocks until an item is available or the
// queue is closed.
type PriorityQueue struct {
	items chan struct{}
	h     orderHeap
	push  chan PrioritizedOrder
	pop   chan PrioritizedOrder
	drain chan chan []PrioritizedOrder
	done  chan struct{}
}

// NewPriorityQueue starts the queue's internal serialization goroutine.
func NewPriorityQueue() *PriorityQueue {
	q := &PriorityQueue{
		push:  make(chan PrioritizedOrder),
		pop:   make(chan PrioritizedOrder),
		drain: make(chan chan []PrioritizedOrder),
		done:  make(chan struct{}),
	}
	heap.Init(&q.h)
	go q.loop()
	return q
}

func (q *PriorityQueue) loop() {
	for {
		if len(q.h) == 0 {
			select {
			case o := <-q.push:
				heap.Push(&q.h, &entry{order: o})
			case reply := <-q.drain:
				reply <- nil
			case <-q.done:
				return
			}
			continue
		}

		top := q.h[0].order
		select {
		case o := <-q.push:
			heap.Push(&q.h, &entry{order: o})
		case q.pop <- top:
			heap.Pop(&q.h)
		case reply := <-q.drain:
			all := make([]PrioritizedOrder, 0, len(q.h))
			for len(q.h) > 0 {
				all = append(all, heap.Pop(&q.h).(*entry).order)
			}
			reply <- all
		case <-q.done:
			return
		}
	}
}

// Push enqueues an order; never blocks on the broker or the consumer.
func (q *PriorityQueue) Push(o PrioritizedOrder) {
	select {
	case q.push <- o:
	case <-q.done:
	}
}

// Pop blocks until an order is available or the queue is closed, in which
// case ok is false.
func (q *PriorityQueue) Pop() (PrioritizedOrder, bool) {
	select {
	case o := <-q.pop:
		return o, true
	case <-q.done:
		return PrioritizedOrder{}, false
	}
}

// Drain synchronously removes and returns everything still queued, in
// priority order, without blocking on a consumer. Used during shutdown.
func (q *PriorityQueue) Drain() []PrioritizedOrder {
	reply := make(chan []PrioritizedOrder, 1)
	select {
	case q.drain <- reply:
		return <-reply
	case <-q.done:
		return nil
	}
}

// Close stops the queue's internal goroutine. Safe to call once.
func (q *PriorityQueue) Close() {
	close(q.done)
}
