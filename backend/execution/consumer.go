package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantwell/optioncore/backend/events"
	"github.com/quantwell/optioncore/backend/logging"
)

// OrderStore is the single-writer store the Consumer and Update Handler
// share. Orders are exclusively owned here; external readers get copies.
type OrderStore struct {
	mu     sync.RWMutex
	byID   map[string]*Order
	byBrk  map[string]*Order
}

// NewOrderStore returns an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{byID: make(map[string]*Order), byBrk: make(map[string]*Order)}
}

func (s *OrderStore) put(o *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[o.ID] = o
	if o.BrokerOrderID != "" {
		s.byBrk[o.BrokerOrderID] = o
	}
}

// Get returns a copy of the order by internal id.
func (s *OrderStore) Get(id string) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// GetByBrokerID returns a copy of the order by broker-assigned id.
func (s *OrderStore) GetByBrokerID(brokerID string) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byBrk[brokerID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// All returns a snapshot copy of every tracked order.
func (s *OrderStore) All() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Order, 0, len(s.byID))
	for _, o := range s.byID {
		out = append(out, *o)
	}
	return out
}

func (s *OrderStore) mutate(id string, fn func(o *Order)) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return Order{}, false
	}
	fn(o)
	if o.BrokerOrderID != "" {
		s.byBrk[o.BrokerOrderID] = o
	}
	return *o, true
}

func (s *OrderStore) mutateByBroker(brokerID string, fn func(o *Order)) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byBrk[brokerID]
	if !ok {
		return Order{}, false
	}
	fn(o)
	return *o, true
}

// Consumer is the single dequeue loop described in §4.3.
type Consumer struct {
	queue     *PriorityQueue
	gateway   Gateway
	store     *OrderStore
	idem      *IdempotencyStore
	publisher events.Publisher
	metrics   *Metrics

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewConsumer wires the Consumer's collaborators.
func NewConsumer(queue *PriorityQueue, gateway Gateway, store *OrderStore, idem *IdempotencyStore, publisher events.Publisher, metrics *Metrics) *Consumer {
	return &Consumer{
		queue:     queue,
		gateway:   gateway,
		store:     store,
		idem:      idem,
		publisher: publisher,
		metrics:   metrics,
		stop:      make(chan struct{}),
	}
}

// Run blocks, dequeueing and placing orders until Stop is called. During
// shutdown the loop finishes the in-flight call, then drains the queue
// synchronously so nothing queued is silently lost (§5 cancellation step 2).
func (c *Consumer) Run(ctx context.Context) {
	c.wg.Add(1)
	defer c.wg.Done()

	for {
		popped := make(chan PrioritizedOrder, 1)
		go func() {
			if po, ok := c.queue.Pop(); ok {
				popped <- po
			}
		}()

		select {
		case <-c.stop:
			for _, po := range c.queue.Drain() {
				c.place(ctx, po)
			}
			return
		case po := <-popped:
			c.place(ctx, po)
			if c.metrics != nil {
				c.metrics.QueueDepth.Dec()
			}
		}
	}
}

func (c *Consumer) place(ctx context.Context, po PrioritizedOrder) {
	now := time.Now()
	o := Order{
		OrderRequest: po.Request,
		ID:           uuid.NewString(),
		Status:       StatusPending,
		PlacedAt:     now,
		UpdatedAt:    now,
	}
	c.store.put(&o)

	brokerID, err := c.gateway.PlaceOrder(ctx, o)
	if err != nil {
		o.Status = StatusRejected
		o.RejectReason = err.Error()
		o.UpdatedAt = time.Now()
		c.store.put(&o)
		c.emit(ctx, EventRejected, o, StatusPending, po.Request.CorrelationID)
		return
	}

	o.BrokerOrderID = brokerID
	o.Status = StatusOpen
	o.UpdatedAt = time.Now()
	c.store.put(&o)
	c.emit(ctx, EventPlaced, o, StatusPending, po.Request.CorrelationID)
}

func (c *Consumer) emit(ctx context.Context, kind EventKind, o Order, prev Status, corrID string) {
	if c.publisher == nil {
		return
	}
	ev := OrderEvent{Kind: kind, Order: o, PreviousStatus: prev, CorrelationID: corrID, At: time.Now()}
	if err := c.publisher.Publish(ctx, events.SubjectOrders, ev); err != nil {
		logging.Error("consumer: failed to publish order event", err)
	}
}

// Stop signals Run to exit after draining. It does not block.
func (c *Consumer) Stop() {
	close(c.stop)
}

// Wait blocks until Run has returned.
func (c *Consumer) Wait() {
	c.wg.Wait()
}
