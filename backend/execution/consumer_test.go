package execution

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantwell/optioncore/backend/cache"
	"github.com/quantwell/optioncore/backend/events"
)

func TestConsumerPlacesAdmittedOrderAndMarksOpen(t *testing.T) {
	queue := NewPriorityQueue()
	defer queue.Close()
	store := NewOrderStore()
	gw := &stubGateway{}
	publisher := events.NewMemoryPublisher()
	metrics := NewMetrics(prometheus.NewRegistry())
	consumer := NewConsumer(queue, gw, store, nil, publisher, metrics)

	go consumer.Run(context.Background())
	defer func() {
		consumer.Stop()
		consumer.Wait()
	}()

	queue.Push(PrioritizedOrder{Request: sampleReq(), Priority: PriorityManual, Seq: 1})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if orders := store.All(); len(orders) == 1 && orders[0].Status == StatusOpen {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the consumer to place the order and mark it OPEN")
}

func TestConsumerMarksRejectedOnGatewayFailure(t *testing.T) {
	queue := NewPriorityQueue()
	defer queue.Close()
	store := NewOrderStore()
	gw := &stubGateway{placeErr: ErrBrokerUnavailable}
	publisher := events.NewMemoryPublisher()
	metrics := NewMetrics(prometheus.NewRegistry())
	consumer := NewConsumer(queue, gw, store, nil, publisher, metrics)

	go consumer.Run(context.Background())
	defer func() {
		consumer.Stop()
		consumer.Wait()
	}()

	queue.Push(PrioritizedOrder{Request: sampleReq(), Priority: PriorityManual, Seq: 1})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if orders := store.All(); len(orders) == 1 && orders[0].Status == StatusRejected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the consumer to mark the order REJECTED on gateway failure")
}

func TestConsumerStopDrainsRemainingQueueBeforeExiting(t *testing.T) {
	queue := NewPriorityQueue()
	defer queue.Close()
	store := NewOrderStore()
	gw := &stubGateway{}
	backing := cache.NewMemoryCache(1<<20, 100)
	idem := NewIdempotencyStore(backing, time.Minute, SystemClock{})
	consumer := NewConsumer(queue, gw, store, idem, nil, nil)

	// Fill the queue before Run ever starts, so Stop must drain a backlog.
	for i := 0; i < 5; i++ {
		req := sampleReq()
		req.StrategyID = "strat-drain"
		req.Quantity = int64(10 + i)
		queue.Push(PrioritizedOrder{Request: req, Priority: PriorityManual, Seq: uint64(i)})
	}

	done := make(chan struct{})
	go func() {
		consumer.Run(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	consumer.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after Stop drains the queue")
	}

	if n := len(store.All()); n != 5 {
		t.Fatalf("expected all 5 queued orders to be placed during drain, got %d", n)
	}
}
