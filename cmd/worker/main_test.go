package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestDispatch_WaitsForRunningHandlers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Body: []byte("a")}
	deliveries <- amqp.Delivery{Body: []byte("b")}

	var started, finished atomic.Int32
	done := make(chan struct{})
	go func() {
		dispatch(ctx, deliveries, func(amqp.Delivery) {
			if started.Add(1) == 2 {
				cancel()
			}
			time.Sleep(20 * time.Millisecond)
			finished.Add(1)
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not return after cancellation")
	}
	if got := finished.Load(); got != 2 {
		t.Fatalf("dispatch returned with %d of 2 handlers finished", got)
	}
}

func TestDispatch_ReturnsWhenDeliveriesClose(t *testing.T) {
	deliveries := make(chan amqp.Delivery)
	close(deliveries)

	var calls atomic.Int32
	dispatch(context.Background(), deliveries, func(amqp.Delivery) { calls.Add(1) })
	if calls.Load() != 0 {
		t.Fatalf("unexpected handler calls %d", calls.Load())
	}
}

func TestClock(t *testing.T) {
	if got := clock(time.Hour + 2*time.Minute + 3*time.Second); got != "01:02:03" {
		t.Fatalf("clock = %q", got)
	}
}
