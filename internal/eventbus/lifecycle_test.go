package eventbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubscriptionGroupCloseAll(t *testing.T) {
	bus := New()

	noop := func(context.Context, Envelope) error { return nil }
	sub1, err := bus.Subscribe(TopicTextInput, noop)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub2, err := bus.Subscribe(TopicSpeechOutput, noop)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var group SubscriptionGroup
	group.Add(sub1, nil, sub2)
	if group.Len() != 2 {
		t.Fatalf("group tracked %d subscriptions, want 2", group.Len())
	}

	group.CloseAll()

	if total := bus.TotalSubscribers(); total != 0 {
		t.Fatalf("expected all subscriptions closed, %d left", total)
	}
	if group.Len() != 0 {
		t.Fatalf("group not cleared after CloseAll")
	}

	// Second CloseAll is a no-op.
	group.CloseAll()
}

func TestServiceLifecycleRunsAndStopsWorkers(t *testing.T) {
	var lc ServiceLifecycle
	lc.Start(context.Background())

	var ticks atomic.Int64
	lc.Go(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
				ticks.Add(1)
			}
		}
	})

	time.Sleep(20 * time.Millisecond)

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := lc.Shutdown(waitCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if ticks.Load() == 0 {
		t.Fatal("worker never ran")
	}
}

func TestWaitForWorkersHonoursContext(t *testing.T) {
	var lc ServiceLifecycle
	lc.Start(context.Background())

	release := make(chan struct{})
	lc.Go(func(ctx context.Context) {
		<-release
	})

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := lc.Wait(waitCtx); err == nil {
		t.Fatal("expected context deadline error while worker is stuck")
	}

	close(release)
	if err := lc.Wait(context.Background()); err != nil {
		t.Fatalf("wait after release: %v", err)
	}
}
