package eventbus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"
)

func publishText(t *testing.T, bus *Bus, text string) {
	t.Helper()
	err := bus.Publish(context.Background(), Envelope{
		Topic:   TopicTextInput,
		Source:  SourceClient,
		Payload: TextInputEvent{Text: text},
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var order []string
	record := func(name string) Handler {
		return func(ctx context.Context, env Envelope) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	for _, name := range []string{"first", "second", "third"} {
		if _, err := bus.Subscribe(TopicTextInput, record(name), WithSubscriptionName(name)); err != nil {
			t.Fatalf("subscribe %s: %v", name, err)
		}
	}

	publishText(t, bus, "bonjour")

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("unexpected dispatch order: %v", order)
	}
}

func TestPublishZeroSubscribersIsNoop(t *testing.T) {
	bus := New()
	if err := bus.Publish(context.Background(), Envelope{Topic: TopicVisionUpdate}); err != nil {
		t.Fatalf("publish without subscribers returned error: %v", err)
	}
}

func TestPublishUnknownTopicSurfacesError(t *testing.T) {
	bus := New()
	err := bus.Publish(context.Background(), Envelope{Topic: Topic("assistant.bogus")})
	if !errors.Is(err, ErrUnknownTopic) {
		t.Fatalf("expected ErrUnknownTopic, got %v", err)
	}
}

func TestSubscribeUnknownTopicRejected(t *testing.T) {
	bus := New()
	if _, err := bus.Subscribe(Topic("nope"), func(context.Context, Envelope) error { return nil }); !errors.Is(err, ErrUnknownTopic) {
		t.Fatalf("expected ErrUnknownTopic, got %v", err)
	}
	if _, err := bus.Subscribe(TopicTextInput, nil); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("expected ErrNilHandler, got %v", err)
	}
}

func TestFailingSubscriberDoesNotBlockOthers(t *testing.T) {
	var logBuf bytes.Buffer
	bus := New(WithLogger(log.New(&logBuf, "", 0)))

	var mu sync.Mutex
	var called []string

	sub1, err := bus.Subscribe(TopicTextInput, func(ctx context.Context, env Envelope) error {
		mu.Lock()
		called = append(called, "first")
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe first: %v", err)
	}
	defer sub1.Close()

	sub2, err := bus.Subscribe(TopicTextInput, func(ctx context.Context, env Envelope) error {
		return fmt.Errorf("deliberate failure")
	}, WithSubscriptionName("failing"))
	if err != nil {
		t.Fatalf("subscribe second: %v", err)
	}
	defer sub2.Close()

	sub3, err := bus.Subscribe(TopicTextInput, func(ctx context.Context, env Envelope) error {
		mu.Lock()
		called = append(called, "third")
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe third: %v", err)
	}
	defer sub3.Close()

	publishText(t, bus, "allo")

	mu.Lock()
	got := append([]string(nil), called...)
	mu.Unlock()
	if len(got) != 2 || got[0] != "first" || got[1] != "third" {
		t.Fatalf("expected first and third to run, got %v", got)
	}
	if m := bus.Metrics(); m.HandlerFailures != 1 {
		t.Fatalf("expected 1 recorded handler failure, got %d", m.HandlerFailures)
	}
	if !bytes.Contains(logBuf.Bytes(), []byte("failing")) {
		t.Fatalf("failure log missing subscription name: %q", logBuf.String())
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	bus := New(WithLogger(log.New(&bytes.Buffer{}, "", 0)))

	var mu sync.Mutex
	var called []string

	if _, err := bus.Subscribe(TopicTextInput, func(ctx context.Context, env Envelope) error {
		mu.Lock()
		called = append(called, "first")
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := bus.Subscribe(TopicTextInput, func(ctx context.Context, env Envelope) error {
		panic("boom")
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := bus.Subscribe(TopicTextInput, func(ctx context.Context, env Envelope) error {
		mu.Lock()
		called = append(called, "third")
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	publishText(t, bus, "ça va")

	mu.Lock()
	defer mu.Unlock()
	if len(called) != 2 || called[0] != "first" || called[1] != "third" {
		t.Fatalf("expected surviving subscribers to run, got %v", called)
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	bus := New()

	delivered := 0
	sub, err := bus.Subscribe(TopicTextInput, func(ctx context.Context, env Envelope) error {
		delivered++
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if count := bus.SubscriberCount(TopicTextInput); count != 1 {
		t.Fatalf("expected 1 subscriber, got %d", count)
	}

	sub.Close()
	sub.Close()

	if count := bus.SubscriberCount(TopicTextInput); count != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", count)
	}

	publishText(t, bus, "après fermeture")
	if delivered != 0 {
		t.Fatalf("closed subscription still received %d envelopes", delivered)
	}
}

func TestDuplicateHandlerRegistrationDeliversTwice(t *testing.T) {
	bus := New()

	count := 0
	var mu sync.Mutex
	handler := func(ctx context.Context, env Envelope) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}

	if _, err := bus.Subscribe(TopicTextInput, handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := bus.Subscribe(TopicTextInput, handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	publishText(t, bus, "deux fois")

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Fatalf("expected 2 deliveries for duplicate registration, got %d", count)
	}
}

func TestSubscriberCounts(t *testing.T) {
	bus := New()

	noop := func(context.Context, Envelope) error { return nil }
	for i := 0; i < 3; i++ {
		if _, err := bus.Subscribe(TopicTextInput, noop); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	if _, err := bus.Subscribe(TopicVisionUpdate, noop); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if count := bus.SubscriberCount(TopicTextInput); count != 3 {
		t.Fatalf("text_input count = %d, want 3", count)
	}
	if count := bus.SubscriberCount(TopicSpeechOutput); count != 0 {
		t.Fatalf("speech_output count = %d, want 0", count)
	}
	if total := bus.TotalSubscribers(); total != 4 {
		t.Fatalf("total = %d, want 4", total)
	}
}

func TestShutdownRemovesEverySubscription(t *testing.T) {
	bus := New()

	delivered := 0
	var mu sync.Mutex
	noop := func(context.Context, Envelope) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	}
	sub, err := bus.Subscribe(TopicTextInput, noop)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := bus.Subscribe(TopicError, noop); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.Shutdown()

	if total := bus.TotalSubscribers(); total != 0 {
		t.Fatalf("expected empty registry after shutdown, got %d", total)
	}

	publishText(t, bus, "après shutdown")
	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Fatalf("subscription survived shutdown, delivered=%d", delivered)
	}

	// Handles returned before shutdown stay safe to close.
	sub.Close()
}

func TestPublishStampsTimestampAndSource(t *testing.T) {
	bus := New()

	var got Envelope
	if _, err := bus.Subscribe(TopicSystemStatus, func(ctx context.Context, env Envelope) error {
		got = env
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(context.Background(), Envelope{Topic: TopicSystemStatus}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got.Timestamp.IsZero() {
		t.Fatal("expected a stamped timestamp")
	}
	if got.Source != SourceUnknown {
		t.Fatalf("expected SourceUnknown default, got %q", got.Source)
	}
}

func TestDispatchUsesSnapshotAtPublishStart(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var called []string

	var second *Subscription
	if _, err := bus.Subscribe(TopicTextInput, func(ctx context.Context, env Envelope) error {
		mu.Lock()
		called = append(called, "first")
		mu.Unlock()
		// Removing a later subscriber mid-dispatch must not strip it from
		// the snapshot this publish is iterating.
		second.Close()
		// Subscribing mid-dispatch must not add to the snapshot either.
		_, err := bus.Subscribe(TopicTextInput, func(ctx context.Context, env Envelope) error {
			mu.Lock()
			called = append(called, "late")
			mu.Unlock()
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var err error
	second, err = bus.Subscribe(TopicTextInput, func(ctx context.Context, env Envelope) error {
		mu.Lock()
		called = append(called, "second")
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	publishText(t, bus, "pendant dispatch")

	mu.Lock()
	defer mu.Unlock()
	if len(called) != 2 || called[0] != "first" || called[1] != "second" {
		t.Fatalf("snapshot dispatch violated, called=%v", called)
	}
}

func TestConcurrentSubscribeUnsubscribePublish(t *testing.T) {
	bus := New(WithLogger(log.New(&bytes.Buffer{}, "", 0)))

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			sub, err := bus.Subscribe(TopicTextInput, func(context.Context, Envelope) error { return nil })
			if err != nil {
				t.Errorf("subscribe: %v", err)
				return
			}
			sub.Close()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := bus.Publish(context.Background(), Envelope{
				Topic:   TopicTextInput,
				Payload: TextInputEvent{Text: "charge"},
			}); err != nil {
				t.Errorf("publish: %v", err)
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			bus.SubscriberCount(TopicTextInput)
			bus.TotalSubscribers()
		}
	}()

	time.Sleep(100 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *Bus

	if err := bus.Publish(context.Background(), Envelope{Topic: TopicTextInput}); err != nil {
		t.Fatalf("nil bus publish returned error: %v", err)
	}
	sub, err := bus.Subscribe(TopicTextInput, func(context.Context, Envelope) error { return nil })
	if err != nil {
		t.Fatalf("nil bus subscribe returned error: %v", err)
	}
	sub.Close()
	if count := bus.SubscriberCount(TopicTextInput); count != 0 {
		t.Fatalf("nil bus count = %d", count)
	}
	bus.Shutdown()
}

func TestWithContextClosesSubscription(t *testing.T) {
	bus := New()

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := bus.Subscribe(TopicTextInput, func(context.Context, Envelope) error { return nil }, WithContext(ctx)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cancel()

	deadline := time.After(time.Second)
	for bus.SubscriberCount(TopicTextInput) != 0 {
		select {
		case <-deadline:
			t.Fatal("subscription not removed after context cancellation")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type countingObserver struct {
	mu     sync.Mutex
	topics []Topic
}

func (o *countingObserver) OnPublish(env Envelope) {
	o.mu.Lock()
	o.topics = append(o.topics, env.Topic)
	o.mu.Unlock()
}

func TestObserverSeesAcceptedPublishes(t *testing.T) {
	obs := &countingObserver{}
	bus := New(WithObserver(obs))

	publishText(t, bus, "observé")
	if err := bus.Publish(context.Background(), Envelope{Topic: Topic("bad")}); err == nil {
		t.Fatal("expected rejection for unknown topic")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.topics) != 1 || obs.topics[0] != TopicTextInput {
		t.Fatalf("observer saw %v, want single text_input", obs.topics)
	}
}
