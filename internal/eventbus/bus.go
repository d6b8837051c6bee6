package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnknownTopic is returned when a publish or subscribe names a topic
// outside the declared set.
var ErrUnknownTopic = errors.New("eventbus: unknown topic")

// ErrNilHandler is returned when Subscribe is called without a handler.
var ErrNilHandler = errors.New("eventbus: nil handler")

// Handler processes one delivered envelope. Handlers run synchronously on the
// publisher's goroutine, in subscription order. A returned error (or a panic)
// is recorded against the subscription and never reaches the publisher or the
// other subscribers for the same envelope.
type Handler func(ctx context.Context, env Envelope) error

// Observer receives a notification for every accepted publish. Used for
// metrics collection without registering a full subscription.
type Observer interface {
	OnPublish(env Envelope)
}

// Bus routes envelopes to subscribed handlers, topic by topic.
//
// Delivery is synchronous: Publish invokes every handler registered for the
// topic at the moment dispatch begins, in subscription order, on the calling
// goroutine, and returns once all of them ran. The registry uses
// replace-on-write slices so dispatch iterates an immutable snapshot while
// concurrent subscribe/unsubscribe calls swap in fresh slices.
type Bus struct {
	logger *log.Logger

	mu          sync.RWMutex
	subscribers map[Topic][]*Subscription
	observers   []Observer
	nextID      uint64

	published       atomic.Uint64
	delivered       atomic.Uint64
	handlerFailures atomic.Uint64
}

// New constructs an empty bus.
func New(opts ...BusOption) *Bus {
	bus := &Bus{
		logger:      log.Default(),
		subscribers: make(map[Topic][]*Subscription),
	}

	for _, opt := range opts {
		opt(bus)
	}

	return bus
}

// BusOption customises bus behaviour.
type BusOption func(*Bus)

// WithLogger overrides the logger used for handler failure reports.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithObserver registers an observer at construction time.
func WithObserver(obs Observer) BusOption {
	return func(b *Bus) {
		if obs != nil {
			b.observers = append(b.observers, obs)
		}
	}
}

// AddObserver registers an observer for accepted publishes.
// If b is nil the call is a no-op.
func (b *Bus) AddObserver(obs Observer) {
	if b == nil || obs == nil {
		return
	}
	b.mu.Lock()
	b.observers = append(b.observers, obs)
	b.mu.Unlock()
}

// Publish delivers the envelope to every subscriber of its topic.
//
// The subscriber snapshot is taken once, at dispatch start: handlers added
// concurrently miss this envelope, handlers removed concurrently still
// receive it. Zero subscribers is a valid no-op. Publishing a topic outside
// the declared set returns ErrUnknownTopic.
// If b is nil the call is a no-op.
func (b *Bus) Publish(ctx context.Context, env Envelope) error {
	if b == nil {
		return nil
	}
	if !env.Topic.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownTopic, env.Topic)
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Source == "" {
		env.Source = SourceUnknown
	}

	b.mu.RLock()
	subs := b.subscribers[env.Topic]
	observers := b.observers
	b.mu.RUnlock()

	b.published.Add(1)
	for _, obs := range observers {
		obs.OnPublish(env)
	}

	// subs is replace-on-write: safe to iterate after releasing the lock, and
	// handlers may freely subscribe or unsubscribe while dispatch runs.
	for _, sub := range subs {
		if err := sub.invoke(ctx, env); err != nil {
			b.handlerFailures.Add(1)
			b.logger.Printf("[eventbus] handler %s failed on topic %s: %v", sub.label(), env.Topic, err)
			continue
		}
		b.delivered.Add(1)
	}
	return nil
}

// Subscribe registers a handler for the given topic, after all existing
// subscribers. The same handler may be registered any number of times; each
// registration is a distinct subscription invoked once per publish.
// If b is nil an inert, already-closed subscription is returned.
func (b *Bus) Subscribe(topic Topic, fn Handler, opts ...SubscriptionOption) (*Subscription, error) {
	if b == nil {
		sub := &Subscription{topic: topic, doneCh: make(chan struct{})}
		sub.closed.Store(true)
		sub.markDone()
		return sub, nil
	}
	if !topic.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	if fn == nil {
		return nil, ErrNilHandler
	}

	cfg := subscriptionConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub := &Subscription{
		topic:   topic,
		name:    cfg.name,
		handler: fn,
		bus:     b,
		doneCh:  make(chan struct{}),
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	existing := b.subscribers[topic]
	next := make([]*Subscription, len(existing), len(existing)+1)
	copy(next, existing)
	b.subscribers[topic] = append(next, sub)
	b.mu.Unlock()

	if cfg.ctx != nil {
		go func() {
			select {
			case <-cfg.ctx.Done():
				sub.Close()
			case <-sub.done():
			}
		}()
	}

	return sub, nil
}

// SubscriberCount returns the number of live subscriptions for one topic.
// If b is nil the count is zero.
func (b *Bus) SubscriberCount(topic Topic) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// TotalSubscribers returns the number of live subscriptions across all topics.
// If b is nil the count is zero.
func (b *Bus) TotalSubscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, subs := range b.subscribers {
		total += len(subs)
	}
	return total
}

// Shutdown atomically removes every subscription. Used during full system
// teardown; closed handles remain safe to Close again.
// If b is nil the call is a no-op.
func (b *Bus) Shutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for _, sub := range subs {
			sub.closed.Store(true)
			sub.markDone()
		}
		delete(b.subscribers, topic)
	}
}

// Metrics is a point-in-time snapshot of bus counters.
type Metrics struct {
	Published       uint64
	Delivered       uint64
	HandlerFailures uint64
}

// Metrics returns current counter values. If b is nil the snapshot is zero.
func (b *Bus) Metrics() Metrics {
	if b == nil {
		return Metrics{}
	}
	return Metrics{
		Published:       b.published.Load(),
		Delivered:       b.delivered.Load(),
		HandlerFailures: b.handlerFailures.Load(),
	}
}

// StartMetricsReporter logs counter snapshots every interval until ctx is
// cancelled. If b is nil the call is a no-op.
func (b *Bus) StartMetricsReporter(ctx context.Context, interval time.Duration) {
	if b == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m := b.Metrics()
				b.logger.Printf("[eventbus] published=%d delivered=%d handler_failures=%d subscribers=%d",
					m.Published, m.Delivered, m.HandlerFailures, b.TotalSubscribers())
			}
		}
	}()
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.subscribers[sub.topic]
	for i, candidate := range existing {
		if candidate != sub {
			continue
		}
		next := make([]*Subscription, 0, len(existing)-1)
		next = append(next, existing[:i]...)
		next = append(next, existing[i+1:]...)
		if len(next) == 0 {
			delete(b.subscribers, sub.topic)
		} else {
			b.subscribers[sub.topic] = next
		}
		return
	}
}

// SubscriptionOption customises individual subscriptions.
type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	name string
	ctx  context.Context
}

// WithSubscriptionName records a human friendly identifier used in logs.
func WithSubscriptionName(name string) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		cfg.name = name
	}
}

// WithContext ties the subscription lifecycle to a context.
// When the context is cancelled the subscription is automatically closed.
// A nil context is ignored.
func WithContext(ctx context.Context) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if ctx != nil {
			cfg.ctx = ctx
		}
	}
}

// Subscription is the handle for one registration of a handler on a topic.
type Subscription struct {
	topic   Topic
	id      uint64
	name    string
	handler Handler
	bus     *Bus

	closed   atomic.Bool
	doneOnce sync.Once
	doneCh   chan struct{} // closed when the subscription is closed
}

// Topic returns the topic this subscription is registered on.
func (s *Subscription) Topic() Topic {
	return s.topic
}

// Close removes the subscription from the bus. Closing twice, or closing a
// handle the bus already removed, is a no-op. An envelope whose dispatch
// snapshot was taken before Close may still be delivered once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.markDone()
	if s.bus != nil {
		s.bus.remove(s)
	}
}

func (s *Subscription) invoke(ctx context.Context, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, env)
}

func (s *Subscription) label() string {
	if s.name != "" {
		return s.name
	}
	return fmt.Sprintf("subscription#%d", s.id)
}

func (s *Subscription) done() <-chan struct{} {
	return s.doneCh
}

func (s *Subscription) markDone() {
	s.doneOnce.Do(func() {
		close(s.doneCh)
	})
}
