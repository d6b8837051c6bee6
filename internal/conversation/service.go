// Package conversation turns user inputs into assistant replies. Bus
// callbacks enqueue work without blocking the publisher; a dedicated worker
// goroutine processes the queue and publishes speech output.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ada-ai/ada/internal/constants"
	"github.com/ada-ai/ada/internal/eventbus"
	"github.com/ada-ai/ada/internal/module"
	"github.com/ada-ai/ada/internal/sanitize"
	maputil "github.com/ada-ai/ada/internal/util/maps"
	"github.com/ada-ai/ada/internal/worker"
)

// ModuleName is the supervisor registration name.
const ModuleName = "conversation"

const (
	defaultMaxHistory      = 10
	defaultContextWindow   = 5
	defaultLanguage        = "fr"
	defaultQueueCapacity   = 32
	defaultResponseTimeout = 10 * time.Second
)

// Message is one stored conversation turn.
type Message struct {
	ID        string            `json:"id"`
	Speaker   eventbus.Speaker  `json:"speaker"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Processor produces the assistant reply for one input. history holds the
// most recent turns before the input, oldest first.
type Processor interface {
	Respond(ctx context.Context, input string, history []Message, convContext map[string]string) (string, error)
}

type workItem struct {
	text          string
	correlationID string
	metadata      map[string]string
	received      time.Time
}

type Option func(*Service)

// WithLogger overrides the service logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxHistory overrides the number of stored turns before the oldest is
// evicted.
func WithMaxHistory(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxHistory = limit
		}
	}
}

// WithContextWindow overrides how many recent turns are handed to the
// processor per input.
func WithContextWindow(window int) Option {
	return func(s *Service) {
		if window > 0 {
			s.contextWindow = window
		}
	}
}

// WithLanguage overrides the reply language tag.
func WithLanguage(lang string) Option {
	return func(s *Service) {
		if lang != "" {
			s.language = lang
		}
	}
}

// WithQueueCapacity overrides the input queue size.
func WithQueueCapacity(capacity int) Option {
	return func(s *Service) {
		if capacity > 0 {
			s.queueCap = capacity
		}
	}
}

// WithJoinTimeout overrides how long Stop waits for the worker goroutine.
func WithJoinTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.joinTimeout = timeout
		}
	}
}

// WithResponseTimeout bounds each processor call.
func WithResponseTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.responseTimeout = timeout
		}
	}
}

// Service is the conversation module.
type Service struct {
	bus       *eventbus.Bus
	processor Processor
	logger    *log.Logger

	maxHistory      int
	contextWindow   int
	language        string
	queueCap        int
	joinTimeout     time.Duration
	responseTimeout time.Duration

	life module.Lifecycle

	mu         sync.RWMutex
	history    []Message
	convCtx    map[string]string
	processing bool

	queue *worker.Worker[workItem]
	subs  eventbus.SubscriptionGroup
}

// NewService creates a conversation module bound to the bus and processor.
func NewService(bus *eventbus.Bus, processor Processor, opts ...Option) *Service {
	svc := &Service{
		bus:             bus,
		processor:       processor,
		logger:          log.Default(),
		maxHistory:      defaultMaxHistory,
		contextWindow:   defaultContextWindow,
		language:        defaultLanguage,
		queueCap:        defaultQueueCapacity,
		joinTimeout:     constants.WorkerJoinTimeout,
		responseTimeout: defaultResponseTimeout,
		convCtx:         make(map[string]string),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Name implements module.Module.
func (s *Service) Name() string { return ModuleName }

// Start subscribes to voice and text input and launches the worker loop.
func (s *Service) Start(ctx context.Context) error {
	if state := s.life.Status().State; state.Terminal() {
		return fmt.Errorf("conversation: cannot start from state %s", state)
	}
	if s.life.Running() {
		return nil
	}
	if s.processor == nil {
		s.life.Fail(errors.New("no processor configured"))
		return fmt.Errorf("conversation: nil processor")
	}

	s.queue = worker.New[workItem](ctx, s.queueCap)

	voiceSub, err := s.bus.Subscribe(eventbus.TopicVoiceCommand, s.onVoiceCommand,
		eventbus.WithSubscriptionName("conversation_voice"))
	if err != nil {
		s.life.Fail(err)
		return fmt.Errorf("conversation: subscribe voice_command: %w", err)
	}
	textSub, err := s.bus.Subscribe(eventbus.TopicTextInput, s.onTextInput,
		eventbus.WithSubscriptionName("conversation_text"))
	if err != nil {
		voiceSub.Close()
		s.life.Fail(err)
		return fmt.Errorf("conversation: subscribe text_input: %w", err)
	}
	s.subs.Add(voiceSub, textSub)

	s.queue.Start(s.handleItem, s.abandonBacklog, nil)
	s.life.MarkRunning()
	s.logger.Printf("[Conversation] started (history=%d window=%d lang=%s)", s.maxHistory, s.contextWindow, s.language)
	return nil
}

// Stop closes the subscriptions, stops the worker, and joins it with a
// bounded wait. Cleanup runs at most once; later calls are no-ops.
func (s *Service) Stop(ctx context.Context) error {
	if !s.life.BeginStop() {
		return nil
	}

	s.subs.CloseAll()

	if s.queue != nil {
		s.queue.Stop()
		waitCtx, cancel := context.WithTimeout(ctx, s.joinTimeout)
		err := s.queue.Wait(waitCtx)
		cancel()
		if err != nil {
			s.logger.Printf("[Conversation] worker did not exit within %s: %v", s.joinTimeout, err)
		}
	}

	s.life.MarkStopped()
	s.logger.Printf("[Conversation] stopped")
	return nil
}

// Status implements module.Module.
func (s *Service) Status() module.Status { return s.life.Status() }

// Running implements module.Module.
func (s *Service) Running() bool { return s.life.Running() }

// WaitUntilReady implements module.Module.
func (s *Service) WaitUntilReady(timeout time.Duration) bool {
	return s.life.WaitUntilReady(timeout)
}

func (s *Service) onVoiceCommand(ctx context.Context, env eventbus.Envelope) error {
	ev, ok := voiceCommandPayload(env.Payload)
	if !ok {
		s.logger.Printf("[Conversation] dropping malformed voice_command payload (%T)", env.Payload)
		return nil
	}
	s.enqueue(env, ev.Command, ev.Metadata)
	return nil
}

func (s *Service) onTextInput(ctx context.Context, env eventbus.Envelope) error {
	ev, ok := textInputPayload(env.Payload)
	if !ok {
		s.logger.Printf("[Conversation] dropping malformed text_input payload (%T)", env.Payload)
		return nil
	}
	s.enqueue(env, ev.Text, ev.Metadata)
	return nil
}

// enqueue hands one input to the worker without blocking the publisher.
// Full-queue and post-stop drops are logged, never surfaced to the bus.
func (s *Service) enqueue(env eventbus.Envelope, text string, metadata map[string]string) {
	text = strings.TrimSpace(text)
	if text == "" {
		s.logger.Printf("[Conversation] dropping empty input from %s", env.Source)
		return
	}

	item := workItem{
		text:          text,
		correlationID: env.CorrelationID,
		metadata:      maputil.Clone(metadata),
		received:      time.Now().UTC(),
	}

	switch err := s.queue.TryEnqueue(item); err {
	case nil:
	case worker.ErrQueueFull:
		s.logger.Printf("[Conversation] queue full, dropping input from %s", env.Source)
	case worker.ErrStopped:
		s.logger.Printf("[Conversation] worker stopped, dropping input from %s", env.Source)
	default:
		s.logger.Printf("[Conversation] enqueue failed: %v", err)
	}
}

func (s *Service) handleItem(item workItem) bool {
	s.setProcessing(true)
	defer s.setProcessing(false)

	userMsg := Message{
		ID:        uuid.NewString(),
		Speaker:   eventbus.SpeakerUser,
		Text:      item.text,
		Timestamp: item.received,
		Metadata:  item.metadata,
	}
	priorTurns := s.appendMessage(userMsg)

	respondCtx := s.queue.Context()
	var cancel context.CancelFunc
	if s.responseTimeout > 0 {
		respondCtx, cancel = context.WithTimeout(respondCtx, s.responseTimeout)
	}
	reply, err := s.processor.Respond(respondCtx, item.text, priorTurns, s.Context())
	if cancel != nil {
		cancel()
	}
	if err != nil {
		s.logger.Printf("[Conversation] processor failed on %q: %v", sanitize.Preview(item.text, 120), err)
		_ = eventbus.Publish(s.queue.Context(), s.bus, eventbus.System.Error, eventbus.SourceConversation, eventbus.ErrorEvent{
			Module:      ModuleName,
			Message:     err.Error(),
			Recoverable: true,
		})
		return false
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return false
	}

	s.appendMessage(Message{
		ID:        uuid.NewString(),
		Speaker:   eventbus.SpeakerAssistant,
		Text:      reply,
		Timestamp: time.Now().UTC(),
	})
	s.rememberReply(reply)

	_ = eventbus.PublishWithOpts(s.queue.Context(), s.bus, eventbus.Conversation.SpeechOutput, eventbus.SourceConversation,
		eventbus.SpeechOutputEvent{Text: reply, Language: s.language},
		eventbus.WithCorrelationID(item.correlationID))
	return false
}

// abandonBacklog runs when the worker quits: queued inputs are dropped, not
// processed, so shutdown latency does not depend on backlog size.
func (s *Service) abandonBacklog() {
	abandoned := s.queue.DrainNonBlocking(nil)
	if abandoned > 0 {
		s.logger.Printf("[Conversation] abandoning %d queued inputs on shutdown", abandoned)
	}
}

// appendMessage stores one turn, evicting the oldest beyond the history cap,
// and returns the turns that preceded it, bounded by the context window.
func (s *Service) appendMessage(msg Message) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.contextWindow
	if window > len(s.history) {
		window = len(s.history)
	}
	prior := make([]Message, window)
	copy(prior, s.history[len(s.history)-window:])

	s.history = append(s.history, msg)
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}

	if msg.Speaker == eventbus.SpeakerUser {
		s.convCtx["last_input"] = msg.Text
	}
	s.convCtx["last_speaker"] = string(msg.Speaker)
	s.convCtx["last_interaction"] = msg.Timestamp.Format(time.RFC3339)
	s.convCtx["language"] = s.language
	return prior
}

func (s *Service) rememberReply(reply string) {
	s.mu.Lock()
	s.convCtx["last_response"] = reply
	s.mu.Unlock()
}

// History returns a snapshot of the stored turns, oldest first.
func (s *Service) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Context returns a snapshot of the conversation context map.
func (s *Service) Context() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maputil.Clone(s.convCtx)
}

// QueueDepth returns the number of inputs waiting for the worker.
func (s *Service) QueueDepth() int {
	if s.queue == nil {
		return 0
	}
	return s.queue.Pending()
}

// Processing reports whether the worker is handling an input right now.
func (s *Service) Processing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processing
}

func (s *Service) setProcessing(v bool) {
	s.mu.Lock()
	s.processing = v
	s.mu.Unlock()
}

func voiceCommandPayload(payload any) (eventbus.VoiceCommandEvent, bool) {
	switch ev := payload.(type) {
	case eventbus.VoiceCommandEvent:
		return ev, true
	case *eventbus.VoiceCommandEvent:
		if ev != nil {
			return *ev, true
		}
	}
	return eventbus.VoiceCommandEvent{}, false
}

func textInputPayload(payload any) (eventbus.TextInputEvent, bool) {
	switch ev := payload.(type) {
	case eventbus.TextInputEvent:
		return ev, true
	case *eventbus.TextInputEvent:
		if ev != nil {
			return *ev, true
		}
	}
	return eventbus.TextInputEvent{}, false
}
