package conversation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ada-ai/ada/internal/eventbus"
	"github.com/ada-ai/ada/internal/module"
)

type stubProcessor struct {
	mu     sync.Mutex
	calls  int
	inputs []string
	reply  string
	err    error

	started chan struct{}
	gate    chan struct{}
}

func (p *stubProcessor) Respond(ctx context.Context, input string, history []Message, convContext map[string]string) (string, error) {
	p.mu.Lock()
	p.calls++
	p.inputs = append(p.inputs, input)
	started := p.started
	gate := p.gate
	reply := p.reply
	err := p.err
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	if reply != "" {
		return reply, nil
	}
	return "echo: " + input, nil
}

func (p *stubProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func quietLogger() *log.Logger {
	return log.New(&bytes.Buffer{}, "", 0)
}

func newTestService(t *testing.T, bus *eventbus.Bus, proc Processor, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	svc := NewService(bus, proc, opts...)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	t.Cleanup(func() { svc.Stop(context.Background()) })
	return svc
}

func speechEnvelopes(t *testing.T, bus *eventbus.Bus) <-chan eventbus.Envelope {
	t.Helper()
	ch := make(chan eventbus.Envelope, 32)
	_, err := bus.Subscribe(eventbus.TopicSpeechOutput, func(ctx context.Context, env eventbus.Envelope) error {
		ch <- env
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe speech_output: %v", err)
	}
	return ch
}

func publishText(t *testing.T, bus *eventbus.Bus, text string) {
	t.Helper()
	err := eventbus.Publish(context.Background(), bus, eventbus.Conversation.TextInput, eventbus.SourceGateway,
		eventbus.TextInputEvent{Text: text})
	if err != nil {
		t.Fatalf("publish text input: %v", err)
	}
}

func waitSpeech(t *testing.T, ch <-chan eventbus.Envelope) eventbus.SpeechOutputEvent {
	t.Helper()
	select {
	case env := <-ch:
		ev, ok := env.Payload.(eventbus.SpeechOutputEvent)
		if !ok {
			t.Fatalf("unexpected speech payload %T", env.Payload)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for speech output")
		return eventbus.SpeechOutputEvent{}
	}
}

func TestTextInputProducesReply(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(quietLogger()))
	defer bus.Shutdown()

	proc := &stubProcessor{reply: "Bonjour, je suis là."}
	svc := newTestService(t, bus, proc)

	speech := speechEnvelopes(t, bus)
	publishText(t, bus, "bonjour")

	ev := waitSpeech(t, speech)
	if ev.Text != "Bonjour, je suis là." {
		t.Fatalf("unexpected reply text %q", ev.Text)
	}
	if ev.Language != "fr" {
		t.Fatalf("expected default language fr, got %q", ev.Language)
	}

	history := svc.History()
	if len(history) != 2 {
		t.Fatalf("expected user and assistant turns, got %d", len(history))
	}
	if history[0].Speaker != eventbus.SpeakerUser || history[0].Text != "bonjour" {
		t.Fatalf("unexpected first turn %+v", history[0])
	}
	if history[1].Speaker != eventbus.SpeakerAssistant {
		t.Fatalf("unexpected second turn %+v", history[1])
	}
	if history[0].ID == "" || history[0].ID == history[1].ID {
		t.Fatalf("expected distinct non-empty message IDs")
	}

	convCtx := svc.Context()
	if convCtx["last_input"] != "bonjour" {
		t.Fatalf("expected last_input recorded, got %v", convCtx)
	}
	if convCtx["last_response"] != "Bonjour, je suis là." {
		t.Fatalf("expected last_response recorded, got %v", convCtx)
	}
}

func TestVoiceCommandPropagatesCorrelationID(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(quietLogger()))
	defer bus.Shutdown()

	proc := &stubProcessor{}
	newTestService(t, bus, proc)

	speech := speechEnvelopes(t, bus)

	err := eventbus.PublishWithOpts(context.Background(), bus, eventbus.Conversation.VoiceCommand, eventbus.SourceAudio,
		eventbus.VoiceCommandEvent{Command: "quelle heure est-il", Confidence: 0.92},
		eventbus.WithCorrelationID("corr-42"))
	if err != nil {
		t.Fatalf("publish voice command: %v", err)
	}

	select {
	case env := <-speech:
		if env.CorrelationID != "corr-42" {
			t.Fatalf("expected correlation id propagated, got %q", env.CorrelationID)
		}
		if env.Source != eventbus.SourceConversation {
			t.Fatalf("expected conversation source, got %q", env.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for speech output")
	}
}

func TestMalformedAndEmptyInputsAreDropped(t *testing.T) {
	var logBuf bytes.Buffer
	logMu := &sync.Mutex{}
	logger := log.New(lockedWriter{mu: logMu, buf: &logBuf}, "", 0)

	bus := eventbus.New(eventbus.WithLogger(quietLogger()))
	defer bus.Shutdown()

	proc := &stubProcessor{}
	svc := NewService(bus, proc, WithLogger(logger))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(context.Background())

	err := bus.Publish(context.Background(), eventbus.Envelope{
		Topic:   eventbus.TopicTextInput,
		Source:  eventbus.SourceGateway,
		Payload: 42,
	})
	if err != nil {
		t.Fatalf("publish malformed payload: %v", err)
	}
	publishText(t, bus, "   ")

	time.Sleep(100 * time.Millisecond)
	if got := proc.callCount(); got != 0 {
		t.Fatalf("expected processor untouched, got %d calls", got)
	}
	if len(svc.History()) != 0 {
		t.Fatalf("expected empty history, got %d", len(svc.History()))
	}

	logMu.Lock()
	logged := logBuf.String()
	logMu.Unlock()
	if !strings.Contains(logged, "malformed") {
		t.Fatalf("expected malformed drop warning, got %q", logged)
	}
	if !strings.Contains(logged, "empty input") {
		t.Fatalf("expected empty input warning, got %q", logged)
	}
}

func TestHistoryEvictsOldestBeyondCap(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(quietLogger()))
	defer bus.Shutdown()

	proc := &stubProcessor{}
	svc := newTestService(t, bus, proc)

	speech := speechEnvelopes(t, bus)
	const inputs = 8
	for i := 1; i <= inputs; i++ {
		publishText(t, bus, fmt.Sprintf("message %d", i))
	}
	for i := 0; i < inputs; i++ {
		waitSpeech(t, speech)
	}

	history := svc.History()
	if len(history) != defaultMaxHistory {
		t.Fatalf("expected history capped at %d, got %d", defaultMaxHistory, len(history))
	}
	// 16 turns were appended; the first six were evicted.
	if history[0].Text != "message 4" {
		t.Fatalf("expected oldest surviving turn to be message 4, got %q", history[0].Text)
	}
	if history[len(history)-1].Speaker != eventbus.SpeakerAssistant {
		t.Fatalf("expected newest turn from assistant, got %+v", history[len(history)-1])
	}
}

func TestContextWindowBoundsProcessorHistory(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(quietLogger()))
	defer bus.Shutdown()

	var mu sync.Mutex
	var windows []int
	proc := processorFunc(func(ctx context.Context, input string, history []Message, convContext map[string]string) (string, error) {
		mu.Lock()
		windows = append(windows, len(history))
		mu.Unlock()
		return "ok", nil
	})

	svc := newTestService(t, bus, proc, WithContextWindow(3))

	speech := speechEnvelopes(t, bus)
	for i := 0; i < 5; i++ {
		publishText(t, bus, fmt.Sprintf("entrée %d", i))
		waitSpeech(t, speech)
	}

	mu.Lock()
	got := append([]int(nil), windows...)
	mu.Unlock()
	if want := []int{0, 2, 3, 3, 3}; len(got) != len(want) {
		t.Fatalf("expected %d processor calls, got %d", len(want), len(got))
	} else {
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("window sizes mismatch, want %v got %v", want, got)
			}
		}
	}
	_ = svc
}

func TestProcessorErrorPublishesRecoverableError(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(quietLogger()))
	defer bus.Shutdown()

	proc := &stubProcessor{err: errors.New("modèle indisponible")}
	svc := newTestService(t, bus, proc)

	errCh := make(chan eventbus.ErrorEvent, 1)
	_, err := eventbus.SubscribeTo(bus, eventbus.System.Error, func(ctx context.Context, env eventbus.Envelope, ev eventbus.ErrorEvent) error {
		errCh <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe errors: %v", err)
	}

	publishText(t, bus, "bonjour")

	select {
	case ev := <-errCh:
		if ev.Module != ModuleName || !ev.Recoverable {
			t.Fatalf("unexpected error event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for error event")
	}

	history := svc.History()
	if len(history) != 1 || history[0].Speaker != eventbus.SpeakerUser {
		t.Fatalf("expected only the user turn stored, got %+v", history)
	}
}

func TestResponseTimeoutCancelsSlowProcessor(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(quietLogger()))
	defer bus.Shutdown()

	proc := processorFunc(func(ctx context.Context, input string, history []Message, convContext map[string]string) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "trop tard", nil
		}
	})
	svc := newTestService(t, bus, proc, WithResponseTimeout(50*time.Millisecond))

	errCh := make(chan eventbus.ErrorEvent, 1)
	_, err := eventbus.SubscribeTo(bus, eventbus.System.Error, func(ctx context.Context, env eventbus.Envelope, ev eventbus.ErrorEvent) error {
		errCh <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe errors: %v", err)
	}

	publishText(t, bus, "question lente")

	select {
	case ev := <-errCh:
		if ev.Module != ModuleName {
			t.Fatalf("unexpected error event %+v", ev)
		}
		if !strings.Contains(ev.Message, context.DeadlineExceeded.Error()) {
			t.Fatalf("expected deadline error, got %q", ev.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for error event")
	}

	if got := svc.History(); len(got) != 1 {
		t.Fatalf("expected only the user turn stored, got %d", len(got))
	}
}

func TestStopAbandonsQueuedInputs(t *testing.T) {
	var logBuf bytes.Buffer
	logMu := &sync.Mutex{}
	logger := log.New(lockedWriter{mu: logMu, buf: &logBuf}, "", 0)

	bus := eventbus.New(eventbus.WithLogger(quietLogger()))
	defer bus.Shutdown()

	proc := &stubProcessor{
		started: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	svc := NewService(bus, proc, WithLogger(logger))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	publishText(t, bus, "premier")
	select {
	case <-proc.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for worker to pick up first input")
	}

	for i := 0; i < 3; i++ {
		publishText(t, bus, fmt.Sprintf("en attente %d", i))
	}

	deadline := time.Now().Add(2 * time.Second)
	for svc.QueueDepth() != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 queued inputs, got %d", svc.QueueDepth())
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopDone := make(chan error, 1)
	go func() { stopDone <- svc.Stop(context.Background()) }()

	// Let the in-flight input finish; the backlog must not be processed.
	time.Sleep(20 * time.Millisecond)
	close(proc.gate)

	select {
	case err := <-stopDone:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for stop")
	}

	if got := proc.callCount(); got != 1 {
		t.Fatalf("expected exactly the in-flight input processed, got %d", got)
	}
	if depth := svc.QueueDepth(); depth != 0 {
		t.Fatalf("expected drained queue after stop, got %d", depth)
	}

	logMu.Lock()
	logged := logBuf.String()
	logMu.Unlock()
	if !strings.Contains(logged, "abandoning 3 queued inputs") {
		t.Fatalf("expected abandon log, got %q", logged)
	}
}

func TestStopIsIdempotentAndTerminal(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(quietLogger()))
	defer bus.Shutdown()

	svc := NewService(bus, &stubProcessor{}, WithLogger(quietLogger()))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	if st := svc.Status(); st.State != module.StateStopped {
		t.Fatalf("expected stopped state, got %s", st.State)
	}
	if svc.Running() {
		t.Fatalf("expected not running after stop")
	}
	if err := svc.Start(context.Background()); err == nil {
		t.Fatalf("expected start after stop to fail")
	}
}

func TestStartRequiresProcessor(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(quietLogger()))
	defer bus.Shutdown()

	svc := NewService(bus, nil, WithLogger(quietLogger()))
	if err := svc.Start(context.Background()); err == nil {
		t.Fatalf("expected start without processor to fail")
	}
	if st := svc.Status(); st.State != module.StateError {
		t.Fatalf("expected error state, got %s", st.State)
	}
}

type processorFunc func(ctx context.Context, input string, history []Message, convContext map[string]string) (string, error)

func (f processorFunc) Respond(ctx context.Context, input string, history []Message, convContext map[string]string) (string, error) {
	return f(ctx, input, history, convContext)
}

type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
