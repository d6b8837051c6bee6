// Package audio is the speech output module: it consumes speech_output
// events and plays them through a Synthesizer collaborator, one utterance at
// a time.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ada-ai/ada/internal/constants"
	"github.com/ada-ai/ada/internal/eventbus"
	"github.com/ada-ai/ada/internal/module"
	"github.com/ada-ai/ada/internal/sanitize"
	"github.com/ada-ai/ada/internal/worker"
)

// ModuleName is the supervisor registration name.
const ModuleName = "audio"

// ErrInvalidSampleRate indicates a sample rate outside the supported set.
var ErrInvalidSampleRate = errors.New("audio: unsupported sample rate")

var supportedSampleRates = map[int]struct{}{
	8000:  {},
	16000: {},
	32000: {},
	44100: {},
	48000: {},
}

const (
	defaultSampleRate    = 16000
	defaultQueueCapacity = 16
	defaultVoice         = "default"
	defaultVolume        = 0.8
)

// SpeakRequest is one utterance for the synthesizer.
type SpeakRequest struct {
	Text     string
	Language string
	Voice    string
	Volume   float64
	Metadata map[string]string
}

// Synthesizer renders speech. Speak blocks until the utterance finished or
// ctx is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, req SpeakRequest) error
	Close() error
}

// NullSynthesizer logs utterances instead of playing them. It is the default
// collaborator when no engine is configured.
type NullSynthesizer struct {
	Logger *log.Logger
}

// Speak implements Synthesizer.
func (n *NullSynthesizer) Speak(ctx context.Context, req SpeakRequest) error {
	logger := log.Default()
	if n != nil && n.Logger != nil {
		logger = n.Logger
	}
	logger.Printf("[Audio] (null) speak lang=%s voice=%s: %s", req.Language, req.Voice, sanitize.Preview(req.Text, 200))
	return nil
}

// Close implements Synthesizer.
func (n *NullSynthesizer) Close() error { return nil }

type Option func(*Service)

// WithLogger overrides the service logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSynthesizer sets the speech engine.
func WithSynthesizer(synth Synthesizer) Option {
	return func(s *Service) {
		if synth != nil {
			s.synth = synth
		}
	}
}

// WithSampleRate overrides the output sample rate, validated at Start.
func WithSampleRate(rate int) Option {
	return func(s *Service) {
		if rate != 0 {
			s.sampleRate = rate
		}
	}
}

// WithVoice selects the synthesizer voice.
func WithVoice(voice string) Option {
	return func(s *Service) {
		if v := strings.TrimSpace(voice); v != "" {
			s.voice = v
		}
	}
}

// WithVolume sets the playback volume in [0, 1].
func WithVolume(volume float64) Option {
	return func(s *Service) {
		if volume >= 0 && volume <= 1 {
			s.volume = volume
		}
	}
}

// WithQueueCapacity overrides the speak queue size.
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

// Service is the audio module.
type Service struct {
	bus    *eventbus.Bus
	synth  Synthesizer
	logger *log.Logger

	sampleRate  int
	voice       string
	volume      float64
	queueCap    int
	joinTimeout time.Duration

	life module.Lifecycle

	mu       sync.RWMutex
	speaking bool
	spoken   uint64

	queue *worker.Worker[SpeakRequest]
	subs  eventbus.SubscriptionGroup
}

// New creates an audio module bound to the bus.
func New(bus *eventbus.Bus, opts ...Option) *Service {
	svc := &Service{
		bus:         bus,
		synth:       &NullSynthesizer{},
		logger:      log.Default(),
		sampleRate:  defaultSampleRate,
		voice:       defaultVoice,
		volume:      defaultVolume,
		queueCap:    defaultQueueCapacity,
		joinTimeout: constants.WorkerJoinTimeout,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if ns, ok := svc.synth.(*NullSynthesizer); ok && ns.Logger == nil {
		ns.Logger = svc.logger
	}
	return svc
}

// Name implements module.Module.
func (s *Service) Name() string { return ModuleName }

// Start validates the configuration, subscribes to speech output, and
// launches the speak worker.
func (s *Service) Start(ctx context.Context) error {
	if state := s.life.Status().State; state.Terminal() {
		return fmt.Errorf("audio: cannot start from state %s", state)
	}
	if s.life.Running() {
		return nil
	}

	if _, ok := supportedSampleRates[s.sampleRate]; !ok {
		err := fmt.Errorf("%w: %d", ErrInvalidSampleRate, s.sampleRate)
		s.life.Fail(err)
		return err
	}

	s.queue = worker.New[SpeakRequest](ctx, s.queueCap)

	sub, err := eventbus.SubscribeTo(s.bus, eventbus.Conversation.SpeechOutput, s.onSpeechOutput,
		eventbus.WithSubscriptionName("audio_speech"))
	if err != nil {
		s.life.Fail(err)
		return fmt.Errorf("audio: subscribe speech_output: %w", err)
	}
	s.subs.Add(sub)

	s.queue.Start(s.handleSpeak, s.abandonBacklog, nil)
	s.life.MarkRunning()
	s.logger.Printf("[Audio] started (sample_rate=%d voice=%s volume=%.2f)", s.sampleRate, s.voice, s.volume)
	return nil
}

// Stop closes the subscription, joins the worker with a bounded wait, and
// releases the synthesizer. Cleanup runs at most once.
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
			s.logger.Printf("[Audio] worker did not exit within %s: %v", s.joinTimeout, err)
		}
	}

	if err := s.synth.Close(); err != nil {
		s.logger.Printf("[Audio] synthesizer close failed: %v", err)
	}

	s.life.MarkStopped()
	s.logger.Printf("[Audio] stopped")
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

func (s *Service) onSpeechOutput(ctx context.Context, env eventbus.Envelope, ev eventbus.SpeechOutputEvent) error {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		s.logger.Printf("[Audio] dropping empty speech request from %s", env.Source)
		return nil
	}

	req := SpeakRequest{Text: text, Language: ev.Language, Voice: s.voice, Volume: s.volume, Metadata: ev.Metadata}
	switch err := s.queue.TryEnqueue(req); err {
	case nil:
	case worker.ErrQueueFull:
		s.logger.Printf("[Audio] speak queue full, dropping utterance")
	case worker.ErrStopped:
		s.logger.Printf("[Audio] worker stopped, dropping utterance")
	default:
		s.logger.Printf("[Audio] enqueue failed: %v", err)
	}
	return nil
}

func (s *Service) handleSpeak(req SpeakRequest) bool {
	s.setSpeaking(true)
	defer s.setSpeaking(false)

	if err := s.synth.Speak(s.queue.Context(), req); err != nil {
		s.logger.Printf("[Audio] synthesis failed: %v", err)
		_ = eventbus.Publish(s.queue.Context(), s.bus, eventbus.System.Error, eventbus.SourceAudio, eventbus.ErrorEvent{
			Module:      ModuleName,
			Message:     err.Error(),
			Recoverable: true,
		})
		return false
	}

	s.mu.Lock()
	s.spoken++
	s.mu.Unlock()
	return false
}

func (s *Service) abandonBacklog() {
	abandoned := s.queue.DrainNonBlocking(nil)
	if abandoned > 0 {
		s.logger.Printf("[Audio] abandoning %d queued utterances on shutdown", abandoned)
	}
}

// Speaking reports whether an utterance is being rendered right now.
func (s *Service) Speaking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speaking
}

// Spoken returns the number of completed utterances.
func (s *Service) Spoken() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spoken
}

// QueueDepth returns the number of queued utterances.
func (s *Service) QueueDepth() int {
	if s.queue == nil {
		return 0
	}
	return s.queue.Pending()
}

// SampleRate returns the configured output sample rate.
func (s *Service) SampleRate() int { return s.sampleRate }

// Voice returns the configured synthesizer voice.
func (s *Service) Voice() string { return s.voice }

// Volume returns the configured playback volume.
func (s *Service) Volume() float64 { return s.volume }

func (s *Service) setSpeaking(v bool) {
	s.mu.Lock()
	s.speaking = v
	s.mu.Unlock()
}
