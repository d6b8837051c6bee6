package eventbus

import (
	"sort"
	"time"
)

// Topic identifies a logical channel on the bus.
//
// The set of topics is closed: publishing or subscribing with a topic that is
// not declared below is a caller error surfaced by the bus, never silently
// accepted.
type Topic string

const (
	TopicVoiceCommand Topic = "assistant.voice_command"
	TopicTextInput    Topic = "assistant.text_input"
	TopicSpeechOutput Topic = "assistant.speech_output"
	TopicSystemStatus Topic = "assistant.system_status"
	TopicVisionUpdate Topic = "assistant.vision_update"
	TopicError        Topic = "assistant.error"
)

var knownTopics = map[Topic]struct{}{
	TopicVoiceCommand: {},
	TopicTextInput:    {},
	TopicSpeechOutput: {},
	TopicSystemStatus: {},
	TopicVisionUpdate: {},
	TopicError:        {},
}

// Known reports whether the topic belongs to the declared set.
func (t Topic) Known() bool {
	_, ok := knownTopics[t]
	return ok
}

// AllTopics returns the declared topic set in stable order.
func AllTopics() []Topic {
	topics := make([]Topic, 0, len(knownTopics))
	for t := range knownTopics {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

// Source describes which component produced an event.
type Source string

const (
	SourceAudio        Source = "audio"
	SourceVision       Source = "vision"
	SourceConversation Source = "conversation"
	SourceSupervisor   Source = "supervisor"
	SourceGateway      Source = "gateway"
	SourceClient       Source = "client"
	SourceUnknown      Source = "unknown"
)

// Envelope wraps every message published on the bus.
//
// Envelopes are immutable once published: the bus never rewrites a delivered
// envelope and subscribers must treat Payload as read-only. Publishers that
// need to retain a payload after publishing should hand the bus its own copy.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       any
}

// Speaker identifies the logical author of a conversation message.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// VoiceCommandEvent carries a recognised spoken command.
type VoiceCommandEvent struct {
	Command    string
	Confidence float32
	Metadata   map[string]string
}

// TextInputEvent carries text typed or injected by a client.
type TextInputEvent struct {
	Text     string
	Metadata map[string]string
}

// SpeechOutputEvent instructs the audio module to render a spoken response.
type SpeechOutputEvent struct {
	Text     string
	Language string
	Metadata map[string]string
}

// SystemStatusEvent reports a module lifecycle transition observed by the
// supervisor. State carries the module state name; Detail is the optional
// error message attached to the status.
type SystemStatusEvent struct {
	Module string
	State  string
	Detail string
	At     time.Time
}

// Detection describes a single object found in a captured frame.
type Detection struct {
	Label      string
	Confidence float32
}

// VisionUpdateEvent broadcasts detections from the vision capture loop.
type VisionUpdateEvent struct {
	Sequence   uint64
	Detections []Detection
	CapturedAt time.Time
}

// ErrorEvent reports a component failure to interested subscribers.
type ErrorEvent struct {
	Module      string
	Message     string
	Recoverable bool
}

// ---------------------------------------------------------------------------
// Typed topic descriptors
// ---------------------------------------------------------------------------
// Each TopicDef binds a Topic constant to its payload type, enabling
// compile-time enforcement via Publish[T] and SubscribeTo[T].

// Conversation groups the dialogue topic descriptors.
var Conversation = struct {
	VoiceCommand TopicDef[VoiceCommandEvent]
	TextInput    TopicDef[TextInputEvent]
	SpeechOutput TopicDef[SpeechOutputEvent]
}{
	VoiceCommand: NewTopicDef[VoiceCommandEvent](TopicVoiceCommand),
	TextInput:    NewTopicDef[TextInputEvent](TopicTextInput),
	SpeechOutput: NewTopicDef[SpeechOutputEvent](TopicSpeechOutput),
}

// Vision groups the vision topic descriptors.
var Vision = struct {
	Update TopicDef[VisionUpdateEvent]
}{
	Update: NewTopicDef[VisionUpdateEvent](TopicVisionUpdate),
}

// System groups the supervisor topic descriptors.
var System = struct {
	Status TopicDef[SystemStatusEvent]
	Error  TopicDef[ErrorEvent]
}{
	Status: NewTopicDef[SystemStatusEvent](TopicSystemStatus),
	Error:  NewTopicDef[ErrorEvent](TopicError),
}
