package observability

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ada-ai/ada/internal/eventbus"
	"github.com/ada-ai/ada/internal/module"
)

// PrometheusExporter renders runtime metrics in Prometheus text exposition
// format. Everything beyond the bus counters is optional and injected by
// the daemon.
type PrometheusExporter struct {
	bus          *eventbus.Bus
	counter      *EventCounter
	moduleStates func() map[string]module.Status
	queueDepths  func() map[string]int
	speech       func() SpeechMetricsSnapshot
}

// SpeechMetricsSnapshot represents a point-in-time view of the speech output
// pipeline.
type SpeechMetricsSnapshot struct {
	Spoken   uint64
	Speaking bool
}

// NewPrometheusExporter constructs an exporter backed by the provided bus and event counter.
func NewPrometheusExporter(bus *eventbus.Bus, counter *EventCounter) *PrometheusExporter {
	return &PrometheusExporter{
		bus:     bus,
		counter: counter,
	}
}

// WithModuleStates enables exporting per-module liveness gauges.
func (e *PrometheusExporter) WithModuleStates(provider func() map[string]module.Status) {
	e.moduleStates = provider
}

// WithQueueDepths enables exporting per-module worker queue depth gauges.
func (e *PrometheusExporter) WithQueueDepths(provider func() map[string]int) {
	e.queueDepths = provider
}

// WithSpeechMetrics enables exporting snapshot-based speech output metrics.
func (e *PrometheusExporter) WithSpeechMetrics(provider func() SpeechMetricsSnapshot) {
	e.speech = provider
}

// Export produces the metrics payload in Prometheus' text exposition format.
func (e *PrometheusExporter) Export() []byte {
	var buf bytes.Buffer

	e.writeEventCounters(&buf)
	e.writeBusMetrics(&buf)
	e.writeModuleStates(&buf)
	e.writeQueueDepths(&buf)
	e.writeSpeechMetrics(&buf)

	return buf.Bytes()
}

func (e *PrometheusExporter) writeEventCounters(buf *bytes.Buffer) {
	if e.counter == nil {
		return
	}

	counts := e.counter.Snapshot()
	if len(counts) == 0 {
		return
	}

	buf.WriteString("# HELP ada_eventbus_events_total Total number of published events per topic.\n")
	buf.WriteString("# TYPE ada_eventbus_events_total counter\n")

	topics := make([]string, 0, len(counts))
	for topic := range counts {
		topics = append(topics, string(topic))
	}
	sort.Strings(topics)
	for _, topicName := range topics {
		value := counts[eventbus.Topic(topicName)]
		buf.WriteString(fmt.Sprintf("ada_eventbus_events_total{topic=%q} %d\n", topicName, value))
	}
}

func (e *PrometheusExporter) writeBusMetrics(buf *bytes.Buffer) {
	if e.bus == nil {
		return
	}

	metrics := e.bus.Metrics()

	buf.WriteString("# HELP ada_eventbus_publish_total Total number of events published on the bus.\n")
	buf.WriteString("# TYPE ada_eventbus_publish_total counter\n")
	buf.WriteString(fmt.Sprintf("ada_eventbus_publish_total %d\n", metrics.Published))

	buf.WriteString("# HELP ada_eventbus_delivered_total Total number of handler deliveries that succeeded.\n")
	buf.WriteString("# TYPE ada_eventbus_delivered_total counter\n")
	buf.WriteString(fmt.Sprintf("ada_eventbus_delivered_total %d\n", metrics.Delivered))

	buf.WriteString("# HELP ada_eventbus_handler_failures_total Total number of handler errors or panics.\n")
	buf.WriteString("# TYPE ada_eventbus_handler_failures_total counter\n")
	buf.WriteString(fmt.Sprintf("ada_eventbus_handler_failures_total %d\n", metrics.HandlerFailures))
}

func (e *PrometheusExporter) writeModuleStates(buf *bytes.Buffer) {
	if e.moduleStates == nil {
		return
	}

	statuses := e.moduleStates()
	if len(statuses) == 0 {
		return
	}

	buf.WriteString("# HELP ada_module_up Whether a module is in the running state.\n")
	buf.WriteString("# TYPE ada_module_up gauge\n")

	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		up := 0
		if statuses[name].State == module.StateRunning {
			up = 1
		}
		buf.WriteString(fmt.Sprintf("ada_module_up{module=%q} %d\n", name, up))
	}
}

func (e *PrometheusExporter) writeQueueDepths(buf *bytes.Buffer) {
	if e.queueDepths == nil {
		return
	}

	depths := e.queueDepths()
	if len(depths) == 0 {
		return
	}

	buf.WriteString("# HELP ada_worker_queue_depth Number of items waiting in a module's worker queue.\n")
	buf.WriteString("# TYPE ada_worker_queue_depth gauge\n")

	names := make([]string, 0, len(depths))
	for name := range depths {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		buf.WriteString(fmt.Sprintf("ada_worker_queue_depth{module=%q} %d\n", name, depths[name]))
	}
}

func (e *PrometheusExporter) writeSpeechMetrics(buf *bytes.Buffer) {
	if e.speech == nil {
		return
	}

	snapshot := e.speech()

	buf.WriteString("# HELP ada_speech_spoken_total Total number of speech outputs synthesized.\n")
	buf.WriteString("# TYPE ada_speech_spoken_total counter\n")
	buf.WriteString(fmt.Sprintf("ada_speech_spoken_total %d\n", snapshot.Spoken))

	active := 0
	if snapshot.Speaking {
		active = 1
	}
	buf.WriteString("# HELP ada_speech_active Whether speech synthesis is currently playing.\n")
	buf.WriteString("# TYPE ada_speech_active gauge\n")
	buf.WriteString(fmt.Sprintf("ada_speech_active %d\n", active))
}
