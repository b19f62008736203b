package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline holds the Prometheus instruments for the frame pipeline.
type Pipeline struct {
	FramesTotal       *prometheus.CounterVec
	FramesDropped     prometheus.Counter
	DecodeFailures    prometheus.Counter
	EventsAppended    prometheus.Counter
	StateUpdates      *prometheus.CounterVec
	ConnTransitions   *prometheus.CounterVec
	CommandsPublished *prometheus.CounterVec
}

func NewPipeline() *Pipeline {
	return &Pipeline{
		FramesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doorwatch",
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Inbound frames by channel kind.",
		}, []string{"channel"}), // channel: door_state, badge_events, other
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "doorwatch",
			Subsystem: "stream",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because the pipeline channel was full.",
		}),
		DecodeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "doorwatch",
			Subsystem: "stream",
			Name:      "decode_failures_total",
			Help:      "Frames whose payload could not be decoded to text.",
		}),
		EventsAppended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "doorwatch",
			Subsystem: "log",
			Name:      "events_appended_total",
			Help:      "Normalized events appended to the event log.",
		}),
		StateUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doorwatch",
			Subsystem: "state",
			Name:      "updates_total",
			Help:      "Device state projection updates by kind.",
		}, []string{"kind"}), // kind: door, badge
		ConnTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doorwatch",
			Subsystem: "stream",
			Name:      "connection_transitions_total",
			Help:      "Connection state machine transitions by target state.",
		}, []string{"state"}),
		CommandsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doorwatch",
			Subsystem: "dispatch",
			Name:      "commands_published_total",
			Help:      "Outbound device commands by action.",
		}, []string{"action"}),
	}
}
