// Package metrics exposes the counters of a datamosh run in Prometheus form.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JaylenLuc/datamoshing/internal/media"
)

// Run holds the counters for one pipeline run. It satisfies
// pipeline.Observer.
type Run struct {
	read        prometheus.Counter
	forwarded   prometheus.Counter
	dropped     *prometheus.CounterVec
	synthesized prometheus.Counter
	transitions *prometheus.CounterVec
	packets     prometheus.Counter
	failures    prometheus.Counter
}

// NewRun registers the run counters on reg.
func NewRun(reg prometheus.Registerer) *Run {
	f := promauto.With(reg)
	r := &Run{
		read: f.NewCounter(prometheus.CounterOpts{
			Name: "datamosh_frames_read_total",
			Help: "Total number of pictures read from the decoder",
		}),
		forwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "datamosh_frames_forwarded_total",
			Help: "Total number of frames handed to the encoder",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "datamosh_frames_dropped_total",
			Help: "Total number of pictures dropped, by picture type",
		}, []string{"type"}),
		synthesized: f.NewCounter(prometheus.CounterOpts{
			Name: "datamosh_frames_synthesized_total",
			Help: "Total number of corrupted frames synthesized at transitions",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "datamosh_transitions_total",
			Help: "Total number of transitions, by whether a reference frame was available",
		}, []string{"reference"}),
		packets: f.NewCounter(prometheus.CounterOpts{
			Name: "datamosh_packets_written_total",
			Help: "Total number of encoded packets written to the output",
		}),
		failures: f.NewCounter(prometheus.CounterOpts{
			Name: "datamosh_submit_failures_total",
			Help: "Total number of frames or flushes the encoder rejected",
		}),
	}
	for _, t := range []media.PictureType{media.PictureIntra, media.PictureBidirectional, media.PictureUnspecified} {
		r.dropped.WithLabelValues(t.String()).Add(0)
	}
	r.transitions.WithLabelValues("true").Add(0)
	r.transitions.WithLabelValues("false").Add(0)
	return r
}

func (r *Run) FrameRead()           { r.read.Inc() }
func (r *Run) FrameForwarded()      { r.forwarded.Inc() }
func (r *Run) PacketsWritten(n int) { r.packets.Add(float64(n)) }
func (r *Run) SubmitFailed()        { r.failures.Inc() }

func (r *Run) FrameDropped(t media.PictureType) {
	r.dropped.WithLabelValues(t.String()).Inc()
}

func (r *Run) FramesSynthesized(n int) {
	r.synthesized.Add(float64(n))
}

func (r *Run) Transition(hadReference bool) {
	r.transitions.WithLabelValues(strconv.FormatBool(hadReference)).Inc()
}

// Handler should usually be mounted at /metrics
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// WriteTextfile writes everything g gathers to path in the text exposition
// format, for the node exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
