package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/pulsekit/pulsekit/engine/internal/session"
)

const namespace = "pulsekit_"

// Registry accumulates engine metrics. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	ingested map[string]float64 // by transport
	ticks    float64
	windows  map[string]float64 // by outcome
	firing   float64
	sessions []session.Update
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		ingested: make(map[string]float64),
		windows:  make(map[string]float64),
	}
}

// AddSamples counts n samples received over transport ("grpc", "mqtt", ...).
func (r *Registry) AddSamples(transport string, n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.ingested[transport] += float64(n)
	r.mu.Unlock()
}

// ObserveTick records the updates of one heart-rate tick.
func (r *Registry) ObserveTick(updates []session.Update) {
	r.mu.Lock()
	r.ticks++
	r.sessions = append(r.sessions[:0], updates...)
	r.mu.Unlock()
}

// ObserveRun counts the windows of one pipeline run.
func (r *Registry) ObserveRun(ok, failed int) {
	r.mu.Lock()
	r.windows["ok"] += float64(ok)
	r.windows["error"] += float64(failed)
	r.mu.Unlock()
}

// SetAlertsFiring sets the number of currently firing alerts.
func (r *Registry) SetAlertsFiring(n int) {
	r.mu.Lock()
	r.firing = float64(n)
	r.mu.Unlock()
}

// Families returns the current metric families sorted by name.
func (r *Registry) Families() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	fams := []*dto.MetricFamily{
		gauge("sessions_open", "Number of live sessions at the last heart-rate tick.",
			sample(float64(len(r.sessions)))),
		counter("heart_rate_ticks_total", "Heart-rate ticks completed.",
			sample(r.ticks)),
		gauge("alerts_firing", "Alerts currently firing.",
			sample(r.firing)),
		counter("samples_ingested_total", "Samples accepted, by transport.",
			labelled("transport", r.ingested)...),
		counter("pipeline_windows_total", "Offline pipeline windows scored, by outcome.",
			labelled("outcome", r.windows)...),
	}

	if len(r.sessions) > 0 {
		bpm := make([]*dto.Metric, 0, len(r.sessions))
		rate := make([]*dto.Metric, 0, len(r.sessions))
		buffered := make([]*dto.Metric, 0, len(r.sessions))
		for _, u := range r.sessions {
			bpm = append(bpm, sample(float64(u.BPM), "session", u.SessionID))
			rate = append(rate, sample(u.MeasuredRate, "session", u.SessionID))
			buffered = append(buffered, sample(float64(u.Buffered), "session", u.SessionID))
		}
		fams = append(fams,
			gauge("session_heart_rate_bpm", "Last estimated heart rate; 0 when unknown.", bpm...),
			gauge("session_measured_rate_hz", "Sample rate measured from timestamps.", rate...),
			gauge("session_buffered_samples", "Samples held in the rolling buffer.", buffered...),
		)
	}

	out := fams[:0]
	for _, f := range fams {
		if len(f.Metric) > 0 {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// Write encodes the current families in the Prometheus text format.
func (r *Registry) Write(w io.Writer) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range r.Families() {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler serves /metrics.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		if err := r.Write(w); err != nil {
			slog.Error("metrics: write failed", "err", err)
		}
	})
}

func gauge(name, help string, ms ...*dto.Metric) *dto.MetricFamily {
	for _, m := range ms {
		m.Gauge = &dto.Gauge{Value: m.Untyped.Value}
		m.Untyped = nil
	}
	return family(name, help, dto.MetricType_GAUGE, ms)
}

func counter(name, help string, ms ...*dto.Metric) *dto.MetricFamily {
	for _, m := range ms {
		m.Counter = &dto.Counter{Value: m.Untyped.Value}
		m.Untyped = nil
	}
	return family(name, help, dto.MetricType_COUNTER, ms)
}

func family(name, help string, typ dto.MetricType, ms []*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + name),
		Help:   proto.String(help),
		Type:   typ.Enum(),
		Metric: ms,
	}
}

// sample builds an untyped metric; gauge and counter retype it.
func sample(v float64, labelPairs ...string) *dto.Metric {
	m := &dto.Metric{Untyped: &dto.Untyped{Value: proto.Float64(v)}}
	for i := 0; i+1 < len(labelPairs); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(labelPairs[i]),
			Value: proto.String(labelPairs[i+1]),
		})
	}
	return m
}

func labelled(label string, values map[string]float64) []*dto.Metric {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*dto.Metric, 0, len(keys))
	for _, k := range keys {
		out = append(out, sample(values[k], label, k))
	}
	return out
}
