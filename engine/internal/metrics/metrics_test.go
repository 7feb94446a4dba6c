package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/pulsekit/pulsekit/engine/internal/session"
)

func parse(t *testing.T, text string) map[string]*dto.MetricFamily {
	t.Helper()
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(strings.NewReader(text))
	if err != nil {
		t.Fatalf("parse exposition: %v\n%s", err, text)
	}
	return mfs
}

func value(m *dto.Metric) float64 {
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Counter != nil:
		return m.Counter.GetValue()
	}
	return m.Untyped.GetValue()
}

func byLabel(mf *dto.MetricFamily, name, val string) (float64, bool) {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == name && lp.GetValue() == val {
				return value(m), true
			}
		}
	}
	return 0, false
}

func TestRegistry_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := New().Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	mfs := parse(t, buf.String())
	if v := value(mfs["pulsekit_sessions_open"].Metric[0]); v != 0 {
		t.Errorf("sessions_open: got %v, want 0", v)
	}
	if _, ok := mfs["pulsekit_session_heart_rate_bpm"]; ok {
		t.Error("per-session family emitted with no sessions")
	}
	if _, ok := mfs["pulsekit_samples_ingested_total"]; ok {
		t.Error("empty labelled counter emitted")
	}
}

func TestRegistry_Values(t *testing.T) {
	r := New()
	r.AddSamples("grpc", 300)
	r.AddSamples("grpc", 30)
	r.AddSamples("mqtt", 100)
	r.AddSamples("mqtt", 0)
	r.ObserveRun(5, 1)
	r.SetAlertsFiring(2)
	r.ObserveTick([]session.Update{
		{SessionID: "a", BPM: 72, MeasuredRate: 30, Buffered: 300},
		{SessionID: "b", BPM: 0, MeasuredRate: 99.5, Buffered: 12},
	})
	r.ObserveTick([]session.Update{
		{SessionID: "a", BPM: 74, MeasuredRate: 30, Buffered: 300},
		{SessionID: "b", BPM: 0, MeasuredRate: 99.5, Buffered: 40},
	})

	var buf bytes.Buffer
	if err := r.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	mfs := parse(t, buf.String())

	tests := []struct {
		family, label, val string
		want               float64
	}{
		{"pulsekit_samples_ingested_total", "transport", "grpc", 330},
		{"pulsekit_samples_ingested_total", "transport", "mqtt", 100},
		{"pulsekit_pipeline_windows_total", "outcome", "ok", 5},
		{"pulsekit_pipeline_windows_total", "outcome", "error", 1},
		{"pulsekit_session_heart_rate_bpm", "session", "a", 74},
		{"pulsekit_session_heart_rate_bpm", "session", "b", 0},
		{"pulsekit_session_measured_rate_hz", "session", "b", 99.5},
		{"pulsekit_session_buffered_samples", "session", "b", 40},
	}
	for _, tc := range tests {
		mf, ok := mfs[tc.family]
		if !ok {
			t.Errorf("%s missing", tc.family)
			continue
		}
		got, ok := byLabel(mf, tc.label, tc.val)
		if !ok {
			t.Errorf("%s{%s=%q} missing", tc.family, tc.label, tc.val)
			continue
		}
		if got != tc.want {
			t.Errorf("%s{%s=%q}: got %v, want %v", tc.family, tc.label, tc.val, got, tc.want)
		}
	}

	if v := value(mfs["pulsekit_heart_rate_ticks_total"].Metric[0]); v != 2 {
		t.Errorf("ticks: got %v, want 2", v)
	}
	if v := value(mfs["pulsekit_sessions_open"].Metric[0]); v != 2 {
		t.Errorf("sessions_open: got %v, want 2", v)
	}
	if v := value(mfs["pulsekit_alerts_firing"].Metric[0]); v != 2 {
		t.Errorf("alerts_firing: got %v, want 2", v)
	}
	if mfs["pulsekit_samples_ingested_total"].GetType() != dto.MetricType_COUNTER {
		t.Error("samples_ingested_total should be a counter")
	}
	if mfs["pulsekit_session_heart_rate_bpm"].GetType() != dto.MetricType_GAUGE {
		t.Error("session_heart_rate_bpm should be a gauge")
	}
}

func TestRegistry_SessionsReplacedEachTick(t *testing.T) {
	r := New()
	r.ObserveTick([]session.Update{{SessionID: "gone"}})
	r.ObserveTick([]session.Update{{SessionID: "kept"}})

	for _, mf := range r.Families() {
		if mf.GetName() != "pulsekit_session_heart_rate_bpm" {
			continue
		}
		if _, ok := byLabel(mf, "session", "gone"); ok {
			t.Error("closed session still exported")
		}
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.AddSamples("http", 3)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type: got %q", ct)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	mfs := parse(t, buf.String())
	if got, _ := byLabel(mfs["pulsekit_samples_ingested_total"], "transport", "http"); got != 3 {
		t.Errorf("ingested http: got %v, want 3", got)
	}
}
