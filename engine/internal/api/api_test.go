package api_test

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pulsekit/pulsekit/engine/internal/alerts"
	"github.com/pulsekit/pulsekit/engine/internal/analysis"
	"github.com/pulsekit/pulsekit/engine/internal/api"
	"github.com/pulsekit/pulsekit/engine/internal/dsp"
	"github.com/pulsekit/pulsekit/engine/internal/features"
	"github.com/pulsekit/pulsekit/engine/internal/metrics"
	"github.com/pulsekit/pulsekit/engine/internal/session"
	"github.com/pulsekit/pulsekit/pkg/recording"
	"github.com/pulsekit/pulsekit/pkg/types"
)

// --- test helpers -----------------------------------------------------------

type fakeAlerts []alerts.Alert

func (f fakeAlerts) Active() []alerts.Alert { return f }

func pulse(n int) []types.Sample {
	out := make([]types.Sample, n)
	for i := range out {
		ts := float64(i) / 30
		out[i] = types.Sample{
			Timestamp: int64(math.Round(ts * 1000)),
			Value:     0.5 + 0.1*math.Sin(2*math.Pi*1.2*ts),
		}
	}
	return out
}

func newHandler(t *testing.T) (http.Handler, *session.Registry, *metrics.Registry) {
	t.Helper()
	reg := session.NewRegistry(session.Options{DSP: dsp.DefaultConfig()})
	m := metrics.New()
	h := api.New(api.Deps{Sessions: reg, Metrics: m})
	return h, reg, m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func csvBody(t *testing.T, samples []types.Sample) string {
	t.Helper()
	var buf bytes.Buffer
	if err := recording.Write(&buf, recording.Metadata{SubjectID: "t", SampleRate: 30}, samples); err != nil {
		t.Fatalf("recording.Write: %v", err)
	}
	return buf.String()
}

// --- health -----------------------------------------------------------------

func TestHealth_Idle(t *testing.T) {
	h, _, _ := newHandler(t)
	rr := do(t, h, http.MethodGet, "/api/v1/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.State != "idle" || resp.SessionCount != 0 {
		t.Errorf("health: %+v", resp)
	}
}

func TestHealth_LiveAndAlerts(t *testing.T) {
	reg := session.NewRegistry(session.Options{DSP: dsp.DefaultConfig()})
	reg.Open("a", 30)
	reg.Open("b", 30)
	reg.Push("a", pulse(900)...)
	reg.Tick()

	h := api.New(api.Deps{Sessions: reg, Alerts: fakeAlerts{
		{RuleName: "r", State: alerts.StateFiring},
		{RuleName: "r", State: alerts.StateResolved},
	}})
	var resp api.HealthResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/health", ""), &resp)
	if resp.State != "ok" || resp.SessionCount != 2 || resp.LiveCount != 1 || resp.AlertCount != 1 {
		t.Errorf("health: %+v", resp)
	}
}

func TestHealth_Degraded(t *testing.T) {
	h, reg, _ := newHandler(t)
	reg.Open("a", 30)
	var resp api.HealthResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/health", ""), &resp)
	if resp.State != "degraded" {
		t.Errorf("state: got %q, want degraded", resp.State)
	}
}

// --- sessions ---------------------------------------------------------------

func TestSessions_OpenPushGetClose(t *testing.T) {
	h, reg, m := newHandler(t)

	rr := do(t, h, http.MethodPost, "/api/v1/sessions", `{"session_id":"cam-1"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("open status: got %d (%s)", rr.Code, rr.Body.String())
	}
	var opened api.SessionResponse
	decode(t, rr, &opened)
	if opened.SessionID != "cam-1" || opened.SampleRate != 30 {
		t.Errorf("opened: %+v", opened.Update)
	}

	body, _ := json.Marshal(pulse(900))
	rr = do(t, h, http.MethodPost, "/api/v1/sessions/cam-1/samples", string(body))
	if rr.Code != http.StatusOK {
		t.Fatalf("push status: got %d (%s)", rr.Code, rr.Body.String())
	}
	var pushed api.PushResponse
	decode(t, rr, &pushed)
	if pushed.Accepted != 900 {
		t.Errorf("accepted: got %d, want 900", pushed.Accepted)
	}
	reg.Tick()

	var got api.SessionResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/sessions/cam-1", ""), &got)
	if got.BPM < 70 || got.BPM > 74 {
		t.Errorf("bpm: got %d", got.BPM)
	}
	if len(got.Diagnostics) != 1 || got.Diagnostics[0].Key != "ok" {
		t.Errorf("diagnostics: %+v", got.Diagnostics)
	}

	var list []api.SessionResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/sessions", ""), &list)
	if len(list) != 1 {
		t.Errorf("list: got %d sessions", len(list))
	}

	rr = do(t, h, http.MethodDelete, "/api/v1/sessions/cam-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("close status: got %d", rr.Code)
	}
	if reg.Count() != 0 {
		t.Errorf("Count after close: %d", reg.Count())
	}

	var fams bytes.Buffer
	m.Write(&fams)
	if !strings.Contains(fams.String(), `pulsekit_samples_ingested_total{transport="http"} 900`) {
		t.Errorf("http ingest not counted:\n%s", fams.String())
	}
}

func TestSessions_OpenGeneratesID(t *testing.T) {
	h, _, _ := newHandler(t)
	rr := do(t, h, http.MethodPost, "/api/v1/sessions", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d", rr.Code)
	}
	var got api.SessionResponse
	decode(t, rr, &got)
	if got.SessionID == "" {
		t.Error("expected generated session_id")
	}
}

func TestSessions_OpenUsesCurrentDefaultRate(t *testing.T) {
	h, reg, _ := newHandler(t)
	reg.SetDefaults(60, dsp.DefaultConfig())

	rr := do(t, h, http.MethodPost, "/api/v1/sessions", `{"session_id":"r"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body)
	}
	var got api.SessionResponse
	decode(t, rr, &got)
	if got.SampleRate != 60 {
		t.Errorf("sample_rate: got %g, want 60", got.SampleRate)
	}
}

func TestSessions_OpenErrors(t *testing.T) {
	h, reg, _ := newHandler(t)
	reg.Open("x", 30)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"rate below band", `{"sample_rate": 8}`, http.StatusBadRequest},
		{"rate above max", `{"sample_rate": 1e15}`, http.StatusBadRequest},
		{"rate mismatch", `{"session_id":"x","sample_rate":60}`, http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rr := do(t, h, http.MethodPost, "/api/v1/sessions", tc.body); rr.Code != tc.want {
				t.Errorf("status: got %d, want %d (%s)", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestSessions_NotFound(t *testing.T) {
	h, _, _ := newHandler(t)
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/v1/sessions/nope", ""},
		{http.MethodDelete, "/api/v1/sessions/nope", ""},
		{http.MethodPost, "/api/v1/sessions/nope/samples", "[]"},
		{http.MethodGet, "/api/v1/sessions/nope/other", ""},
	} {
		if rr := do(t, h, tc.method, tc.path, tc.body); rr.Code != http.StatusNotFound {
			t.Errorf("%s %s: got %d, want 404", tc.method, tc.path, rr.Code)
		}
	}
}

func TestSessions_PushInvalid(t *testing.T) {
	h, reg, _ := newHandler(t)
	reg.Open("s", 30)
	if rr := do(t, h, http.MethodPost, "/api/v1/sessions/s/samples", `{"not":"an array"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("object body: got %d, want 400", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/api/v1/sessions/s/samples", `[{"timestamp":1,"value":0.5,"source":"radar"}]`); rr.Code != http.StatusBadRequest {
		t.Errorf("bad source: got %d, want 400", rr.Code)
	}
}

// --- analyze ----------------------------------------------------------------

func TestAnalyze_Recording(t *testing.T) {
	h, _, _ := newHandler(t)
	rr := do(t, h, http.MethodPost, "/api/v1/analyze", csvBody(t, pulse(900)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body.String())
	}
	var rep analysis.Report
	decode(t, rr, &rep)
	if rep.Samples != 900 || len(rep.Windows) != 5 {
		t.Errorf("report: samples=%d windows=%d", rep.Samples, len(rep.Windows))
	}
	if rep.HeartRate < 70 || rep.HeartRate > 74 {
		t.Errorf("heart_rate: got %d", rep.HeartRate)
	}
	if rep.Metadata.SubjectID != "t" {
		t.Errorf("subject: got %q", rep.Metadata.SubjectID)
	}
	if rep.Windows[0].Estimate == nil || rep.Windows[0].Estimate.Systolic != 125 {
		t.Errorf("window 0 estimate: %+v", rep.Windows[0].Estimate)
	}
}

func TestAnalyze_WindowOverride(t *testing.T) {
	h, _, _ := newHandler(t)
	rr := do(t, h, http.MethodPost, "/api/v1/analyze?window_size=100&stride=100", csvBody(t, pulse(900)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body.String())
	}
	var rep analysis.Report
	decode(t, rr, &rep)
	if len(rep.Windows) != 9 || rep.Options.WindowSize != 100 {
		t.Errorf("windows: got %d (options %+v), want 9", len(rep.Windows), rep.Options)
	}
}

func TestAnalyze_BadInput(t *testing.T) {
	h, _, _ := newHandler(t)
	tests := []struct {
		name, path, body string
	}{
		{"no data", "/api/v1/analyze", "# only comments\n"},
		{"malformed row", "/api/v1/analyze", "timestamp_ms,elapsed_seconds,PLETH,source\n1,2\n"},
		{"bad stride", "/api/v1/analyze?stride=-1", csvBody(t, pulse(300))},
		{"bad window", "/api/v1/analyze?window_size=abc", csvBody(t, pulse(300))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rr := do(t, h, http.MethodPost, tc.path, tc.body); rr.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400 (%s)", rr.Code, rr.Body.String())
			}
		})
	}
}

// --- features ---------------------------------------------------------------

func TestFeatures(t *testing.T) {
	h, _, _ := newHandler(t)
	values := make([]float64, 200)
	for i := range values {
		values[i] = 0.5 + 0.1*math.Sin(float64(i)/4)
	}
	body, _ := json.Marshal(api.FeaturesRequest{Values: values})

	var resp api.FeaturesResponse
	decode(t, do(t, h, http.MethodPost, "/api/v1/features", string(body)), &resp)
	if !resp.Sufficient {
		t.Error("sufficient: got false")
	}
	want := features.Extract(values)
	if resp.Vector != want {
		t.Errorf("vector mismatch")
	}
	if len(resp.Features) != features.Dim {
		t.Errorf("features map: got %d keys", len(resp.Features))
	}
}

func TestFeatures_ShortWindow(t *testing.T) {
	h, _, _ := newHandler(t)
	var resp api.FeaturesResponse
	decode(t, do(t, h, http.MethodPost, "/api/v1/features", `{"values":[1,2,3]}`), &resp)
	if resp.Sufficient {
		t.Error("short window reported sufficient")
	}
	if resp.Vector != ([features.Dim]float64{}) {
		t.Error("short window: expected zero vector")
	}
}

// --- alerts -----------------------------------------------------------------

func TestAlerts_EmptyArray(t *testing.T) {
	h, _, _ := newHandler(t)
	rr := do(t, h, http.MethodGet, "/api/v1/alerts", "")
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("body: got %s, want []", body)
	}
}

// --- cross-cutting ----------------------------------------------------------

func TestMethodNotAllowed(t *testing.T) {
	h, _, _ := newHandler(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/health"},
		{http.MethodPut, "/api/v1/sessions"},
		{http.MethodGet, "/api/v1/analyze"},
		{http.MethodGet, "/api/v1/features"},
		{http.MethodPost, "/api/v1/alerts"},
	} {
		if rr := do(t, h, tc.method, tc.path, ""); rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: got %d, want 405", tc.method, tc.path, rr.Code)
		}
	}
}

func TestContentTypeJSON(t *testing.T) {
	h, _, _ := newHandler(t)
	for _, path := range []string{"/api/v1/health", "/api/v1/sessions", "/api/v1/alerts"} {
		rr := do(t, h, http.MethodGet, path, "")
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s Content-Type: got %q", path, ct)
		}
	}
}
