package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/pulsekit/pulsekit/engine/internal/alerts"
	"github.com/pulsekit/pulsekit/engine/internal/analysis"
	"github.com/pulsekit/pulsekit/engine/internal/dsp"
	"github.com/pulsekit/pulsekit/engine/internal/features"
	"github.com/pulsekit/pulsekit/engine/internal/metrics"
	"github.com/pulsekit/pulsekit/engine/internal/pipeline"
	"github.com/pulsekit/pulsekit/engine/internal/scorer"
	"github.com/pulsekit/pulsekit/engine/internal/session"
	"github.com/pulsekit/pulsekit/pkg/recording"
	"github.com/pulsekit/pulsekit/pkg/types"
)

// maxBody bounds request bodies (recordings included).
const maxBody = 32 << 20

const sessionsPrefix = "/api/v1/sessions/"

// AlertLister is the read side of the alert engine.
type AlertLister interface {
	Active() []alerts.Alert
}

// Deps are the collaborators the API reads from and writes to.
type Deps struct {
	Sessions *session.Registry
	Alerts   AlertLister       // optional
	Metrics  *metrics.Registry // optional

	// Pipeline is the default window geometry for /analyze.
	Pipeline pipeline.Options

	// Scorer scores /analyze windows. Defaults to scorer.Baseline.
	Scorer pipeline.Scorer[types.BPEstimate]
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(d Deps) http.Handler {
	if d.Scorer == nil {
		d.Scorer = scorer.Baseline{}.Score
	}
	h := &Handler{deps: d, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/sessions", h.sessions)
	h.mux.HandleFunc(sessionsPrefix, h.session) // subtree: {id} and {id}/samples
	h.mux.HandleFunc("/api/v1/analyze", h.analyze)
	h.mux.HandleFunc("/api/v1/features", h.features)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	list := h.deps.Sessions.List()
	resp := HealthResponse{SessionCount: len(list)}
	for _, u := range list {
		if u.BPM > 0 {
			resp.LiveCount++
		}
	}
	if h.deps.Alerts != nil {
		for _, a := range h.deps.Alerts.Active() {
			if a.State == alerts.StateFiring {
				resp.AlertCount++
			}
		}
	}
	switch {
	case resp.SessionCount == 0:
		resp.State = "idle"
	case resp.LiveCount > 0:
		resp.State = "ok"
	default:
		resp.State = "degraded"
	}
	jsonResp(w, http.StatusOK, resp)
}

// sessions serves GET and POST /api/v1/sessions.
func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := h.deps.Sessions.List()
		out := make([]SessionResponse, 0, len(list))
		for _, u := range list {
			out = append(out, h.sessionResponse(u))
		}
		jsonResp(w, http.StatusOK, out)

	case http.MethodPost:
		var req OpenRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
				jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
				return
			}
		}
		s, err := h.deps.Sessions.Open(req.SessionID, req.SampleRate)
		switch {
		case errors.Is(err, session.ErrRateMismatch):
			jsonErr(w, http.StatusConflict, err.Error())
			return
		case errors.Is(err, dsp.ErrConfiguration):
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			jsonErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		jsonResp(w, http.StatusCreated, h.sessionResponse(s.Snapshot()))

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// session serves /api/v1/sessions/{id} and /api/v1/sessions/{id}/samples.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, sessionsPrefix), "/")
	if rest == "" {
		h.sessions(w, r)
		return
	}
	id, sub, _ := strings.Cut(rest, "/")

	switch {
	case sub == "samples":
		h.pushSamples(w, r, id)
	case sub != "":
		jsonErr(w, http.StatusNotFound, "not found")
	case r.Method == http.MethodGet:
		s, ok := h.deps.Sessions.Get(id)
		if !ok {
			jsonErr(w, http.StatusNotFound, "session not found")
			return
		}
		jsonResp(w, http.StatusOK, h.sessionResponse(s.Snapshot()))
	case r.Method == http.MethodDelete:
		u, err := h.deps.Sessions.Close(id)
		if err != nil {
			jsonErr(w, http.StatusNotFound, "session not found")
			return
		}
		jsonResp(w, http.StatusOK, SessionResponse{Update: u, Diagnostics: []DiagnosticHint{}})
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) pushSamples(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req samplesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	for i, s := range req {
		if !s.Source.Valid() {
			jsonErr(w, http.StatusBadRequest, "sample "+strconv.Itoa(i)+": unknown source "+string(s.Source))
			return
		}
	}
	if err := h.deps.Sessions.Push(id, req...); err != nil {
		jsonErr(w, http.StatusNotFound, "session not found")
		return
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.AddSamples("http", len(req))
	}
	jsonResp(w, http.StatusOK, PushResponse{Accepted: len(req)})
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	opts := h.deps.Pipeline
	for name, dst := range map[string]*int{"window_size": &opts.WindowSize, "stride": &opts.Stride} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, name+" must be a positive integer")
			return
		}
		*dst = n
	}

	rec, err := recording.Read(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := analysis.Analyze(rec, h.deps.Sessions.DSP(), opts, h.deps.Scorer)
	if err != nil {
		jsonErr(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.ObserveRun(rep.Succeeded, rep.Failed)
	}
	slog.Debug("api: analyzed recording",
		"run_id", rep.RunID, "samples", rep.Samples, "windows", len(rep.Windows))
	jsonResp(w, http.StatusOK, rep)
}

func (h *Handler) features(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req FeaturesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	v := features.Extract(req.Values)
	jsonResp(w, http.StatusOK, FeaturesResponse{
		Vector:     v,
		Features:   v.Map(),
		Sufficient: !v.IsZero(),
	})
}

func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := []alerts.Alert{}
	if h.deps.Alerts != nil {
		out = append(out, h.deps.Alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) sessionResponse(u session.Update) SessionResponse {
	var raw []float64
	if s, ok := h.deps.Sessions.Get(u.SessionID); ok {
		raw = s.Raw()
	}
	return SessionResponse{Update: u, Diagnostics: computeDiagnostics(u, raw)}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
