package api

import (
	"github.com/pulsekit/pulsekit/engine/internal/features"
	"github.com/pulsekit/pulsekit/engine/internal/session"
	"github.com/pulsekit/pulsekit/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is "ok" when at least one session has a heart rate, "idle" when
	// there are no sessions, and "degraded" otherwise.
	State        string `json:"state"`
	SessionCount int    `json:"session_count"`
	LiveCount    int    `json:"live_count"`
	AlertCount   int    `json:"alert_count"`
}

// SessionResponse is one session in GET /api/v1/sessions or
// GET /api/v1/sessions/{id}.
type SessionResponse struct {
	session.Update
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// OpenRequest is the body of POST /api/v1/sessions.
type OpenRequest struct {
	SessionID  string  `json:"session_id"`
	SampleRate float64 `json:"sample_rate"`
}

// PushResponse is the payload for POST /api/v1/sessions/{id}/samples.
type PushResponse struct {
	Accepted int `json:"accepted"`
}

// FeaturesRequest is the body of POST /api/v1/features.
type FeaturesRequest struct {
	Values []float64 `json:"values"`
}

// FeaturesResponse is the payload for POST /api/v1/features. Vector is the
// ordered form; Features keys the same values by name.
type FeaturesResponse struct {
	Vector     [features.Dim]float64 `json:"vector"`
	Features   map[string]float64    `json:"features"`
	Sufficient bool                  `json:"sufficient"`
}

type samplesRequest []types.Sample

type errorResponse struct {
	Error string `json:"error"`
}
