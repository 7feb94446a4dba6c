// Package api implements the engine's HTTP REST API.
//
// New(deps) returns an http.Handler that serves:
//
//	GET    /api/v1/health                 session and alert counts
//	GET    /api/v1/sessions               all live sessions ([]SessionResponse)
//	POST   /api/v1/sessions               open a session {session_id?, sample_rate?}
//	GET    /api/v1/sessions/{id}          one session with signal diagnostics
//	DELETE /api/v1/sessions/{id}          close a session, returns its final state
//	POST   /api/v1/sessions/{id}/samples  push a JSON array of samples
//	POST   /api/v1/analyze                analyse a MIMIC CSV recording body;
//	                                       ?window_size= and ?stride= override
//	                                       the configured window geometry
//	POST   /api/v1/features               feature vector of {"values": [...]}
//	GET    /api/v1/alerts                 firing and recently resolved alerts
//
// All endpoints respond with Content-Type: application/json and return 405
// for unsupported methods. Errors use the body {"error": "..."}.
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
