// Package receiver implements the pulsekit.v1.Ingest gRPC service on top of
// the session registry.
//
// Ingest is shared with the MQTT bridge so every transport opens sessions
// and validates batches the same way. Authentication is enforced by the gRPC
// server interceptors before any handler runs.
package receiver
