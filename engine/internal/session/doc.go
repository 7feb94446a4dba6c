// Package session holds the per-session live monitoring state of the engine.
//
// A Stream owns one dsp.StreamFilter and two bounded rolling buffers (raw and
// filtered) sized to BufferSeconds of samples at the session's nominal rate.
// Every pushed sample is filtered immediately; the heart rate is recomputed
// over the filtered buffer on demand, typically once per second from the
// engine's heart-rate ticker. Estimation is skipped, and the previous rate
// kept at zero, until the buffer holds more than two seconds of samples.
//
// A Registry maps session IDs to Streams. It is safe for concurrent use:
// the gRPC receiver, the MQTT subscriber and the HTTP API all push into the
// same Registry while the ticker reads from it. Sessions that receive no
// samples for the configured TTL are evicted by Run.
//
// Filter state is never shared between sessions, and a DSP configuration
// change only affects sessions opened after it.
package session
