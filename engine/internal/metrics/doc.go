// Package metrics exposes engine counters and per-session gauges in the
// Prometheus text exposition format on /metrics.
//
// Families are built directly as client_model MetricFamily values and
// encoded with expfmt, so the output is byte-compatible with any Prometheus
// scraper:
//
//	pulsekit_sessions_open                      gauge
//	pulsekit_samples_ingested_total{transport}  counter
//	pulsekit_heart_rate_ticks_total             counter
//	pulsekit_session_heart_rate_bpm{session}    gauge
//	pulsekit_session_measured_rate_hz{session}  gauge
//	pulsekit_session_buffered_samples{session}  gauge
//	pulsekit_pipeline_windows_total{outcome}    counter
//	pulsekit_alerts_firing                      gauge
//
// Per-session gauges reflect the most recent heart-rate tick only; closed
// sessions disappear on the next tick.
package metrics
