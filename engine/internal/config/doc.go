// Package config loads the engine configuration from a YAML file.
//
// Config sections:
//   - log_level      debug | info | warn | error (default info)
//   - engine         nominal sample rate, DSP filter settings, rolling buffer
//     length, heart-rate tick interval, session TTL and the default
//     window geometry of the offline pipeline
//   - server         gRPC and HTTP ports, API-key authentication
//   - alerts         heart-rate alert rules and webhook delivery targets
//   - bus            optional NATS publisher and MQTT subscriber
//
// Secrets never live in the file: Auth.KeyEnv and Webhook.URLEnv name the
// environment variables that hold them.
//
// Load(path) applies defaults before unmarshalling, then validates. The DSP
// section is validated against engine.sample_rate with the same rules the
// filter applies at construction, so a bad band is rejected at startup.
//
// Watch(ctx, path, onChange) reloads the file whenever it changes on disk.
package config
