// Package ws implements the WebSocket hub that feeds live charts.
//
// New(source) creates a Hub. The engine calls Hub.Publish with the updates
// of every heart-rate tick; Hub.Run(ctx) blocks until ctx is cancelled and
// then closes all connections.
//
// Hub.ServeHTTP upgrades a connection, sends the current session list
// immediately and then streams one message per tick:
//
//	{
//	  "event": "heart_rate",
//	  "data":  [ { "session_id": "...", "bpm": 72, ... } ]
//	}
//
// A client that connects with ?session=<id> only receives that session's
// update, followed by its filtered rolling buffer for plotting:
//
//	{
//	  "event": "waveform",
//	  "data":  { "session_id": "...", "sample_rate": 30, "values": [ ... ] }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The engine mounts the hub at /ws/stream.
package ws
