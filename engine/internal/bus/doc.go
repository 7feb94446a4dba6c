// Package bus connects the engine to optional message brokers.
//
// Publisher fans heart-rate updates out over NATS, one JSON message per
// session per tick on "<subject>.<session_id>". Subscriber takes BLE bridge
// samples from an MQTT topic and feeds them to the same ingest path the gRPC
// receiver uses.
package bus
