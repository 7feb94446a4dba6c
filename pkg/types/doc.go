// Package types defines the shared Go types used by the engine, the feeder
// and the analyze tool. These are the canonical in-memory representations of
// PPG samples and blood-pressure estimates, separate from the gRPC JSON wire
// format in pkg/streamrpc.
package types
