// Package shipper sends sample batches to the pulsekit engine over gRPC
// (pulsekit.v1.Ingest/Send unary RPC).
//
// Shipper.Ship() is non-blocking: batches are placed in an in-memory channel
// (default capacity 1000). When the buffer is full the oldest batch is
// evicted so the most recent signal is always preserved.
//
// Shipper.Run() drains the buffer in a loop, reconnecting with truncated
// exponential backoff (1s→60s, ±25% jitter) on connection or send errors.
// A batch that failed transiently is retried first after reconnecting, so
// per-session sample order is kept. Permanent gRPC errors (Unauthenticated,
// PermissionDenied, InvalidArgument, FailedPrecondition) discard the batch.
//
// Auth: mTLS via credentials.NewTLS(), API key via gRPC metadata header,
// or insecure (plaintext) for local development.
package shipper
