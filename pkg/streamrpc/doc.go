// Package streamrpc defines the pulsekit.v1.Ingest gRPC service used to push
// PPG samples from feeders and bridges into the engine.
//
// Messages are plain Go structs carried by a JSON codec registered under the
// "json" content-subtype; Client selects it on every call, and the server
// resolves it from the request's content-type. The service has three
// methods:
//
//	Send   (unary)          SampleBatch    -> SendResponse
//	Stream (client stream)  SampleBatch... -> StreamSummary
//	Close  (unary)          CloseRequest   -> CloseResponse
//
// Send is the retry-friendly path: each batch is independent and can be
// re-sent after a transient failure. Stream is for bulk replay over a single
// call. Both open the session on first use at the batch's sample rate.
package streamrpc
