// Package auth enforces the engine's API key on gRPC and HTTP ingress.
//
// All three guards share the same rule: when mode != "apikey" or key == ""
// every call passes through; otherwise the named header must carry key
// exactly, and anything else is rejected (codes.Unauthenticated for gRPC,
// 401 for HTTP).
package auth
