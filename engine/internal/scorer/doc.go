// Package scorer provides the default feature-vector scorer used when no
// external model is configured. It is a deterministic heuristic, not a
// trained model.
package scorer
