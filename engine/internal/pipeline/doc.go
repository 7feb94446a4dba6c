// Package pipeline runs the feature extractor over overlapping windows of a
// full recording and forwards each vector to an injected scorer.
//
// Run slides a WindowSize window across the samples with step Stride
// (defaults 300 and 150, 50% overlap) and skips any final partial window, so
// N samples yield floor((N-W)/S)+1 windows for N >= W and none otherwise.
// Results keep strict input order. A scorer error or panic is recorded
// against its window only; the rest of the batch still runs.
//
// accuracy.go compares blood-pressure predictions with ground truth (MAE and
// RMSE over systolic and diastolic errors).
package pipeline
