// Package features turns a finite window of PPG samples into a fixed
// 20-dimension vector for a downstream scorer.
//
// Vector layout (positional, part of the contract):
//
//	 0 mean                  5 mean peak interval (samples)
//	 1 variance (population) 6 peak interval std dev
//	 2 std dev               7 peak count
//	 3 amplitude (max-min)   8 max
//	 4 max rising slope      9 min
//	10..19 mean squared value of 10 contiguous equal-length segments
//
// The segment energies are a time-domain proxy for band power; no transform
// is computed. Windows shorter than MinWindow yield the zero vector. Every
// element is finite for any input.
package features
