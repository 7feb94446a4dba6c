// Package heartrate estimates beats per minute from a finite buffer of
// filtered PPG samples using adaptive peak detection.
//
// Estimate never fails. Every invalid or insufficient condition (short
// buffer, flat signal, too few peaks, implausible rate) yields Unknown (0),
// which callers must read as "not enough usable signal yet".
package heartrate
