// Package recording reads and writes PPG recordings in a MIMIC-III
// compatible CSV layout.
//
// A recording starts with "#" comment lines carrying metadata, a blank line,
// a column header and one row per sample:
//
//	# MIMIC-III Compatible PPG Recording
//	# Subject ID: s-001
//	# Start Time: 2026-01-01T00:00:00.000Z
//	# Sample Rate: 30.0000 Hz
//	# Signal: PLETH
//	# Units: NU
//
//	timestamp_ms,elapsed_seconds,PLETH,source
//	1767225600000,0.0000,0.500000,camera
//
// Read is lenient about comments and blank lines but strict about data rows:
// a row that cannot be parsed is reported with its line number.
package recording
