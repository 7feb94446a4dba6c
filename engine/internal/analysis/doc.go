// Package analysis runs the offline path over a complete recording: filter,
// heart-rate estimate, and windowed blood-pressure scoring. It backs both
// POST /api/v1/analyze and the analyze command.
package analysis
