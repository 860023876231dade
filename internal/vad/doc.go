// Package vad estimates voice activity in decoded recordings with a windowed
// RMS energy detector. The result is informational: it is logged, exported as
// metrics and used to warn about recordings that contain no speech.
package vad
