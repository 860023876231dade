// Package device provides the ffmpeg capture.Device backend: an ffmpeg child
// process reading the OS audio input and encoding Opus in WebM.
package device
