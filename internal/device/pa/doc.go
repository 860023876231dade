// Package pa captures raw PCM through PortAudio. It needs the PortAudio C
// library at build time, so it lives apart from the ffmpeg backend.
package pa
