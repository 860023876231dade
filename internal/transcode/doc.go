// Package transcode turns captured container chunks into canonical 16-bit PCM
// WAV. Each call opens its own scoped Decoder and closes it on every exit path.
package transcode
