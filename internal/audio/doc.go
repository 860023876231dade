// Package audio holds the in-memory audio types shared by the capture and
// transcode stages: captured container chunks, decoded float samples, and the
// canonical 16-bit PCM WAV encoding with its header inspection helpers.
package audio
