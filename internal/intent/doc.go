// Package intent sends a transcript to the incremental-response endpoint and
// feeds the streamed reply through a stream.Reader. It also posts answers to
// human-input requests raised during a stream.
package intent
