// Package capture implements the recording session: a small state machine
// (Idle, Recording, Finalizing) around a live input Device that collects
// encoded chunks and hands them to a transcoder when the user stops.
package capture
