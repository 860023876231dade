// Package stream reconstructs a text answer from a line-delimited streaming
// response. Lines may be server-sent-event frames carrying JSON or plain
// text, bare text lines, or control lines; each one is classified by
// Classify and its text fragment is appended to a running result.
package stream
