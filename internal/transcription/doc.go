// Package transcription implements the HTTP client for the speech-to-text
// endpoint. A recording is uploaded as a multipart form with a single WAV
// file field and the reply carries the transcript. Concurrent uploads are
// capped by a semaphore; failed requests are not retried.
package transcription
