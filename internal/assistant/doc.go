// Package assistant runs one voice turn end to end: a finished recording is
// transcribed while the voice is verified in parallel, the transcript is sent
// as an intent and the streamed answer is published as it grows. Front ends
// observe everything through the Events channel.
package assistant
