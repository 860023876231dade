package transcode

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode matches every *DecodeError via errors.Is.
	ErrDecode = errors.New("decode failed")

	// ErrEmptyInput is returned when there is nothing to decode.
	ErrEmptyInput = errors.New("empty input")

	// ErrNoAudio is returned when the decoder produced zero frames.
	ErrNoAudio = errors.New("no audio decoded")

	errUnsupported = errors.New("unsupported content type")
)

// DecodeError reports a failure to turn compressed input into samples.
type DecodeError struct {
	Stage       string // input, open, decode or validate
	ContentType string
	Err         error
}

func (e *DecodeError) Error() string {
	if e.ContentType == "" {
		return fmt.Sprintf("%v: %s: %v", ErrDecode, e.Stage, e.Err)
	}
	return fmt.Sprintf("%v: %s %s: %v", ErrDecode, e.Stage, e.ContentType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDecode) true for any DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
