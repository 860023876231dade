package transport

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrStatus is wrapped by Error when the server answered with a non-2xx status.
var ErrStatus = errors.New("unexpected HTTP status")

// maxErrorBody bounds how much of a failed reply is kept on Error.
const maxErrorBody = 4096

// Error describes a failed request: either the connection failed (Err holds
// the cause, StatusCode is 0) or the server replied with a non-2xx status.
type Error struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("%s %s: HTTP %d: %s", e.Op, e.URL, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s %s: HTTP %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err as an *Error for op against url. A nil err stays nil.
func Wrap(op, url string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Op: op, URL: url, Err: err}
}

// CheckResponse returns nil for 2xx replies. Otherwise it drains up to
// maxErrorBody bytes of the body into an *Error. The caller still closes the body.
func CheckResponse(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	url := ""
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}
	return &Error{
		Op:         op,
		URL:        url,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		Err:        ErrStatus,
	}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}
