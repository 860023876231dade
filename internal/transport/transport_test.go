package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClientDefaults(t *testing.T) {
	client, err := NewHTTPClient(Config{Timeout: 5 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, client.Timeout)
	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 100, tr.MaxIdleConns)
	assert.Equal(t, 10, tr.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, tr.IdleConnTimeout)
	assert.Nil(t, tr.TLSClientConfig)
}

func TestNewTransportHTTP2(t *testing.T) {
	tr, err := NewTransport(Config{EnableHTTP2: true, InsecureSkipVerify: true})
	require.NoError(t, err)

	require.NotNil(t, tr.TLSClientConfig)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
	assert.Contains(t, tr.TLSClientConfig.NextProtos, "h2")
}

func TestCheckResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, strings.Repeat("x", maxErrorBody+100), http.StatusBadGateway)
	}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/ok")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NoError(t, CheckResponse("probe", resp))

	resp, err = srv.Client().Get(srv.URL + "/fail")
	require.NoError(t, err)
	defer resp.Body.Close()

	err = CheckResponse("probe", resp)
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Equal(t, srv.URL+"/fail", te.URL)
	assert.Len(t, te.Body, maxErrorBody)
	assert.ErrorIs(t, err, ErrStatus)
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("op", "http://x", nil))

	cause := errors.New("connection refused")
	err := Wrap("transcribe", "http://x", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "transcribe http://x: connection refused", err.Error())
	assert.Equal(t, 0, StatusCode(err))

	// already typed errors pass through untouched
	inner := &Error{Op: "a", URL: "u", StatusCode: 500, Err: ErrStatus}
	wrapped := fmt.Errorf("outer: %w", inner)
	assert.Same(t, wrapped, Wrap("b", "v", wrapped))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: "stream", URL: "http://h/s", StatusCode: 404, Err: ErrStatus}
	assert.Equal(t, "stream http://h/s: HTTP 404", err.Error())

	err.Body = "not found"
	assert.Equal(t, "stream http://h/s: HTTP 404: not found", err.Error())
}
