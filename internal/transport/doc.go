// Package transport builds the HTTP client shared by the remote endpoint
// clients and defines the error they return for connection failures and
// non-2xx replies.
package transport
