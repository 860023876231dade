// Package store is the session storage the client reads its access token
// from and writes the last transcript and answer to. Values are strings
// addressed by key; Memory keeps them in process and Redis shares them with
// other tools on the machine.
package store
