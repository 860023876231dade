// Package verify checks whether a recording matches the signed-in user's
// voice. The result is informational: callers display it but never block on
// it, so Verify reports failures inside its Result instead of returning them.
package verify
