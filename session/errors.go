// ABOUTME: Typed errors for session and sync operations.
// ABOUTME: Enables programmatic error handling with errors.Is() and errors.As().
package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic handling.
var (
	// ErrNoNetwork means reachability was false when a network call was required.
	ErrNoNetwork = errors.New("network unavailable")
	// ErrNoCredential means no refresh token or no current user was available
	// for an operation that requires one.
	ErrNoCredential = errors.New("no credential")
	// ErrRemoteRejected means the remote service returned a non-success status.
	ErrRemoteRejected = errors.New("remote rejected request")
	// ErrDecode means a remote response did not match the expected shape.
	ErrDecode = errors.New("decode failure")
)

// OpError wraps errors with operation context.
type OpError struct {
	Op     string // "sign_in", "restore", "fetch_orders", ...
	Err    error  // underlying typed error
	Detail string // server message if any
}

func (e *OpError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s failed: %v: %s", e.Op, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
