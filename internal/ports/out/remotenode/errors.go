package remotenode

import "errors"

var (
	// ErrNotFound indicates the node answered and does not have the entry.
	ErrNotFound = errors.New("entry not found on remote node")

	// ErrUnreachable indicates the node could not be contacted or answered
	// with a server error.
	ErrUnreachable = errors.New("remote node unreachable")
)
