package namingsvc

import (
	"context"
	"time"
)

// RegisteredName is a naming service registration of a node name.
type RegisteredName struct {
	Name       string
	Generation int

	// NodeURI is the network address of the node's API.
	NodeURI string

	// SigningKey is the raw Ed25519 public key used to verify the node
	// owner's signatures.
	SigningKey []byte
	// ValidFrom is when SigningKey became effective.
	ValidFrom time.Time
	// UpdatingKey authorizes changes to the registration itself. It is
	// carried for completeness and never used to verify content.
	UpdatingKey []byte

	Created time.Time
}

// Client queries the naming service.
//
// Both methods return (nil, nil) when the name is not registered (or had no
// key at the requested time). Any error means the service could not answer.
type Client interface {
	GetCurrent(ctx context.Context, name string, generation int) (*RegisteredName, error)
	GetPast(ctx context.Context, name string, generation int, at time.Time) (*RegisteredName, error)
}
