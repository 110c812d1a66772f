package naming

import (
	"errors"
	"time"

	"github.com/fedsearch/search-api/internal/ports/out/namingsvc"
)

var (
	// ErrNameNotFound means the naming service answered and the name is not
	// registered (or had no key at the requested time).
	ErrNameNotFound = errors.New("node name not registered")

	// ErrResolutionFailed means the naming service could not be asked or did
	// not answer in time. The cause is wrapped.
	ErrResolutionFailed = errors.New("node name resolution failed")
)

// Details is what the cache knows about a node name.
type Details struct {
	NodeName   string
	Generation int
	NodeURI    string

	SigningKey          []byte
	SigningKeyValidFrom time.Time
	UpdatingKey         []byte

	Created time.Time
}

// Clone returns a copy that shares no memory with d.
func (d Details) Clone() Details {
	d.SigningKey = cloneBytes(d.SigningKey)
	d.UpdatingKey = cloneBytes(d.UpdatingKey)
	return d
}

func detailsFrom(rn *namingsvc.RegisteredName) *Details {
	return &Details{
		NodeName:            Name{Name: rn.Name, Generation: rn.Generation}.String(),
		Generation:          rn.Generation,
		NodeURI:             rn.NodeURI,
		SigningKey:          cloneBytes(rn.SigningKey),
		SigningKeyValidFrom: rn.ValidFrom,
		UpdatingKey:         cloneBytes(rn.UpdatingKey),
		Created:             rn.Created,
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
