package digestcache

import "errors"

// ErrConflict indicates a different digest is already stored for the key.
var ErrConflict = errors.New("digest already stored with a different value")
