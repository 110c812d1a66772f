package verification

import "errors"

// Content rejections. These are final for the entry as served.
var (
	ErrEntryNotFound         = errors.New("entry not found on its node")
	ErrEntryUnsigned         = errors.New("entry carries no signature")
	ErrReplyLoop             = errors.New("reply chain loops back on itself")
	ErrReplyChainTooDeep     = errors.New("reply chain too deep")
	ErrSignatureMismatch     = errors.New("signature does not match content")
	ErrSigningKeyUnavailable = errors.New("owner had no signing key at signing time")
	ErrDigestConflict        = errors.New("revision content changed after it was verified")
)

// Transient failures. Retrying later may succeed.
var (
	ErrRemoteUnavailable = errors.New("origin node unavailable")
	ErrNamingUnavailable = errors.New("naming service unavailable")
)

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable) || errors.Is(err, ErrNamingUnavailable)
}
