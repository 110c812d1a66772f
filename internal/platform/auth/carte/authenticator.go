package carte

import (
	"context"
	"crypto/ed25519"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/fedsearch/search-api/internal/domain"
	platformclock "github.com/fedsearch/search-api/internal/platform/clock"
	"github.com/fedsearch/search-api/internal/platform/config"
	"github.com/fedsearch/search-api/internal/platform/fingerprint"
	"github.com/fedsearch/search-api/internal/platform/metrics"
	"github.com/fedsearch/search-api/internal/platform/naming"
)

// DefaultGrace is the clock skew tolerated at both ends of a validity window.
const DefaultGrace = 120 * time.Second

type Clock interface {
	Now() time.Time
}

// Resolver finds the current signing key of a carte issuer.
type Resolver interface {
	LookupBlocking(ctx context.Context, name string) (naming.Details, error)
}

type Options struct {
	Clock   Clock
	Codec   *fingerprint.Codec
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Result is the identity established for a request.
type Result struct {
	Anonymous   bool
	OwnerName   string
	ClientScope domain.ClientScope
	AdminScope  domain.AdminScope
	Deadline    time.Time
}

// Anonymous is the result for requests without a carte.
var Anonymous = Result{Anonymous: true}

func (r Result) HasClientScope(s domain.ClientScope) bool {
	return !r.Anonymous && r.ClientScope.Has(s)
}

func (r Result) HasAdminScope(s domain.AdminScope) bool {
	return !r.Anonymous && r.AdminScope.Has(s)
}

type Authenticator struct {
	cfg     config.CarteConfig
	names   Resolver
	clock   Clock
	codec   *fingerprint.Codec
	log     *zap.Logger
	metrics *metrics.Collector
}

func New(cfg config.CarteConfig, names Resolver) *Authenticator {
	return NewWithOptions(cfg, names, Options{})
}

// NewWithOptions builds an authenticator. A non-positive cfg.Grace selects
// DefaultGrace.
func NewWithOptions(cfg config.CarteConfig, names Resolver, opts Options) *Authenticator {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if opts.Clock == nil {
		opts.Clock = platformclock.NewSystemClock()
	}
	if opts.Codec == nil {
		opts.Codec = fingerprint.NewCodec(nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Authenticator{
		cfg:     cfg,
		names:   names,
		clock:   opts.Clock,
		codec:   opts.Codec,
		log:     opts.Logger.Named("carte"),
		metrics: opts.Metrics,
	}
}

// Authenticate checks token and returns the identity it grants. An empty or
// undecodable token yields Anonymous. Any other failure is an *Error; when
// the issuer's key could not be resolved because the naming service is
// unreachable, the *Error also wraps naming.ErrResolutionFailed.
//
// clientIP may be nil when the caller's address is unknown.
func (a *Authenticator) Authenticate(ctx context.Context, token string, clientIP net.IP) (Result, error) {
	res, err := a.authenticate(ctx, token, clientIP)
	switch {
	case err != nil:
		code := CodeOf(err)
		a.metrics.CarteOutcome(string(code))
		a.log.Debug("carte rejected", zap.String("code", string(code)), zap.Error(err))
	case res.Anonymous:
		a.metrics.CarteOutcome("anonymous")
	default:
		a.metrics.CarteOutcome("ok")
	}
	return res, err
}

func (a *Authenticator) authenticate(ctx context.Context, token string, clientIP net.IP) (Result, error) {
	blob, ok := decodeToken(token)
	if !ok {
		return Anonymous, nil
	}

	c, err := parse(a.codec, blob)
	if errors.Is(err, errBadAddress) {
		return Result{}, reject(CodeInvalid, "malformed bound address", err)
	}
	if err != nil {
		return Result{}, reject(CodeUnknownFingerprint, "cannot split payload and signature", err)
	}
	if c.payload.ObjectType() != fingerprint.TypeCarte {
		return Result{}, reject(CodeInvalid, "not a carte: "+string(c.payload.ObjectType()), nil)
	}

	if c.Address != nil && clientIP != nil && !c.Address.Equal(clientIP) {
		return Result{}, reject(CodeInvalid, "bound to a different address", nil)
	}

	now := a.clock.Now()
	grace := a.cfg.Grace
	if now.Before(c.Beginning.Add(-grace)) {
		return Result{}, reject(CodeNotBegun, "valid from "+c.Beginning.Format(time.RFC3339), nil)
	}
	if now.After(c.Deadline.Add(grace)) {
		return Result{}, reject(CodeExpired, "expired at "+c.Deadline.Format(time.RFC3339), nil)
	}

	if c.NodeName != "" && !sameNode(c.NodeName, a.cfg.NodeName) {
		return Result{}, reject(CodeWrongNode, "issued for "+c.NodeName, nil)
	}

	details, err := a.names.LookupBlocking(ctx, c.OwnerName)
	if err != nil {
		return Result{}, reject(CodeUnknownSigningKey, "issuer "+c.OwnerName, err)
	}
	if len(details.SigningKey) != ed25519.PublicKeySize {
		return Result{}, reject(CodeUnknownSigningKey, "issuer "+c.OwnerName+" has no usable signing key", nil)
	}

	// Verify over our own encoding of the payload so that non-canonical
	// encodings never validate.
	payload, err := a.codec.Encode(c.payload)
	if err != nil {
		return Result{}, reject(CodeInvalid, "re-encode payload", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(details.SigningKey), payload, c.Signature) {
		return Result{}, reject(CodeInvalidSignature, "", nil)
	}

	return Result{
		OwnerName:   c.OwnerName,
		ClientScope: c.ClientScope,
		AdminScope:  c.AdminScope,
		Deadline:    c.Deadline,
	}, nil
}

// IsTransient reports whether a rejection was caused by the naming service
// being unavailable rather than by the carte itself.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeUnknownSigningKey && errors.Is(err, naming.ErrResolutionFailed)
}

func sameNode(a, b string) bool {
	return naming.Parse(a) == naming.Parse(b)
}
