package carte

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memclock "github.com/fedsearch/search-api/internal/adapters/memory/clock"
	memnaming "github.com/fedsearch/search-api/internal/adapters/memory/namingsvc"
	"github.com/fedsearch/search-api/internal/domain"
	"github.com/fedsearch/search-api/internal/platform/config"
	"github.com/fedsearch/search-api/internal/platform/fingerprint"
	"github.com/fedsearch/search-api/internal/platform/naming"
	"github.com/fedsearch/search-api/internal/ports/out/namingsvc"
)

var now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	auth  *Authenticator
	clock *memclock.ManualClock
	reg   *memnaming.Registry
	priv  ed25519.PrivateKey
	codec *fingerprint.Codec
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	priv := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))

	reg := memnaming.NewRegistry()
	reg.Register(namingsvc.RegisteredName{
		Name:       "alice",
		NodeURI:    "https://alice.example",
		SigningKey: priv.Public().(ed25519.PublicKey),
		ValidFrom:  now.Add(-24 * time.Hour),
	})
	clk := memclock.NewManualClock(now)
	names := naming.NewWithOptions(reg, naming.Options{Clock: clk})
	t.Cleanup(names.Close)

	codec := fingerprint.NewCodec(nil)
	auth := NewWithOptions(
		config.CarteConfig{NodeName: "search_0", Grace: DefaultGrace},
		names,
		Options{Clock: clk, Codec: codec},
	)
	return &harness{auth: auth, clock: clk, reg: reg, priv: priv, codec: codec}
}

func (h *harness) baseCarte() Carte {
	return Carte{
		Beginning:   now.Add(-time.Hour),
		Deadline:    now.Add(time.Hour),
		NodeName:    "search_0",
		OwnerName:   "alice_0",
		ClientScope: domain.ClientScopeViewContent | domain.ClientScopeSearch,
		AdminScope:  domain.AdminScopeVerify,
	}
}

func (h *harness) mint(t *testing.T, c Carte) string {
	t.Helper()
	tok, err := Mint(h.codec, h.priv, c)
	require.NoError(t, err)
	return tok
}

func (h *harness) authenticate(token string, ip net.IP) (Result, error) {
	return h.auth.Authenticate(context.Background(), token, ip)
}

func TestAuthenticate_Valid(t *testing.T) {
	h := newHarness(t)

	res, err := h.authenticate(h.mint(t, h.baseCarte()), nil)
	require.NoError(t, err)
	assert.False(t, res.Anonymous)
	assert.Equal(t, "alice_0", res.OwnerName)
	assert.True(t, res.HasClientScope(domain.ClientScopeSearch))
	assert.False(t, res.HasClientScope(domain.ClientScopeReact))
	assert.True(t, res.HasAdminScope(domain.AdminScopeVerify))
}

func TestAuthenticate_NoTokenIsAnonymous(t *testing.T) {
	h := newHarness(t)

	for _, tok := range []string{"", "   ", "!!not base64!!", "===="} {
		res, err := h.authenticate(tok, nil)
		require.NoError(t, err, tok)
		assert.True(t, res.Anonymous, tok)
		assert.False(t, res.HasClientScope(domain.ClientScopeViewContent))
	}
}

func TestAuthenticate_PaddingTolerated(t *testing.T) {
	h := newHarness(t)
	tok := h.mint(t, h.baseCarte())
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)

	res, err := h.authenticate(base64.URLEncoding.EncodeToString(raw), nil)
	require.NoError(t, err)
	assert.Equal(t, "alice_0", res.OwnerName)
}

func TestAuthenticate_GraceBoundaries(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name     string
		begin    time.Time
		deadline time.Time
		want     Code
	}{
		{"begins in 121s", now.Add(121 * time.Second), now.Add(time.Hour), CodeNotBegun},
		{"begins in 119s", now.Add(119 * time.Second), now.Add(time.Hour), ""},
		{"expired 121s ago", now.Add(-time.Hour), now.Add(-121 * time.Second), CodeExpired},
		{"expired 119s ago", now.Add(-time.Hour), now.Add(-119 * time.Second), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := h.baseCarte()
			c.Beginning = tc.begin
			c.Deadline = tc.deadline

			_, err := h.authenticate(h.mint(t, c), nil)
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.Equal(t, tc.want, CodeOf(err))
		})
	}
}

func TestNew_ZeroGraceUsesDefault(t *testing.T) {
	h := newHarness(t)
	auth := New(config.CarteConfig{NodeName: "search_0"}, h.auth.names)
	auth.clock = h.clock

	c := h.baseCarte()
	c.Beginning = now.Add(119 * time.Second)
	_, err := auth.Authenticate(context.Background(), h.mint(t, c), nil)
	require.NoError(t, err)

	c.Beginning = now.Add(121 * time.Second)
	_, err = auth.Authenticate(context.Background(), h.mint(t, c), nil)
	require.Equal(t, CodeNotBegun, CodeOf(err))
}

func TestAuthenticate_WrongKeyIsInvalidSignature(t *testing.T) {
	h := newHarness(t)
	other := ed25519.NewKeyFromSeed(append(make([]byte, ed25519.SeedSize-1), 1))

	tok, err := Mint(h.codec, other, h.baseCarte())
	require.NoError(t, err)

	_, err = h.authenticate(tok, nil)
	require.Equal(t, CodeInvalidSignature, CodeOf(err))
}

func TestAuthenticate_TamperedPayload(t *testing.T) {
	h := newHarness(t)
	c := h.baseCarte()
	tok := h.mint(t, c)

	// Re-sign nothing; swap in a payload granting more scope.
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)
	sig := raw[len(raw)-ed25519.SignatureSize:]

	fp, _, err := h.codec.DecodeFirst(raw)
	require.NoError(t, err)
	p := fp.(*fingerprint.CarteV1)
	p.AdminScope = uint64(domain.AdminScopeAll)
	payload, err := h.codec.Encode(p)
	require.NoError(t, err)

	forged := base64.RawURLEncoding.EncodeToString(append(payload, sig...))
	_, err = h.authenticate(forged, nil)
	require.Equal(t, CodeInvalidSignature, CodeOf(err))
}

func TestAuthenticate_WrongNode(t *testing.T) {
	h := newHarness(t)

	c := h.baseCarte()
	c.NodeName = "elsewhere_0"
	_, err := h.authenticate(h.mint(t, c), nil)
	require.Equal(t, CodeWrongNode, CodeOf(err))

	c.NodeName = "search"
	_, err = h.authenticate(h.mint(t, c), nil)
	require.NoError(t, err, "bare name is generation 0")

	c.NodeName = ""
	_, err = h.authenticate(h.mint(t, c), nil)
	require.NoError(t, err, "untargeted carte is valid on any node")
}

func TestAuthenticate_AddressBinding(t *testing.T) {
	h := newHarness(t)
	c := h.baseCarte()
	c.Address = net.ParseIP("192.0.2.10")
	tok := h.mint(t, c)

	_, err := h.authenticate(tok, net.ParseIP("192.0.2.10"))
	require.NoError(t, err)

	_, err = h.authenticate(tok, net.ParseIP("198.51.100.1"))
	require.Equal(t, CodeInvalid, CodeOf(err))

	_, err = h.authenticate(tok, nil)
	require.NoError(t, err, "unknown client address skips the check")
}

func TestAuthenticate_MalformedAddressIsInvalid(t *testing.T) {
	h := newHarness(t)
	payload, err := h.codec.Encode(&fingerprint.CarteV1{
		Type:       fingerprint.TypeCarte,
		Version:    1,
		Address:    []byte{192, 0, 2, 10, 7},
		Beginning:  now.Add(-time.Hour).Unix(),
		Deadline:   now.Add(time.Hour).Unix(),
		NodeName:   "search_0",
		OwnerName:  "alice_0",
		AdminScope: uint64(domain.AdminScopeVerify),
		Salt:       []byte{1, 2, 3, 4, 5, 6, 7, 8},
	})
	require.NoError(t, err)
	tok := base64.RawURLEncoding.EncodeToString(append(payload, ed25519.Sign(h.priv, payload)...))

	_, err = h.authenticate(tok, net.ParseIP("198.51.100.1"))
	require.Equal(t, CodeInvalid, CodeOf(err))

	_, err = h.authenticate(tok, nil)
	require.Equal(t, CodeInvalid, CodeOf(err), "a malformed binding is never treated as unbound")
}

func TestAuthenticate_UnknownIssuer(t *testing.T) {
	h := newHarness(t)
	c := h.baseCarte()
	c.OwnerName = "mallory_0"

	_, err := h.authenticate(h.mint(t, c), nil)
	require.Equal(t, CodeUnknownSigningKey, CodeOf(err))
	assert.False(t, IsTransient(err))
	assert.ErrorIs(t, err, naming.ErrNameNotFound)
}

func TestAuthenticate_NamingOutageIsTransient(t *testing.T) {
	h := newHarness(t)
	h.reg.FailWith(errors.New("naming down"))

	_, err := h.authenticate(h.mint(t, h.baseCarte()), nil)
	require.Equal(t, CodeUnknownSigningKey, CodeOf(err))
	assert.True(t, IsTransient(err))
}

func TestAuthenticate_UnknownVersion(t *testing.T) {
	h := newHarness(t)
	payload, err := cbor.Marshal([]any{"CARTE", 9, []byte{}, now.Unix(), now.Unix(), "", "alice_0", 0, 0})
	require.NoError(t, err)
	tok := base64.RawURLEncoding.EncodeToString(append(payload, make([]byte, ed25519.SignatureSize)...))

	_, err = h.authenticate(tok, nil)
	require.Equal(t, CodeUnknownFingerprint, CodeOf(err))
	assert.ErrorIs(t, err, fingerprint.ErrUnknownVersion)
}

func TestAuthenticate_ShortSignature(t *testing.T) {
	h := newHarness(t)
	raw, err := base64.RawURLEncoding.DecodeString(h.mint(t, h.baseCarte()))
	require.NoError(t, err)

	_, err = h.authenticate(base64.RawURLEncoding.EncodeToString(raw[:len(raw)-1]), nil)
	require.Equal(t, CodeUnknownFingerprint, CodeOf(err))
}

func TestAuthenticate_NotACarte(t *testing.T) {
	h := newHarness(t)
	fp, err := h.codec.Attachment([]byte{1, 2, 3}, fingerprint.AttachmentVersion)
	require.NoError(t, err)
	payload, err := h.codec.Encode(fp)
	require.NoError(t, err)
	tok := base64.RawURLEncoding.EncodeToString(append(payload, ed25519.Sign(h.priv, payload)...))

	_, err = h.authenticate(tok, nil)
	require.Equal(t, CodeInvalid, CodeOf(err))
}

func TestAuthenticate_LegacyV0(t *testing.T) {
	h := newHarness(t)
	fp := &fingerprint.CarteV0{
		Type:        fingerprint.TypeCarte,
		Version:     0,
		Beginning:   now.Add(-time.Minute).Unix(),
		Deadline:    now.Add(time.Minute).Unix(),
		OwnerName:   "alice_0",
		ClientScope: uint64(domain.ClientScopeViewContent),
	}
	payload, err := h.codec.Encode(fp)
	require.NoError(t, err)
	tok := base64.RawURLEncoding.EncodeToString(append(payload, ed25519.Sign(h.priv, payload)...))

	res, err := h.authenticate(tok, nil)
	require.NoError(t, err)
	assert.True(t, res.HasClientScope(domain.ClientScopeViewContent))
}

func TestMint_SaltMakesTokensDistinct(t *testing.T) {
	h := newHarness(t)
	a := h.mint(t, h.baseCarte())
	b := h.mint(t, h.baseCarte())
	assert.NotEqual(t, a, b)
}
