package httpapi

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	memclock "github.com/fedsearch/search-api/internal/adapters/memory/clock"
	memdigest "github.com/fedsearch/search-api/internal/adapters/memory/digestcache"
	memnaming "github.com/fedsearch/search-api/internal/adapters/memory/namingsvc"
	memremote "github.com/fedsearch/search-api/internal/adapters/memory/remotenode"
	"github.com/fedsearch/search-api/internal/app/verification"
	"github.com/fedsearch/search-api/internal/domain"
	"github.com/fedsearch/search-api/internal/platform/auth/carte"
	"github.com/fedsearch/search-api/internal/platform/fingerprint"
	"github.com/fedsearch/search-api/internal/platform/naming"
	"github.com/fedsearch/search-api/internal/ports/out/namingsvc"
)

type stubVerifier struct {
	digest domain.Digest
	err    error

	lastNode    domain.NodeName
	lastPosting domain.EntryID
	lastComment domain.EntryID
	lastRev     domain.RevisionID
	lastRef     domain.ReactionRef
}

func (s *stubVerifier) VerifyPosting(_ context.Context, node domain.NodeName, postingID domain.EntryID, rev domain.RevisionID) (domain.Digest, error) {
	s.lastNode, s.lastPosting, s.lastRev = node, postingID, rev
	return s.digest, s.err
}

func (s *stubVerifier) VerifyComment(_ context.Context, node domain.NodeName, postingID, commentID domain.EntryID, rev domain.RevisionID) (domain.Digest, error) {
	s.lastNode, s.lastPosting, s.lastComment, s.lastRev = node, postingID, commentID, rev
	return s.digest, s.err
}

func (s *stubVerifier) VerifyReaction(_ context.Context, node domain.NodeName, ref domain.ReactionRef) (domain.Digest, error) {
	s.lastNode, s.lastRef = node, ref
	return s.digest, s.err
}

func devRouter(v Verifier) http.Handler {
	return NewRouterWithOptions(NewServer(v), RouterOptions{AuthMiddleware: NewDevAuthMiddleware("")})
}

func doVerify(h http.Handler, target, owner string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, nil)
	if owner != "" {
		req.Header.Set("X-Debug-Owner", owner)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestVerifyEntry_RequiresCarte(t *testing.T) {
	rr := doVerify(devRouter(&stubVerifier{}), "/admin/verify/posting?node=alice_0&posting=p1", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got != `Bearer error="carte.required"` {
		t.Fatalf("unexpected WWW-Authenticate: %q", got)
	}
	if er := decodeError(t, rr); er.Error.Code != "carte.required" {
		t.Fatalf("unexpected code: %q", er.Error.Code)
	}
}

func TestVerifyEntry_RequiresVerifyScope(t *testing.T) {
	h := newAuthHarness(t, &stubVerifier{})
	tok := h.mint(t, func(c *carte.Carte) { c.AdminScope = domain.AdminScopeViewStats })

	req := httptest.NewRequest(http.MethodPost, "/admin/verify/posting?node=alice_0&posting=p1", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got != `Bearer error="carte.insufficient-scope"` {
		t.Fatalf("unexpected WWW-Authenticate: %q", got)
	}
	if er := decodeError(t, rr); er.Error.Code != "carte.insufficient-scope" {
		t.Fatalf("unexpected code: %q", er.Error.Code)
	}
}

func TestVerifyEntry_UnknownKind(t *testing.T) {
	rr := doVerify(devRouter(&stubVerifier{}), "/admin/verify/story?node=alice_0&posting=p1", "dev_0")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if er := decodeError(t, rr); er.Error.Code != "UNKNOWN_KIND" {
		t.Fatalf("unexpected code: %q", er.Error.Code)
	}
}

func TestVerifyEntry_BadParameters(t *testing.T) {
	h := devRouter(&stubVerifier{})
	cases := []string{
		"/admin/verify/posting?posting=p1",
		"/admin/verify/posting?node=alice_0",
		"/admin/verify/comment?node=alice_0&posting=p1",
		"/admin/verify/reaction?node=alice_0&posting=p1",
	}
	for _, target := range cases {
		rr := doVerify(h, target, "dev_0")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", target, rr.Code, rr.Body.String())
		}
		if er := decodeError(t, rr); er.Error.Code != "INVALID_PARAMETER" {
			t.Fatalf("%s: unexpected code: %q", target, er.Error.Code)
		}
	}
}

func TestVerifyEntry_Dispatch(t *testing.T) {
	var d domain.Digest
	d[0] = 0xab
	v := &stubVerifier{digest: d}
	h := devRouter(v)

	rr := doVerify(h, "/admin/verify/comment?node=alice_0&posting=p1&comment=c1&revision=r2", "dev_0")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if v.lastNode != "alice_0" || v.lastPosting != "p1" || v.lastComment != "c1" || v.lastRev != "r2" {
		t.Fatalf("unexpected call: %+v", v)
	}
	var body verifyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Kind != domain.EntryKindComment || body.Digest != d.Hex() {
		t.Fatalf("unexpected body: %+v", body)
	}

	rr = doVerify(h, "/admin/verify/reaction?node=alice_0&posting=p1&owner=bob_0", "dev_0")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	want := domain.ReactionRef{PostingID: "p1", OwnerName: "bob_0"}
	if v.lastRef != want {
		t.Fatalf("unexpected reaction ref: %+v", v.lastRef)
	}
}

func TestVerifyEntry_ErrorMapping(t *testing.T) {
	cases := []struct {
		err        error
		status     int
		code       string
		retryAfter bool
	}{
		{fmt.Errorf("posting p1: %w", verification.ErrEntryNotFound), http.StatusNotFound, "not-found", false},
		{verification.ErrSignatureMismatch, http.StatusUnprocessableEntity, "signature-mismatch", false},
		{verification.ErrReplyLoop, http.StatusUnprocessableEntity, "reply-loop", false},
		{verification.ErrDigestConflict, http.StatusUnprocessableEntity, "digest-conflict", false},
		{fmt.Errorf("fetch: %w", verification.ErrRemoteUnavailable), http.StatusServiceUnavailable, "remote-unavailable", true},
		{verification.ErrNamingUnavailable, http.StatusServiceUnavailable, "naming-unavailable", true},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL", false},
	}
	for _, tc := range cases {
		h := devRouter(&stubVerifier{err: tc.err})
		rr := doVerify(h, "/admin/verify/posting?node=alice_0&posting=p1", "dev_0")
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
		if er := decodeError(t, rr); er.Error.Code != tc.code {
			t.Fatalf("%v: expected code %q, got %q", tc.err, tc.code, er.Error.Code)
		}
		if got := rr.Header().Get("Retry-After") != ""; got != tc.retryAfter {
			t.Fatalf("%v: Retry-After present=%v", tc.err, got)
		}
	}
}

func TestVerifyEntry_EndToEnd(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	alice := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))

	reg := memnaming.NewRegistry()
	reg.Register(namingsvc.RegisteredName{
		Name:       "alice",
		NodeURI:    "https://alice.example",
		SigningKey: alice.Public().(ed25519.PublicKey),
		ValidFrom:  now.Add(-time.Hour),
	})
	names := naming.NewWithOptions(reg, naming.Options{Clock: memclock.NewManualClock(now)})
	t.Cleanup(names.Close)

	codec := fingerprint.NewCodec(nil)
	p := domain.PostingRevision{
		NodeName:          "alice_0",
		PostingID:         "p1",
		RevisionID:        "r1",
		OwnerName:         "alice_0",
		CreatedAt:         now,
		RevisionCreatedAt: now,
		Body:              []byte(`{"text":"hi"}`),
		BodyFormat:        "message",
		SignatureVersion:  fingerprint.PostingVersion,
	}
	fp, err := codec.Posting(p, p.SignatureVersion)
	if err != nil {
		t.Fatalf("Posting: %v", err)
	}
	enc, err := codec.Encode(fp)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	p.Signature = ed25519.Sign(alice, enc)
	want, err := codec.Digest(fp)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	network := memremote.NewNetwork()
	network.AddPosting(p)
	svc := verification.NewService(memdigest.NewStore(), network, names, verification.Options{Codec: codec})
	h := devRouter(svc)

	rr := doVerify(h, "/admin/verify/posting?node=alice_0&posting=p1", "dev_0")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body verifyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Digest != want.Hex() {
		t.Fatalf("digest mismatch: got %s want %s", body.Digest, want.Hex())
	}

	rr = doVerify(h, "/admin/verify/posting?node=alice_0&posting=missing", "dev_0")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
