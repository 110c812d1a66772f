package itest

import (
	"crypto/ed25519"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	badgerdigest "github.com/fedsearch/search-api/internal/adapters/badger/digestcache"
	"github.com/fedsearch/search-api/internal/adapters/httpapi"
	memclock "github.com/fedsearch/search-api/internal/adapters/memory/clock"
	memdigest "github.com/fedsearch/search-api/internal/adapters/memory/digestcache"
	memnaming "github.com/fedsearch/search-api/internal/adapters/memory/namingsvc"
	memremote "github.com/fedsearch/search-api/internal/adapters/memory/remotenode"
	pgdigest "github.com/fedsearch/search-api/internal/adapters/postgres/digestcache"
	postgres_testutil "github.com/fedsearch/search-api/internal/adapters/postgres/testutil"
	"github.com/fedsearch/search-api/internal/app/verification"
	"github.com/fedsearch/search-api/internal/domain"
	"github.com/fedsearch/search-api/internal/platform/fingerprint"
	"github.com/fedsearch/search-api/internal/platform/naming"
	digestport "github.com/fedsearch/search-api/internal/ports/out/digestcache"
	"github.com/fedsearch/search-api/internal/ports/out/namingsvc"
)

type backend string

const (
	backendMemory   backend = "memory"
	backendPostgres backend = "postgres"
	backendBadger   backend = "badger"
)

func backendsFromEnv(t *testing.T) []backend {
	t.Helper()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ITEST_BACKEND"))) {
	case "", "memory":
		return []backend{backendMemory}
	case "postgres":
		return []backend{backendPostgres}
	case "badger":
		return []backend{backendBadger}
	case "all":
		return []backend{backendMemory, backendPostgres, backendBadger}
	default:
		t.Fatalf("unknown ITEST_BACKEND value (expected memory|postgres|badger|all)")
		return nil
	}
}

var (
	itestNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	aliceKey = ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
)

type testServer struct {
	baseURL string
	client  *http.Client
	network *memremote.Network
	codec   *fingerprint.Codec
}

func newTestServer(t *testing.T, b backend) *testServer {
	t.Helper()

	var digests digestport.Store
	switch b {
	case backendPostgres:
		digests = pgdigest.NewStore(postgres_testutil.OpenMigratedPool(t))
	case backendBadger:
		s, err := badgerdigest.Open(t.TempDir())
		if err != nil {
			t.Fatalf("open badger: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		digests = s
	case backendMemory:
		digests = memdigest.NewStore()
	default:
		t.Fatalf("unknown backend: %s", b)
	}

	reg := memnaming.NewRegistry()
	reg.Register(namingsvc.RegisteredName{
		Name:       "alice",
		NodeURI:    "https://alice.example",
		SigningKey: aliceKey.Public().(ed25519.PublicKey),
		ValidFrom:  itestNow.Add(-24 * time.Hour),
	})
	names := naming.NewWithOptions(reg, naming.Options{Clock: memclock.NewManualClock(itestNow)})
	t.Cleanup(names.Close)

	codec := fingerprint.NewCodec(nil)
	network := memremote.NewNetwork()
	svc := verification.NewService(digests, network, names, verification.Options{Codec: codec})

	// Dev auth keeps the suite local; an empty default owner means requests
	// without X-Debug-Owner stay anonymous.
	handler := httpapi.NewRouterWithOptions(httpapi.NewServer(svc), httpapi.RouterOptions{
		AuthMiddleware: httpapi.NewDevAuthMiddleware(""),
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{
		baseURL: srv.URL,
		client:  srv.Client(),
		network: network,
		codec:   codec,
	}
}

// publish signs p with alice's key and serves it from the fake network.
// It returns the digest a successful verification reports.
func (s *testServer) publish(t *testing.T, p domain.PostingRevision) domain.Digest {
	t.Helper()
	fp, err := s.codec.Posting(p, p.SignatureVersion)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	enc, err := s.codec.Encode(fp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if p.Signature == nil {
		p.Signature = ed25519.Sign(aliceKey, enc)
	}
	d, err := s.codec.Digest(fp)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	s.network.AddPosting(p)
	return d
}

func (s *testServer) do(t *testing.T, method, path, owner string) (int, []byte, http.Header) {
	t.Helper()

	req, err := http.NewRequest(method, s.baseURL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if owner != "" {
		req.Header.Set("X-Debug-Owner", owner)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, resp.Header
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func mustUnmarshal[T any](t *testing.T, b []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, string(b))
	}
	return out
}

func requireErrorCode(t *testing.T, status int, body []byte, wantStatus int, wantCode string) {
	t.Helper()
	if status != wantStatus {
		t.Fatalf("status=%d want=%d body=%s", status, wantStatus, string(body))
	}
	got := mustUnmarshal[errorResponse](t, body)
	if got.Error.Code != wantCode {
		t.Fatalf("error.code=%q want=%q body=%s", got.Error.Code, wantCode, string(body))
	}
}

func requireHeaderPresent(t *testing.T, h http.Header, key string) {
	t.Helper()
	if strings.TrimSpace(h.Get(key)) == "" {
		t.Fatalf("expected header %q to be present", key)
	}
}
