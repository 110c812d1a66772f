package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"github.com/fedsearch/search-api/internal/app/verification"
	"github.com/fedsearch/search-api/internal/domain"
)

// Verifier is the verification service as seen by the HTTP layer.
type Verifier interface {
	VerifyPosting(ctx context.Context, node domain.NodeName, postingID domain.EntryID, revisionID domain.RevisionID) (domain.Digest, error)
	VerifyComment(ctx context.Context, node domain.NodeName, postingID, commentID domain.EntryID, revisionID domain.RevisionID) (domain.Digest, error)
	VerifyReaction(ctx context.Context, node domain.NodeName, ref domain.ReactionRef) (domain.Digest, error)
}

type verifyParams struct {
	Node     string
	Posting  string
	Comment  string
	Revision string
	Owner    string
}

type verifyFunc func(ctx context.Context, p verifyParams) (domain.Digest, error)

type Server struct {
	verifier Verifier
	handlers map[domain.EntryKind]verifyFunc
}

func NewServer(v Verifier) *Server {
	s := &Server{verifier: v}
	s.handlers = map[domain.EntryKind]verifyFunc{
		domain.EntryKindPosting:  s.verifyPosting,
		domain.EntryKindComment:  s.verifyComment,
		domain.EntryKindReaction: s.verifyReaction,
	}
	return s
}

type whoamiResponse struct {
	Anonymous   bool       `json:"anonymous"`
	OwnerName   string     `json:"ownerName,omitempty"`
	ClientScope uint64     `json:"clientScope"`
	AdminScope  uint64     `json:"adminScope"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// Whoami echoes the identity the request was authenticated as.
func (s *Server) Whoami(w http.ResponseWriter, r *http.Request) {
	res, ok := AuthFromContext(r.Context())
	if !ok || res.Anonymous {
		writeJSON(w, http.StatusOK, whoamiResponse{Anonymous: true})
		return
	}
	out := whoamiResponse{
		OwnerName:   res.OwnerName,
		ClientScope: uint64(res.ClientScope),
		AdminScope:  uint64(res.AdminScope),
	}
	if !res.Deadline.IsZero() {
		d := res.Deadline
		out.Deadline = &d
	}
	writeJSON(w, http.StatusOK, out)
}

type verifyResponse struct {
	Kind     domain.EntryKind `json:"kind"`
	Node     string           `json:"node"`
	Posting  string           `json:"posting"`
	Comment  string           `json:"comment,omitempty"`
	Revision string           `json:"revision,omitempty"`
	Owner    string           `json:"owner,omitempty"`
	Digest   string           `json:"digest"`
}

// VerifyEntry handles POST /admin/verify/{kind}.
func (s *Server) VerifyEntry(w http.ResponseWriter, r *http.Request) {
	res, ok := AuthFromContext(r.Context())
	if !ok || res.Anonymous {
		writeChallenge(w, r, codeCarteRequired, "a carte is required")
		return
	}
	if !res.HasAdminScope(domain.AdminScopeVerify) {
		writeChallenge(w, r, codeInsufficientScope, "carte lacks the verify admin scope")
		return
	}

	var kind string
	err := runtime.BindStyledParameterWithOptions("simple", "kind", chi.URLParam(r, "kind"), &kind,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), map[string]any{"parameter": "kind"})
		return
	}
	verify, ok := s.handlers[domain.EntryKind(kind)]
	if !ok {
		writeError(w, r, http.StatusNotFound, "UNKNOWN_KIND", "unknown entry kind", map[string]any{"kind": kind})
		return
	}

	p, err := bindVerifyParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), nil)
		return
	}

	d, err := verify(r.Context(), p)
	if err != nil {
		writeVerifyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		Kind:     domain.EntryKind(kind),
		Node:     p.Node,
		Posting:  p.Posting,
		Comment:  p.Comment,
		Revision: p.Revision,
		Owner:    p.Owner,
		Digest:   d.Hex(),
	})
}

func bindVerifyParams(r *http.Request) (verifyParams, error) {
	q := r.URL.Query()
	var p verifyParams
	bindings := []struct {
		name     string
		required bool
		dest     *string
	}{
		{"node", true, &p.Node},
		{"posting", true, &p.Posting},
		{"comment", false, &p.Comment},
		{"revision", false, &p.Revision},
		{"owner", false, &p.Owner},
	}
	for _, b := range bindings {
		if err := runtime.BindQueryParameter("form", true, b.required, b.name, q, b.dest); err != nil {
			return verifyParams{}, err
		}
	}
	return p, nil
}

var errMissingComment = errors.New("query argument comment is required for comments")
var errMissingOwner = errors.New("query argument owner is required for reactions")

func (s *Server) verifyPosting(ctx context.Context, p verifyParams) (domain.Digest, error) {
	return s.verifier.VerifyPosting(ctx, domain.NodeName(p.Node), domain.EntryID(p.Posting), domain.RevisionID(p.Revision))
}

func (s *Server) verifyComment(ctx context.Context, p verifyParams) (domain.Digest, error) {
	if p.Comment == "" {
		return domain.Digest{}, errMissingComment
	}
	return s.verifier.VerifyComment(ctx, domain.NodeName(p.Node), domain.EntryID(p.Posting), domain.EntryID(p.Comment), domain.RevisionID(p.Revision))
}

func (s *Server) verifyReaction(ctx context.Context, p verifyParams) (domain.Digest, error) {
	if p.Owner == "" {
		return domain.Digest{}, errMissingOwner
	}
	return s.verifier.VerifyReaction(ctx, domain.NodeName(p.Node), domain.ReactionRef{
		PostingID: domain.EntryID(p.Posting),
		CommentID: domain.EntryID(p.Comment),
		OwnerName: p.Owner,
	})
}

func writeVerifyError(w http.ResponseWriter, r *http.Request, err error) {
	outcome := verification.Outcome(err)
	switch {
	case errors.Is(err, errMissingComment), errors.Is(err, errMissingOwner):
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), nil)
	case errors.Is(err, verification.ErrEntryNotFound):
		writeError(w, r, http.StatusNotFound, outcome, err.Error(), nil)
	case verification.IsRetryable(err):
		w.Header().Set("Retry-After", "60")
		writeError(w, r, http.StatusServiceUnavailable, outcome, err.Error(), nil)
	case outcome == "error" || outcome == "cancelled":
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "verification failed", nil)
	default:
		writeError(w, r, http.StatusUnprocessableEntity, outcome, err.Error(), nil)
	}
}
