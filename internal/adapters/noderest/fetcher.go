// Package noderest fetches entries from origin nodes over their REST API. The
// node's address comes from the naming cache.
package noderest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fedsearch/search-api/internal/domain"
	"github.com/fedsearch/search-api/internal/platform/naming"
	"github.com/fedsearch/search-api/internal/ports/out/remotenode"
)

// Resolver finds a node's current address.
type Resolver interface {
	LookupBlocking(ctx context.Context, name string) (naming.Details, error)
}

// maxBody caps the size of a single entry response.
const maxBody = 4 << 20

type Fetcher struct {
	names Resolver
	http  *http.Client
	log   *zap.Logger
}

func New(names Resolver, httpClient *http.Client, logger *zap.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{names: names, http: httpClient, log: logger.Named("noderest")}
}

func (f *Fetcher) GetPostingRevision(ctx context.Context, node domain.NodeName, postingID domain.EntryID, revisionID domain.RevisionID) (domain.PostingRevision, error) {
	segs := []string{"postings", string(postingID)}
	if revisionID != "" {
		segs = append(segs, "revisions", string(revisionID))
	}
	var out postingRevisionJSON
	if err := f.get(ctx, node, segs, &out); err != nil {
		return domain.PostingRevision{}, err
	}
	if out.ID == "" {
		out.ID = string(postingID)
	}
	return out.toDomain(node), nil
}

func (f *Fetcher) GetCommentRevision(ctx context.Context, node domain.NodeName, postingID, commentID domain.EntryID, revisionID domain.RevisionID) (domain.CommentRevision, error) {
	segs := []string{"postings", string(postingID), "comments", string(commentID)}
	if revisionID != "" {
		segs = append(segs, "revisions", string(revisionID))
	}
	var out commentRevisionJSON
	if err := f.get(ctx, node, segs, &out); err != nil {
		return domain.CommentRevision{}, err
	}
	if out.ID == "" {
		out.ID = string(commentID)
	}
	if out.PostingID == "" {
		out.PostingID = string(postingID)
	}
	return out.toDomain(node), nil
}

func (f *Fetcher) GetReaction(ctx context.Context, node domain.NodeName, ref domain.ReactionRef) (domain.Reaction, error) {
	segs := []string{"postings", string(ref.PostingID)}
	if ref.CommentID != "" {
		segs = append(segs, "comments", string(ref.CommentID))
	}
	segs = append(segs, "reactions", ref.OwnerName)

	var out reactionJSON
	if err := f.get(ctx, node, segs, &out); err != nil {
		return domain.Reaction{}, err
	}
	if out.PostingID == "" {
		out.PostingID = string(ref.PostingID)
	}
	if out.CommentID == "" {
		out.CommentID = string(ref.CommentID)
	}
	return out.toDomain(node), nil
}

func (f *Fetcher) get(ctx context.Context, node domain.NodeName, segs []string, out any) error {
	details, err := f.names.LookupBlocking(ctx, string(node))
	if err != nil {
		if errors.Is(err, naming.ErrNameNotFound) {
			return fmt.Errorf("%w: node %s is not registered", remotenode.ErrNotFound, node)
		}
		return fmt.Errorf("%w: resolve %s: %w", remotenode.ErrUnreachable, node, err)
	}
	if details.NodeURI == "" {
		return fmt.Errorf("%w: node %s has no address", remotenode.ErrUnreachable, node)
	}

	escaped := make([]string, len(segs))
	for i, s := range segs {
		escaped[i] = url.PathEscape(s)
	}
	target := strings.TrimRight(details.NodeURI, "/") + "/" + strings.Join(escaped, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", remotenode.ErrUnreachable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %w", remotenode.ErrUnreachable, target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: GET %s", remotenode.ErrNotFound, target)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		f.log.Debug("node request failed",
			zap.String("node", string(node)),
			zap.String("url", target),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%w: GET %s: status=%d", remotenode.ErrUnreachable, target, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", remotenode.ErrUnreachable, target, err)
	}
	return nil
}
