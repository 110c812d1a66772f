// Package namingrpc talks to the federation naming service over JSON-RPC 2.0
// on HTTP. Calls go through a circuit breaker so an outage fails fast instead
// of tying up every refresh worker.
package namingrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fedsearch/search-api/internal/ports/out/namingsvc"
)

// ErrUnavailable wraps every failure to get an answer from the service,
// including an open breaker.
var ErrUnavailable = errors.New("naming service unavailable")

type Options struct {
	HTTPClient *http.Client
	Logger     *zap.Logger

	// Consecutive failures before the breaker opens, and how long it stays
	// open before letting a probe through.
	MaxFailures uint32
	OpenTimeout time.Duration
}

type Client struct {
	url     string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
	nextID  atomic.Uint64
}

func New(url string, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	log := opts.Logger.Named("namingrpc")
	c := &Client{
		url:  url,
		http: opts.HTTPClient,
		log:  log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "naming-service",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type nameParams struct {
	Name       string `json:"name"`
	Generation int    `json:"generation"`
	At         *int64 `json:"at,omitempty"`
}

// registeredNameJSON is the wire shape of a registration. Times are unix
// milliseconds; keys are base64.
type registeredNameJSON struct {
	Name                string `json:"name"`
	Generation          int    `json:"generation"`
	NodeURI             string `json:"nodeUri"`
	SigningKey          []byte `json:"signingKey"`
	SigningKeyValidFrom int64  `json:"signingKeyValidFrom"`
	UpdatingKey         []byte `json:"updatingKey"`
	Created             int64  `json:"created"`
}

func (c *Client) GetCurrent(ctx context.Context, name string, generation int) (*namingsvc.RegisteredName, error) {
	return c.call(ctx, "getCurrent", nameParams{Name: name, Generation: generation})
}

func (c *Client) GetPast(ctx context.Context, name string, generation int, at time.Time) (*namingsvc.RegisteredName, error) {
	ms := at.UnixMilli()
	return c.call(ctx, "getPast", nameParams{Name: name, Generation: generation, At: &ms})
}

func (c *Client) call(ctx context.Context, method string, params nameParams) (*namingsvc.RegisteredName, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, method, params)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s_%d: %w", ErrUnavailable, method, params.Name, params.Generation, err)
	}
	rn, _ := out.(*namingsvc.RegisteredName)
	return rn, nil
}

func (c *Client) roundTrip(ctx context.Context, method string, params nameParams) (*namingsvc.RegisteredName, error) {
	id := c.nextID.Add(1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("naming rpc failed: status=%d", resp.StatusCode)
	}

	var r rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode naming rpc response: %w", err)
	}
	if r.Error != nil {
		return nil, r.Error
	}
	if r.ID != id {
		return nil, fmt.Errorf("naming rpc response id %d, want %d", r.ID, id)
	}
	if len(r.Result) == 0 || string(r.Result) == "null" {
		return nil, nil
	}

	var rn registeredNameJSON
	if err := json.Unmarshal(r.Result, &rn); err != nil {
		return nil, fmt.Errorf("decode registered name: %w", err)
	}
	return &namingsvc.RegisteredName{
		Name:        rn.Name,
		Generation:  rn.Generation,
		NodeURI:     rn.NodeURI,
		SigningKey:  rn.SigningKey,
		ValidFrom:   time.UnixMilli(rn.SigningKeyValidFrom).UTC(),
		UpdatingKey: rn.UpdatingKey,
		Created:     time.UnixMilli(rn.Created).UTC(),
	}, nil
}
