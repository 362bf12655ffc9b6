// Package remote is the typed request/response client used to talk to shard
// daemons, shard agents and shard proxies over HTTP+JSON.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
)

// Endpoint is where a request is sent and how it authenticates.
type Endpoint struct {
	// BaseURL ends with a slash; resources are appended to it.
	BaseURL string
	// Authorization is the full header value.
	Authorization string
	Kind          errors.RemoteKind
}

// Daemon is the workload daemon of a shard, authenticated with
// "Bearer <shard token>".
func Daemon(s cluster.Shard) Endpoint {
	return Endpoint{
		BaseURL:       s.DaemonURL(),
		Authorization: "Bearer " + s.Token,
		Kind:          errors.KindDaemon,
	}
}

// Agent is the shard agent (mounts, metrics) of a shard.
func Agent(s cluster.Shard) Endpoint {
	return Endpoint{
		BaseURL:       s.AgentURL(),
		Authorization: "Bearer " + s.Token,
		Kind:          errors.KindAgent,
	}
}

// Proxy is the API of a shard proxy, authenticated with the raw key.
func Proxy(p cluster.ShardProxy, port int) Endpoint {
	return Endpoint{
		BaseURL:       p.URL(port),
		Authorization: p.Key,
		Kind:          errors.KindProxy,
	}
}

// Request is an HTTP request bound to the endpoint it was built for.
type Request struct {
	*http.Request
	Kind errors.RemoteKind
}

// Client performs calls. It never retries.
type Client struct {
	httpClient *http.Client
}

// NewClient returns a client whose calls time out after timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// NewClientWith wraps an existing http.Client, e.g. one from httptest.
func NewClientWith(c *http.Client) *Client {
	return &Client{httpClient: c}
}

// Timeout returns the per call timeout.
func (c *Client) Timeout() time.Duration {
	return c.httpClient.Timeout
}

// NewRequest builds an authenticated JSON request. A nil body sends no
// payload.
func NewRequest(ctx context.Context, ep Endpoint, method, resource string, body any) (*Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(data)
	}

	url := ep.BaseURL + strings.TrimPrefix(resource, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "building request %s %s", method, url)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", ep.Authorization)

	return &Request{Request: req, Kind: ep.Kind}, nil
}

// Do sends the request and decodes a JSON response into out unless out is
// nil. A non-2xx answer yields *errors.RemoteError; a failure without any
// status is an ErrInternal coded error.
func (c *Client) Do(req *Request, out any) error {
	body, err := c.DoRaw(req)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.WrapCode(err, errors.ErrInternal, "decoding response of "+req.URL.String())
	}
	return nil
}

// DoRaw sends the request and returns the raw response body.
func (c *Client) DoRaw(req *Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req.Request)
	if err != nil {
		return nil, errors.WrapCode(err, errors.ErrInternal, "An internal error occured")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapCode(err, errors.ErrInternal, "reading response of "+req.URL.String())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.WithStack(&errors.RemoteError{
			Kind:       req.Kind,
			StatusCode: resp.StatusCode,
			URL:        req.URL.String(),
			Body:       string(body),
		})
	}
	return body, nil
}

// Call builds and sends a request in one step.
func (c *Client) Call(ctx context.Context, ep Endpoint, method, resource string, body, out any) error {
	req, err := NewRequest(ctx, ep, method, resource, body)
	if err != nil {
		return err
	}
	return c.Do(req, out)
}

// CallRaw is Call returning the raw response body.
func (c *Client) CallRaw(ctx context.Context, ep Endpoint, method, resource string, body any) ([]byte, error) {
	req, err := NewRequest(ctx, ep, method, resource, body)
	if err != nil {
		return nil, err
	}
	return c.DoRaw(req)
}
