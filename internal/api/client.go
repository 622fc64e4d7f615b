package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client transport defaults.
const (
	DefaultClientTimeout   = 10 * time.Second
	defaultDialTimeout     = 5 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
	defaultMaxIdleConns    = 4
)

// ErrNotFound is returned when the server has no such database.
var ErrNotFound = errors.New("api: not found")

// Client queries the stats endpoint of a running benchmark.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the server listening on addr. addr may be
// a host:port pair or a full http URL. A zero timeout selects
// DefaultClientTimeout.
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}

	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultKeepAlive,
		}).DialContext,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConns,
		IdleConnTimeout:     defaultIdleConnTimeout,
	}

	return &Client{
		base: base,
		http: &http.Client{Transport: transport, Timeout: timeout},
	}
}

// Stats fetches the run statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Database fetches the state of database id.
func (c *Client) Database(ctx context.Context, id int) (*DatabaseStats, error) {
	var out DatabaseStats
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats/databases/"+strconv.Itoa(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetCompletions zeroes the server's completion counter.
func (c *Client) ResetCompletions(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/stats/completions", nil)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, body.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
