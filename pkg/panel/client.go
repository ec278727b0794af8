package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

var (
	ErrControlPlane = errors.New("control plane request failed")
	// ErrNoClientKey is returned by Kill when no client-scoped credential is configured.
	ErrNoClientKey = errors.New("client api key not configured")
)

const (
	DefaultTimeout  = 5 * time.Second
	defaultPageSize = 100
	maxPages        = 1000
	maxErrorBody    = 4 << 10
)

// StatusError is a non-2xx answer from the panel.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrControlPlane }

// Client talks to the panel's application (admin key) and client (client key) APIs.
type Client struct {
	baseURL   string
	adminKey  string
	clientKey string
	http      *http.Client
	timeout   time.Duration
	pageSize  int
	userAgent string
}

func NewClient(baseURL, adminKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   NormalizeURL(baseURL),
		adminKey:  adminKey,
		http:      &http.Client{},
		timeout:   DefaultTimeout,
		pageSize:  defaultPageSize,
		userAgent: "terminus-warden",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeURL adds a scheme when missing and strips trailing slashes.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	return strings.TrimRight(raw, "/")
}

func (c *Client) HasClientKey() bool { return c.clientKey != "" }

// ListServers fetches every server, following pagination.
func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	var servers []Server

	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(c.pageSize))

		var list serverList
		if err := c.do(ctx, http.MethodGet, "/api/application/servers?"+q.Encode(), c.adminKey, nil, &list); err != nil {
			return nil, err
		}
		for _, obj := range list.Data {
			servers = append(servers, obj.Attributes)
		}

		p := list.Meta.Pagination
		if p.TotalPages <= page || len(list.Data) == 0 {
			break
		}
	}

	klog.V(2).InfoS("Fetched servers list", "count", len(servers))
	return servers, nil
}

// Kill sends the kill power signal through the client API.
func (c *Client) Kill(ctx context.Context, identifier string) error {
	if c.clientKey == "" {
		return ErrNoClientKey
	}
	path := fmt.Sprintf("/api/client/servers/%s/power", url.PathEscape(identifier))
	return c.do(ctx, http.MethodPost, path, c.clientKey, powerRequest{Signal: "kill"}, nil)
}

// Suspend suspends the server through the application API. Suspending an
// already suspended server is accepted by the panel and is not an error here.
func (c *Client) Suspend(ctx context.Context, internalID int64) error {
	path := fmt.Sprintf("/api/application/servers/%d/suspend", internalID)
	return c.do(ctx, http.MethodPost, path, c.adminKey, suspendRequest{Suspended: true}, nil)
}

func (c *Client) do(ctx context.Context, method, path, key string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build %s %s: %v", ErrControlPlane, method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrControlPlane, method, path, err)
	}
	defer resp.Body.Close()

	klog.V(4).InfoS("Panel request", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: method + " " + path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", ErrControlPlane, method, path, err)
	}
	return nil
}
