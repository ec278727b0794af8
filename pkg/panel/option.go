package panel

import (
	"net/http"
	"time"
)

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithTimeout(d time.Duration) Option   { return func(c *Client) { c.timeout = d } }
func WithPageSize(n int) Option            { return func(c *Client) { c.pageSize = n } }
func WithUserAgent(ua string) Option       { return func(c *Client) { c.userAgent = ua } }
func WithClientKey(key string) Option      { return func(c *Client) { c.clientKey = key } }
