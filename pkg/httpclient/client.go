// Zaparoo Core
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Core.
//
// Zaparoo Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Core.  If not, see <http://www.gnu.org/licenses/>.

// Package httpclient provides the shared HTTP client used by every remote
// collaborator in the instance engine (curseforge, modrinth, the download
// scheduler's redirect-following probes): a connection-pooled transport,
// a thin Client wrapping *http.Client, and Get/Post helpers building
// requests with context. A static-header transport injects one fixed set
// of headers (API keys, user agents) into every request, whatever its
// host.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultTimeoutSeconds is the default timeout for HTTP requests.
const DefaultTimeoutSeconds = 30

// DefaultTransport provides a configured transport with connection pooling
// and reasonable timeouts.
var DefaultTransport = &http.Transport{
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ResponseHeaderTimeout: 30 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
}

// headerTransport injects a fixed set of headers into every request (API
// keys, user agents).
type headerTransport struct {
	Base    http.RoundTripper
	Headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	cloned := req.Clone(req.Context())
	for k, v := range t.Headers {
		cloned.Header.Set(k, v)
	}
	resp, err := base.RoundTrip(cloned)
	if err != nil {
		return nil, fmt.Errorf("httpclient: round trip: %w", err)
	}
	return resp, nil
}

// Client wraps *http.Client with context-aware Get/Post helpers.
type Client struct {
	*http.Client
}

// NewClient creates a client with the pooled DefaultTransport and no fixed
// headers.
func NewClient() *Client {
	return &Client{Client: &http.Client{Transport: DefaultTransport}}
}

// NewClientWithTimeout creates a client with a custom timeout.
func NewClientWithTimeout(timeout time.Duration) *Client {
	return &Client{Client: &http.Client{Transport: DefaultTransport, Timeout: timeout}}
}

// NewClientWithHeaders creates a client that injects the given static
// headers (e.g. "x-api-key") into every outgoing request.
func NewClientWithHeaders(headers map[string]string) *Client {
	return &Client{Client: &http.Client{
		Transport: &headerTransport{Base: DefaultTransport, Headers: headers},
		Timeout:   DefaultTimeoutSeconds * time.Second,
	}}
}

// Get performs a GET request and returns the response.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("httpclient: creating request: %w", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: GET %s: %w", url, err)
	}
	return resp, nil
}

// Post performs a POST request with the given body and content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: POST %s: %w", url, err)
	}
	return resp, nil
}

// DefaultClient is a shared client instance for callers with no special
// header or timeout requirements.
var DefaultClient = NewClient()
