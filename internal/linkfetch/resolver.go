// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package linkfetch downloads candidate documents from URLs found in email
// bodies. Hosts resolving to loopback, link-local, or private-range
// addresses are refused before any request is made, so attacker-controlled
// links cannot be used to reach internal or metadata endpoints.
package linkfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/facturier/invoicebot/internal/models"
)

// MaxDownloadBytes is the hard ceiling on a single link download.
const MaxDownloadBytes = 20 << 20 // 20 MiB

const userAgent = "Mozilla/5.0 (invoice-bot)"

// lookupFunc resolves a hostname to IP addresses. Injectable for tests.
type lookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

// Resolver fetches documents from URLs with SSRF protection.
type Resolver struct {
	httpClient *http.Client
	lookup     lookupFunc
	maxBytes   int64
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithLookup overrides DNS resolution (used by tests).
func WithLookup(fn lookupFunc) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// WithHTTPClient overrides the HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

// NewResolver creates a link resolver with a bounded timeout and redirect
// following.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		lookup: func(ctx context.Context, host string) ([]net.IPAddr, error) {
			return net.DefaultResolver.LookupIPAddr(ctx, host)
		},
		maxBytes: MaxDownloadBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch downloads a URL and returns it as a Document, or an error describing
// why the link was refused. Callers log and skip; a refused link is never
// fatal to the scan.
func (r *Resolver) Fetch(ctx context.Context, rawURL string) (*models.Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}

	if err := r.checkHost(ctx, u.Hostname()); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: HTTP %d", rawURL, resp.StatusCode)
	}

	if resp.ContentLength > r.maxBytes {
		return nil, fmt.Errorf("download %s: declared size %d exceeds limit", rawURL, resp.ContentLength)
	}

	mediaType := models.NormalizeMediaType(resp.Header.Get("Content-Type"))
	if !models.IsSupportedMediaType(mediaType) {
		return nil, fmt.Errorf("download %s: unsupported content-type %q", rawURL, mediaType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body from %s: %w", rawURL, err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("download %s: body exceeds %d bytes", rawURL, r.maxBytes)
	}

	name := filenameFromResponse(resp, mediaType)
	slog.Info("downloaded document from link",
		"url", rawURL,
		"name", name,
		"media_type", mediaType,
		"size", len(data),
	)

	return &models.Document{
		Name:      name,
		MediaType: mediaType,
		Data:      data,
		Origin:    models.OriginLink,
	}, nil
}

// checkHost refuses hosts whose resolved addresses include anything
// non-public. Resolution failure is also a refusal.
func (r *Resolver) checkHost(ctx context.Context, host string) error {
	addrs, err := r.lookup(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolve %s: no addresses", host)
	}
	for _, addr := range addrs {
		ip := addr.IP
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("host %s resolves to non-public address %s", host, ip)
		}
	}
	return nil
}

// filenameFromResponse derives a filename for a downloaded file.
//
// Priority:
//  1. Content-Disposition filename parameter (RFC 5987 extended form included)
//  2. Last path segment of the final (post-redirect) URL, if it has an extension
//  3. Generic name with an extension guessed from the media type
func filenameFromResponse(resp *http.Response, mediaType string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := strings.TrimSpace(params["filename"]); name != "" {
				return name
			}
		}
	}

	if resp.Request != nil && resp.Request.URL != nil {
		segment := path.Base(resp.Request.URL.Path)
		if segment != "/" && segment != "." && strings.Contains(segment, ".") {
			return segment
		}
	}

	return "invoice" + models.ExtensionForMediaType(mediaType)
}
