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

// Package graph provides an authenticated JSON client for the Microsoft
// Graph API. An expired bearer token triggers exactly one silent refresh
// and retry per request; a second 401 propagates to the caller.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/facturier/invoicebot/internal/auth"
)

// DefaultBaseURL is the production Graph API endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// StatusError is returned for non-2xx Graph responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("graph API returned HTTP %d: %s", e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 from Graph.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from Graph.
func IsConflict(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusConflict
}

// Client is an authenticated Graph API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     auth.TokenProvider
}

// NewClient creates a Graph client using the given token provider.
func NewClient(tokens auth.TokenProvider, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		// Generous timeout: the same client serves metadata calls and
		// content uploads up to the attachment size ceiling.
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    baseURL,
		tokens:     tokens,
	}
}

// BaseURL returns the configured Graph endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// do performs an authenticated request. On a 401 the token is refreshed once
// and the request retried; any further failure is returned as-is.
func (c *Client) do(ctx context.Context, method, url, contentType string, body []byte) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, url, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			slog.Warn("token expired, refreshing")
			if token, err = c.tokens.Refresh(ctx); err != nil {
				return nil, fmt.Errorf("refresh token: %w", err)
			}
			continue
		}

		return resp, nil
	}
}

// GetJSON performs a GET and decodes a 200 response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, url, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}

// PostJSON performs a POST with a JSON payload and decodes a 2xx response
// into out (out may be nil to discard the body).
func (c *Client) PostJSON(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request payload: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, url, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response from %s: %w", url, err)
		}
	}
	return nil
}

// PutBytes performs a raw PUT (content upload) and decodes a 2xx response
// into out (out may be nil).
func (c *Client) PutBytes(ctx context.Context, url, contentType string, data []byte, out any) error {
	resp, err := c.do(ctx, http.MethodPut, url, contentType, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response from %s: %w", url, err)
		}
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}
