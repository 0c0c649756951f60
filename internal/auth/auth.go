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

// Package auth acquires and refreshes Microsoft Graph bearer tokens using
// the OAuth2 device authorization flow (delegated, personal account).
//
// The first run is interactive: the user code is printed to stdout and the
// resulting token is cached as JSON under the data directory. Subsequent
// runs refresh silently via the cached refresh token.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const cacheFileName = "ms_token.json"

// scopes required by the bot: read mail, create report drafts, upload files.
var scopes = []string{"Mail.Read", "Mail.ReadWrite", "Files.ReadWrite", "offline_access"}

// TokenProvider supplies bearer tokens for outbound Graph calls.
// Refresh forces a new token after the previous one was rejected (401).
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Authenticator is a file-cached, device-code-flow TokenProvider.
type Authenticator struct {
	cfg       *oauth2.Config
	cachePath string

	mu      sync.Mutex
	current *oauth2.Token
}

// NewAuthenticator creates an authenticator for the given application client
// ID, caching tokens under dataDir.
func NewAuthenticator(clientID, dataDir string) *Authenticator {
	return &Authenticator{
		cfg: &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: "https://login.microsoftonline.com/consumers/oauth2/v2.0/devicecode",
				TokenURL:      "https://login.microsoftonline.com/consumers/oauth2/v2.0/token",
			},
			Scopes: scopes,
		},
		cachePath: filepath.Join(dataDir, cacheFileName),
	}
}

// Token returns a valid access token, refreshing or running the device flow
// as needed.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tokenLocked(ctx)
}

// Refresh discards the current access token and obtains a fresh one using
// the cached refresh token. Called after a 401 from Graph.
func (a *Authenticator) Refresh(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		if err := a.loadCache(); err != nil {
			return "", fmt.Errorf("refresh without cached token: %w", err)
		}
	}
	// Expire the access token so the token source is forced to renew it.
	a.current.Expiry = time.Now().Add(-time.Minute)
	return a.tokenLocked(ctx)
}

func (a *Authenticator) tokenLocked(ctx context.Context) (string, error) {
	if a.current == nil {
		if err := a.loadCache(); err != nil {
			slog.Info("no cached token, starting device code flow")
			tok, err := a.deviceFlow(ctx)
			if err != nil {
				return "", err
			}
			a.current = tok
			if err := a.saveCache(); err != nil {
				return "", err
			}
			return tok.AccessToken, nil
		}
	}

	if a.current.Valid() {
		return a.current.AccessToken, nil
	}

	tok, err := a.cfg.TokenSource(ctx, a.current).Token()
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	a.current = tok
	if err := a.saveCache(); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// deviceFlow runs the interactive device authorization flow.
func (a *Authenticator) deviceFlow(ctx context.Context) (*oauth2.Token, error) {
	resp, err := a.cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initiate device flow: %w", err)
	}

	fmt.Println()
	fmt.Println("============================================================")
	fmt.Println("ACTION REQUIRED - Microsoft Account Login")
	fmt.Println("============================================================")
	fmt.Printf("Visit %s and enter the code %s\n", resp.VerificationURI, resp.UserCode)
	fmt.Println("============================================================")
	fmt.Println()

	tok, err := a.cfg.DeviceAccessToken(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("device flow authentication: %w", err)
	}

	slog.Info("authentication successful, token cached", "path", a.cachePath)
	return tok, nil
}

func (a *Authenticator) loadCache() error {
	data, err := os.ReadFile(a.cachePath)
	if err != nil {
		return err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return fmt.Errorf("parse token cache %s: %w", a.cachePath, err)
	}
	a.current = &tok
	return nil
}

func (a *Authenticator) saveCache() error {
	data, err := json.Marshal(a.current)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(a.cachePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	// Owner-only: the file holds a long-lived refresh token.
	if err := os.WriteFile(a.cachePath, data, 0o600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	return nil
}
