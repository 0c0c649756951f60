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

// Package drive stores routed documents in OneDrive through the Graph API,
// organized as ROOT/YYYY/MM/<supplier>/ with uncertain documents landing in
// ROOT/YYYY/MM/_a_verifier/.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/facturier/invoicebot/internal/graph"
)

// ReviewFolder is the month subfolder for documents needing a manual check.
const ReviewFolder = "_a_verifier"

const (
	// simpleUploadLimit is the Graph ceiling for single-PUT uploads.
	simpleUploadLimit = 4 << 20
	// chunkSize must be a multiple of 320 KiB per the upload session rules.
	chunkSize = 10 * 320 * 1024
)

type driveItem struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	WebURL string    `json:"webUrl"`
	Folder *struct{} `json:"folder"`
}

type uploadSession struct {
	UploadURL string `json:"uploadUrl"`
}

// Uploader writes documents into the OneDrive folder tree.
type Uploader struct {
	graph      *graph.Client
	httpClient *http.Client // upload session PUTs use pre-authorized URLs
	rootName   string
}

// NewUploader creates an uploader rooted at the named top-level folder.
func NewUploader(client *graph.Client, rootFolderName string) *Uploader {
	return &Uploader{
		graph:      client,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		rootName:   rootFolderName,
	}
}

// UploadInvoice stores a document under ROOT/YYYY/MM/<supplierLabel>/.
// Returns the file ID and web URL; an already-present file is returned
// without re-uploading.
func (u *Uploader) UploadInvoice(
	ctx context.Context,
	data []byte, contentType, filename string,
	year, month int, supplierLabel string,
) (string, string, error) {
	folderID, err := u.invoiceFolder(ctx, year, month, supplierLabel)
	if err != nil {
		return "", "", err
	}
	slog.Info("uploading invoice",
		"file", filename,
		"size", len(data),
		"destination", fmt.Sprintf("%s/%d/%02d/%s", u.rootName, year, month, supplierLabel),
	)
	return u.upload(ctx, folderID, filename, contentType, data)
}

// UploadReview stores a document under ROOT/YYYY/MM/_a_verifier/.
func (u *Uploader) UploadReview(
	ctx context.Context,
	data []byte, contentType, filename string,
	year, month int,
) (string, string, error) {
	monthID, err := u.invoiceFolder(ctx, year, month, "")
	if err != nil {
		return "", "", err
	}
	reviewID, err := u.ensureFolder(ctx, "/me/drive/items/"+monthID, ReviewFolder)
	if err != nil {
		return "", "", err
	}
	slog.Info("uploading to review",
		"file", filename,
		"size", len(data),
		"destination", fmt.Sprintf("%s/%d/%02d/%s", u.rootName, year, month, ReviewFolder),
	)
	return u.upload(ctx, reviewID, filename, contentType, data)
}

// MonthFolderURL returns the web URL of ROOT/YYYY/MM, creating the folders
// when absent. Used by the monthly report mail.
func (u *Uploader) MonthFolderURL(ctx context.Context, year, month int) (string, error) {
	folderID, err := u.invoiceFolder(ctx, year, month, "")
	if err != nil {
		return "", err
	}
	var item driveItem
	getURL := fmt.Sprintf("%s/me/drive/items/%s?$select=webUrl", u.graph.BaseURL(), folderID)
	if err := u.graph.GetJSON(ctx, getURL, &item); err != nil {
		return "", fmt.Errorf("fetch month folder: %w", err)
	}
	return item.WebURL, nil
}

// invoiceFolder ensures ROOT/YYYY/MM[/supplier] exists and returns the
// deepest folder ID. Empty supplierLabel stops at the month folder.
func (u *Uploader) invoiceFolder(ctx context.Context, year, month int, supplierLabel string) (string, error) {
	rootID, err := u.ensureFolder(ctx, "/me/drive/root", u.rootName)
	if err != nil {
		return "", err
	}
	yearID, err := u.ensureFolder(ctx, "/me/drive/items/"+rootID, fmt.Sprintf("%d", year))
	if err != nil {
		return "", err
	}
	monthID, err := u.ensureFolder(ctx, "/me/drive/items/"+yearID, fmt.Sprintf("%02d", month))
	if err != nil {
		return "", err
	}
	if supplierLabel == "" {
		return monthID, nil
	}
	return u.ensureFolder(ctx, "/me/drive/items/"+monthID, supplierLabel)
}

// ensureFolder resolves a child folder by path, creating it when missing.
// Path resolution avoids $filter, which personal OneDrive accounts do not
// support on /children. A 409 on create means another writer won the race;
// the folder is re-fetched.
func (u *Uploader) ensureFolder(ctx context.Context, parentPath, name string) (string, error) {
	getURL := fmt.Sprintf("%s%s:/%s?$select=id,name,folder",
		u.graph.BaseURL(), parentPath, url.PathEscape(name))

	var item driveItem
	err := u.graph.GetJSON(ctx, getURL, &item)
	switch {
	case err == nil && item.Folder != nil:
		return item.ID, nil
	case err != nil && !graph.IsNotFound(err):
		return "", fmt.Errorf("resolve folder %q: %w", name, err)
	}

	payload := map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "fail",
	}
	var created driveItem
	createURL := u.graph.BaseURL() + parentPath + "/children"
	if err := u.graph.PostJSON(ctx, createURL, payload, &created); err != nil {
		if graph.IsConflict(err) {
			var existing driveItem
			if err := u.graph.GetJSON(ctx, getURL, &existing); err != nil {
				return "", fmt.Errorf("refetch folder %q after conflict: %w", name, err)
			}
			return existing.ID, nil
		}
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}
	slog.Info("created drive folder", "name", name, "id", created.ID)
	return created.ID, nil
}

// upload writes a file into a folder, skipping files that already exist at
// the destination path. Re-running a poll cycle therefore never duplicates
// an upload.
func (u *Uploader) upload(ctx context.Context, folderID, filename, contentType string, data []byte) (string, string, error) {
	checkURL := fmt.Sprintf("%s/me/drive/items/%s:/%s?$select=id,webUrl",
		u.graph.BaseURL(), folderID, url.PathEscape(filename))

	var existing driveItem
	err := u.graph.GetJSON(ctx, checkURL, &existing)
	if err == nil {
		slog.Info("file already present, skipping upload", "file", filename)
		return existing.ID, existing.WebURL, nil
	}
	if !graph.IsNotFound(err) {
		return "", "", fmt.Errorf("check existing file %q: %w", filename, err)
	}

	var item driveItem
	if len(data) <= simpleUploadLimit {
		putURL := fmt.Sprintf("%s/me/drive/items/%s:/%s:/content",
			u.graph.BaseURL(), folderID, url.PathEscape(filename))
		if err := u.graph.PutBytes(ctx, putURL, contentType, data, &item); err != nil {
			return "", "", fmt.Errorf("upload %q: %w", filename, err)
		}
	} else {
		if err := u.uploadLarge(ctx, folderID, filename, data, &item); err != nil {
			return "", "", fmt.Errorf("upload %q: %w", filename, err)
		}
	}

	slog.Info("upload complete", "file", filename, "id", item.ID, "url", item.WebURL)
	return item.ID, item.WebURL, nil
}

// uploadLarge streams a file above the simple-upload ceiling through an
// upload session in fixed-size chunks.
func (u *Uploader) uploadLarge(ctx context.Context, folderID, filename string, data []byte, out *driveItem) error {
	sessionURL := fmt.Sprintf("%s/me/drive/items/%s:/%s:/createUploadSession",
		u.graph.BaseURL(), folderID, url.PathEscape(filename))
	payload := map[string]any{
		"item": map[string]any{"@microsoft.graph.conflictBehavior": "replace"},
	}

	var session uploadSession
	if err := u.graph.PostJSON(ctx, sessionURL, payload, &session); err != nil {
		return fmt.Errorf("create upload session: %w", err)
	}

	total := int64(len(data))
	for offset := int64(0); offset < total; offset += chunkSize {
		end := offset + chunkSize
		if end > total {
			end = total
		}
		chunk := data[offset:end]

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(chunk))
		if err != nil {
			return fmt.Errorf("build chunk request: %w", err)
		}
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end-1, total))
		req.ContentLength = int64(len(chunk))

		resp, err := u.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("upload chunk at %d: %w", offset, err)
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("read chunk response: %w", readErr)
		}

		switch resp.StatusCode {
		case http.StatusAccepted:
			// intermediate chunk acknowledged
		case http.StatusOK, http.StatusCreated:
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode final chunk response: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("chunk at %d: status %d", offset, resp.StatusCode)
		}
	}
	return fmt.Errorf("upload session ended without a final item")
}
