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

// Package scanner enumerates mail folders via the Graph API and produces
// messages carrying candidate invoice documents, built from file
// attachments and from download links found in message bodies.
package scanner

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/facturier/invoicebot/internal/graph"
	"github.com/facturier/invoicebot/internal/models"
)

// MaxAttachmentBytes is the hard size ceiling for a single attachment.
const MaxAttachmentBytes = 20 << 20 // 20 MiB

// primaryFolder is fully scanned; secondaryFolders are only trusted for
// allow-listed senders (Outlook occasionally mis-routes legitimate invoices
// to junk or archive).
const primaryFolder = "inbox"

var secondaryFolders = []string{"junkemail", "archive"}

// LinkResolver downloads a URL as a Document. Implemented by
// linkfetch.Resolver.
type LinkResolver interface {
	Fetch(ctx context.Context, rawURL string) (*models.Document, error)
}

// Options defines the filtering applied during a scan. All keyword slices
// are expected lowercased.
type Options struct {
	Since              time.Time // zero = no floor
	WhitelistedSenders []string
	SubjectKeywords    []string
	LinkKeywords       []string
	PageSize           int
}

// Scanner produces messages with candidate documents from a mailbox.
type Scanner struct {
	graph *graph.Client
	links LinkResolver
}

// New creates a mail scanner.
func New(client *graph.Client, links LinkResolver) *Scanner {
	return &Scanner{graph: client, links: links}
}

// messagesPage is a page of the /messages list response.
type messagesPage struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

type graphMessage struct {
	ID     string `json:"id"`
	Sender struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"sender"`
	Subject          string `json:"subject"`
	ReceivedDateTime string `json:"receivedDateTime"`
	HasAttachments   bool   `json:"hasAttachments"`
	Body             struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

// attachmentsPage is the attachment metadata list response.
type attachmentsPage struct {
	Value []attachmentStub `json:"value"`
}

type attachmentStub struct {
	ODataType   string `json:"@odata.type"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	IsInline    bool   `json:"isInline"`
}

// attachmentDetail is the full attachment object with content.
type attachmentDetail struct {
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// Scan enumerates the inbox (and, when a sender allow-list exists, the junk
// and archive folders) and returns every message that ends up with at least
// one candidate document. Messages are ordered newest first within each
// folder.
func (s *Scanner) Scan(ctx context.Context, opts Options) ([]models.Message, error) {
	whitelist := make(map[string]bool, len(opts.WhitelistedSenders))
	for _, sender := range opts.WhitelistedSenders {
		whitelist[sender] = true
	}

	messages, inboxPages, err := s.scanFolder(ctx, primaryFolder, whitelist, opts, false)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", primaryFolder, err)
	}

	totalPages := inboxPages

	// Secondary folders are only scanned when a trust anchor exists.
	if len(whitelist) > 0 {
		for _, folder := range secondaryFolders {
			folderMsgs, pages, err := s.scanFolder(ctx, folder, whitelist, opts, true)
			if err != nil {
				slog.Error("secondary folder scan failed", "folder", folder, "error", err)
				continue
			}
			messages = append(messages, folderMsgs...)
			totalPages += pages
		}
	}

	slog.Info("scan complete",
		"pages", totalPages,
		"messages_with_documents", len(messages),
	)
	return messages, nil
}

// scanFolder pages through one mail folder and returns qualifying messages.
func (s *Scanner) scanFolder(
	ctx context.Context,
	folder string,
	whitelist map[string]bool,
	opts Options,
	secondary bool,
) ([]models.Message, int, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 1000
	}

	params := url.Values{}
	params.Set("$select", "id,sender,subject,receivedDateTime,hasAttachments,body")
	if !opts.Since.IsZero() {
		params.Set("$filter", fmt.Sprintf("receivedDateTime gt %s", opts.Since.UTC().Format(time.RFC3339)))
	}
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$top", fmt.Sprintf("%d", pageSize))

	nextURL := fmt.Sprintf("%s/me/mailFolders/%s/messages?%s", s.graph.BaseURL(), folder, params.Encode())

	var messages []models.Message
	pageCount := 0

	for nextURL != "" {
		pageCount++
		slog.Debug("fetching folder page", "folder", folder, "page", pageCount)

		var page messagesPage
		if err := s.graph.GetJSON(ctx, nextURL, &page); err != nil {
			return messages, pageCount, fmt.Errorf("fetch page %d: %w", pageCount, err)
		}

		for _, raw := range page.Value {
			msg, err := s.buildMessage(ctx, folder, raw, whitelist, opts, secondary)
			if err != nil {
				// Per-message errors are never fatal to the scan.
				slog.Error("message processing failed",
					"folder", folder,
					"message_id", raw.ID,
					"error", err,
				)
				continue
			}
			if msg != nil {
				messages = append(messages, *msg)
			}
		}

		nextURL = page.NextLink
	}

	return messages, pageCount, nil
}

// buildMessage applies the acceptance policy and assembles candidate
// documents. Returns nil when the message is filtered out or ends up with
// no documents.
func (s *Scanner) buildMessage(
	ctx context.Context,
	folder string,
	raw graphMessage,
	whitelist map[string]bool,
	opts Options,
	secondary bool,
) (*models.Message, error) {
	sender := strings.ToLower(strings.TrimSpace(raw.Sender.EmailAddress.Address))
	whitelisted := whitelist[sender]

	// Acceptance policy, cheapest checks first:
	//   - allow-listed sender: always accepted, subject filter skipped
	//   - secondary folder: allow-listed senders only
	//   - subject keyword filter applies to non-empty subjects only
	if !whitelisted {
		if secondary {
			slog.Debug("skipping non-whitelisted sender in secondary folder",
				"folder", folder, "sender", sender)
			return nil, nil
		}
		if len(opts.SubjectKeywords) > 0 && strings.TrimSpace(raw.Subject) != "" {
			subject := strings.ToLower(raw.Subject)
			if !containsAny(subject, opts.SubjectKeywords) {
				slog.Debug("subject matched no keywords", "sender", sender, "subject", raw.Subject)
				return nil, nil
			}
		}
	}

	receivedAt, err := time.Parse(time.RFC3339, raw.ReceivedDateTime)
	if err != nil {
		return nil, fmt.Errorf("parse receivedDateTime %q: %w", raw.ReceivedDateTime, err)
	}

	msg := &models.Message{
		ID:           raw.ID,
		Sender:       sender,
		Subject:      raw.Subject,
		ReceivedAt:   receivedAt.UTC(),
		SourceFolder: folder,
	}

	if raw.HasAttachments {
		docs, err := s.fetchAttachments(ctx, raw.ID)
		if err != nil {
			return nil, err
		}
		msg.Documents = append(msg.Documents, docs...)
	}

	if len(opts.LinkKeywords) > 0 {
		for _, link := range ExtractLinks(raw.Body.ContentType, raw.Body.Content, opts.LinkKeywords) {
			doc, err := s.links.Fetch(ctx, link)
			if err != nil {
				slog.Warn("link download refused", "url", link, "error", err)
				continue
			}
			msg.Documents = append(msg.Documents, *doc)
		}
	}

	if len(msg.Documents) == 0 {
		slog.Debug("no supported documents, skipping message",
			"sender", sender, "subject", raw.Subject, "folder", folder)
		return nil, nil
	}

	slog.Info("message queued",
		"sender", sender,
		"subject", raw.Subject,
		"received", raw.ReceivedDateTime,
		"documents", len(msg.Documents),
		"folder", folder,
	)
	return msg, nil
}

// fetchAttachments lists attachment metadata and then fetches content bytes
// individually for each qualifying attachment. The listing endpoint cannot
// be trusted to carry content (Graph rejects $select=contentBytes there).
func (s *Scanner) fetchAttachments(ctx context.Context, messageID string) ([]models.Document, error) {
	listURL := fmt.Sprintf(
		"%s/me/messages/%s/attachments?$select=id,name,contentType,size,isInline",
		s.graph.BaseURL(), messageID,
	)

	var page attachmentsPage
	if err := s.graph.GetJSON(ctx, listURL, &page); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}

	var docs []models.Document
	for _, att := range page.Value {
		// Only binary file attachments; item and reference attachments
		// carry no usable content.
		if att.ODataType != "#microsoft.graph.fileAttachment" {
			continue
		}
		// Inline attachments are logos and banners embedded in the body.
		if att.IsInline {
			slog.Debug("skipping inline attachment", "name", att.Name)
			continue
		}
		if !models.IsSupportedMediaType(att.ContentType) {
			slog.Debug("skipping unsupported attachment",
				"name", att.Name, "media_type", att.ContentType)
			continue
		}
		if att.Size > MaxAttachmentBytes {
			slog.Warn("skipping oversized attachment",
				"name", att.Name, "size", att.Size)
			continue
		}

		detailURL := fmt.Sprintf("%s/me/messages/%s/attachments/%s",
			s.graph.BaseURL(), messageID, att.ID)
		var detail attachmentDetail
		if err := s.graph.GetJSON(ctx, detailURL, &detail); err != nil {
			slog.Warn("failed to fetch attachment content", "name", att.Name, "error", err)
			continue
		}

		data, err := base64.StdEncoding.DecodeString(detail.ContentBytes)
		if err != nil {
			slog.Warn("could not decode attachment", "name", att.Name, "error", err)
			continue
		}

		name := detail.Name
		if name == "" {
			name = att.Name
		}
		mediaType := detail.ContentType
		if mediaType == "" {
			mediaType = att.ContentType
		}

		slog.Info("attachment fetched",
			"name", name,
			"media_type", mediaType,
			"size", len(data),
		)
		docs = append(docs, models.Document{
			Name:      name,
			MediaType: models.NormalizeMediaType(mediaType),
			Data:      data,
			Origin:    models.OriginAttachment,
		})
	}

	return docs, nil
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
