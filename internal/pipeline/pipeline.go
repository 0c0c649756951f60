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

// Package pipeline runs documents from scanned messages through
// classification, routing and persistence.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/facturier/invoicebot/internal/archive"
	"github.com/facturier/invoicebot/internal/drive"
	"github.com/facturier/invoicebot/internal/models"
	"github.com/facturier/invoicebot/internal/store"
)

// Classifier produces a verdict for one document.
type Classifier interface {
	Classify(ctx context.Context, doc models.Document, supplierHint string) models.Verdict
}

// Uploader stores routed documents. Implemented by drive.Uploader.
type Uploader interface {
	UploadInvoice(ctx context.Context, data []byte, contentType, filename string, year, month int, supplierLabel string) (string, string, error)
	UploadReview(ctx context.Context, data []byte, contentType, filename string, year, month int) (string, string, error)
}

// Store is the slice of the durable layer the pipeline needs.
type Store interface {
	IsProcessed(emailID string) (bool, error)
	MarkProcessed(emailID, sender, subject string, receivedAt time.Time) error
	SaveInvoice(inv *store.Invoice) error
}

// Stats summarizes one pipeline run.
type Stats struct {
	Messages int
	Skipped  int
	Invoices int
	Reviews  int
	Rejected int
	Failures int
}

// Pipeline classifies and routes the documents of scanned messages.
type Pipeline struct {
	classifier Classifier
	uploader   Uploader
	store      Store

	// senderSuppliers maps lowercased sender addresses to canonical
	// supplier names, used as classification hints for internal forwards.
	senderSuppliers map[string]string
}

// New assembles a pipeline.
func New(classifier Classifier, uploader Uploader, st Store, senderSuppliers map[string]string) *Pipeline {
	return &Pipeline{
		classifier:      classifier,
		uploader:        uploader,
		store:           st,
		senderSuppliers: senderSuppliers,
	}
}

// Run processes each message exactly once. A message already recorded as
// processed is skipped outright; otherwise every document is attempted, and
// the message is marked processed only after all attempts, so a crash
// mid-message leads to a retry rather than silent loss.
func (p *Pipeline) Run(ctx context.Context, messages []models.Message) Stats {
	var stats Stats
	for _, msg := range messages {
		if ctx.Err() != nil {
			slog.Warn("pipeline interrupted", "remaining", len(messages)-stats.Messages-stats.Skipped)
			return stats
		}

		processed, err := p.store.IsProcessed(msg.ID)
		if err != nil {
			slog.Error("dedup lookup failed, skipping message without marking",
				"message_id", msg.ID, "error", err)
			stats.Failures++
			continue
		}
		if processed {
			slog.Debug("message already processed", "message_id", msg.ID, "sender", msg.Sender)
			stats.Skipped++
			continue
		}

		stats.Messages++
		for _, doc := range msg.Documents {
			decision, err := p.ProcessDocument(ctx, msg, doc)
			if err != nil {
				slog.Error("document processing failed",
					"message_id", msg.ID,
					"name", doc.Name,
					"error", err,
				)
				stats.Failures++
				continue
			}
			switch decision {
			case models.DecisionInvoice:
				stats.Invoices++
			case models.DecisionReview:
				stats.Reviews++
			case models.DecisionRejected:
				stats.Rejected++
			}
		}

		if err := p.store.MarkProcessed(msg.ID, msg.Sender, msg.Subject, msg.ReceivedAt); err != nil {
			slog.Error("could not mark message processed", "message_id", msg.ID, "error", err)
			stats.Failures++
		}
	}

	slog.Info("pipeline run complete",
		"messages", stats.Messages,
		"skipped", stats.Skipped,
		"invoices", stats.Invoices,
		"reviews", stats.Reviews,
		"rejected", stats.Rejected,
		"failures", stats.Failures,
	)
	return stats
}

// ProcessDocument classifies one document and routes it to its drive
// destination. Archives are expanded and each member processed on its own;
// the archive itself is never uploaded. An archive reports DecisionInvoice
// when at least one member was an invoice.
func (p *Pipeline) ProcessDocument(ctx context.Context, msg models.Message, doc models.Document) (models.Decision, error) {
	if models.IsArchive(doc.MediaType, doc.Name) {
		members := archive.Expand(doc)
		if len(members) == 0 {
			slog.Info("archive has no supported members, skipping", "name", doc.Name)
			return models.DecisionRejected, nil
		}
		slog.Info("expanding archive", "name", doc.Name, "members", len(members))
		anyInvoice := false
		for _, member := range members {
			decision, err := p.ProcessDocument(ctx, msg, member)
			if err != nil {
				slog.Error("archive member failed", "archive", doc.Name, "member", member.Name, "error", err)
				continue
			}
			if decision == models.DecisionInvoice {
				anyInvoice = true
			}
		}
		if anyInvoice {
			return models.DecisionInvoice, nil
		}
		return models.DecisionRejected, nil
	}

	slog.Info("processing document",
		"name", doc.Name,
		"media_type", doc.MediaType,
		"size", len(doc.Data),
		"sender", msg.Sender,
		"origin", doc.Origin,
	)

	verdict := p.classifier.Classify(ctx, doc, p.senderSuppliers[msg.Sender])

	// The destination period follows the invoice date when it parses,
	// falling back to the received time.
	year, month := msg.ReceivedAt.Year(), int(msg.ReceivedAt.Month())
	invoiceDate := verdict.InvoiceDate
	if invoiceDate != "" {
		if dt, err := time.Parse("2006-01-02", invoiceDate); err == nil {
			year, month = dt.Year(), int(dt.Month())
		} else {
			slog.Warn("unparseable invoice date, using received date",
				"value", invoiceDate, "name", doc.Name)
			invoiceDate = ""
		}
	}

	filename := drive.BuildFilename(msg.ReceivedAt, msg.Sender, doc.Name, invoiceDate, verdict.Supplier)

	if verdict.Decision != models.DecisionInvoice {
		slog.Info("routing to review",
			"name", doc.Name,
			"decision", verdict.Decision,
			"year", year,
			"month", month,
		)
		if _, _, err := p.uploader.UploadReview(ctx, doc.Data, doc.MediaType, filename, year, month); err != nil {
			return verdict.Decision, err
		}
		return verdict.Decision, nil
	}

	slog.Info("invoice confirmed",
		"name", doc.Name,
		"supplier", verdict.Supplier,
		"invoice_date", invoiceDate,
		"year", year,
		"month", month,
	)
	supplierLabel := drive.CompanyLabel(verdict.Supplier, msg.Sender)
	fileID, webURL, err := p.uploader.UploadInvoice(ctx, doc.Data, doc.MediaType, filename, year, month, supplierLabel)
	if err != nil {
		return verdict.Decision, err
	}

	inv := &store.Invoice{
		EmailID:      msg.ID,
		Filename:     filename,
		DriveFileID:  fileID,
		DriveWebLink: webURL,
		Sender:       msg.Sender,
		ReceivedAt:   msg.ReceivedAt,
		Year:         year,
		Month:        month,
		InvoiceDate:  invoiceDate,
		Supplier:     verdict.Supplier,
		AmountPretax: verdict.AmountPretax,
		AmountTax:    verdict.AmountTax,
		AmountTotal:  verdict.AmountTotal,
		Currency:     verdict.Currency,
	}
	if err := p.store.SaveInvoice(inv); err != nil {
		return verdict.Decision, err
	}
	return verdict.Decision, nil
}
