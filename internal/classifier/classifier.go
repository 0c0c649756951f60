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

// Package classifier decides whether a document is an invoice, credit note
// or receipt, and extracts its date, supplier, amounts and currency, by
// sending document content to a language model.
//
// PDF and spreadsheet content goes as extracted text; images go through the
// vision path. Every failure mode (extraction failure, API error, malformed
// reply, low confidence, unsupported type) degrades to a review verdict so
// a document is never silently dropped.
package classifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/facturier/invoicebot/internal/models"
)

const systemPrompt = "Tu es un assistant comptable expert. " +
	"Ton rôle est de déterminer si un document est une facture, un avoir ou un reçu " +
	"(= document commercial émis par un fournisseur indiquant un montant dû ou payé), " +
	"d'extraire la date du document (date de facturation, pas la date d'échéance), " +
	"d'extraire le nom du fournisseur/émetteur (la société qui a émis la facture), " +
	"et d'extraire les montants HT, TVA et TTC ainsi que la devise. " +
	"Pour les avoirs, retourne les montants en négatif. " +
	"Réponds UNIQUEMENT en JSON valide, sans texte autour : " +
	`{"is_invoice": true/false, "confidence": 0.0-1.0, "reason": "...", ` +
	`"invoice_date": "YYYY-MM-DD or null", "supplier": "nom du fournisseur or null", ` +
	`"amount_ht": <number or null>, "amount_tva": <number or null>, ` +
	`"amount_ttc": <number or null>, "currency": "EUR or null"}`

const (
	textPrompt  = "Voici le contenu extrait d'un document. Est-ce une facture, un avoir ou un reçu ?\n\n%s"
	imagePrompt = "Voici une image d'un document. Est-ce une facture, un avoir ou un reçu ?"
	hintSuffix  = "\n\nLe document provient probablement du fournisseur : «%s». " +
		"Confirme ce nom ou corrige-le si le document mentionne explicitement un nom différent."
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Config carries the classifier settings.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Threshold float64

	// OwnerBusinessNames are the operator's own company names. They appear
	// on invoices as the buyer; a supplier extraction matching one of them
	// is discarded.
	OwnerBusinessNames []string
}

// Classifier classifies documents through the model API.
type Classifier struct {
	api        *apiClient
	model      string
	threshold  float64
	ownerNames []string
}

// New creates a classifier from config.
func New(cfg Config) *Classifier {
	names := make([]string, 0, len(cfg.OwnerBusinessNames))
	for _, n := range cfg.OwnerBusinessNames {
		names = append(names, strings.ToLower(strings.TrimSpace(n)))
	}
	return &Classifier{
		api:        newAPIClient(cfg.BaseURL, cfg.APIKey),
		model:      cfg.Model,
		threshold:  cfg.Threshold,
		ownerNames: names,
	}
}

// Classify returns a verdict for one document. supplierHint, when non-empty,
// is a canonical supplier name derived from the sender address that the
// model is asked to confirm or correct.
func (c *Classifier) Classify(ctx context.Context, doc models.Document, supplierHint string) models.Verdict {
	if c.api.apiKey == "" {
		slog.Warn("classifier API key not configured, routing to review", "name", doc.Name)
		return models.ReviewVerdict()
	}

	slog.Info("classifying document",
		"name", doc.Name,
		"media_type", doc.MediaType,
		"size", len(doc.Data),
		"threshold", c.threshold,
		"hint", supplierHint,
	)

	nameLower := strings.ToLower(doc.Name)
	var raw string
	var err error

	switch {
	case doc.MediaType == "application/pdf" || doc.MediaType == "application/x-pdf" ||
		strings.HasSuffix(nameLower, ".pdf"):
		raw, err = c.classifyText(ctx, extractPDFText(doc.Data), supplierHint)

	case doc.MediaType == "image/jpeg" || strings.HasSuffix(nameLower, ".jpg") ||
		strings.HasSuffix(nameLower, ".jpeg"):
		raw, err = c.classifyImage(ctx, doc.Data, "image/jpeg", supplierHint)

	case doc.MediaType == "image/png" || strings.HasSuffix(nameLower, ".png"):
		raw, err = c.classifyImage(ctx, doc.Data, "image/png", supplierHint)

	case doc.MediaType == "image/tiff" || strings.HasSuffix(nameLower, ".tiff"):
		raw, err = c.classifyImage(ctx, doc.Data, "image/tiff", supplierHint)

	case doc.MediaType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" ||
		doc.MediaType == "application/vnd.ms-excel" ||
		strings.HasSuffix(nameLower, ".xlsx") || strings.HasSuffix(nameLower, ".xls"):
		raw, err = c.classifyText(ctx, extractSpreadsheetText(doc.Data), supplierHint)

	default:
		slog.Info("unsupported type, routing to review", "name", doc.Name, "media_type", doc.MediaType)
		return models.ReviewVerdict()
	}

	if err != nil {
		slog.Warn("classification failed, routing to review", "name", doc.Name, "error", err)
		return models.ReviewVerdict()
	}
	if raw == "" {
		// No text could be extracted. Nothing to judge on.
		slog.Info("no content to classify, routing to review", "name", doc.Name)
		return models.ReviewVerdict()
	}

	verdict := c.parseReply(raw)

	slog.Info("classification result",
		"name", doc.Name,
		"decision", verdict.Decision,
		"confidence", verdict.Confidence,
		"invoice_date", verdict.InvoiceDate,
		"supplier", verdict.Supplier,
		"currency", verdict.Currency,
	)
	return verdict
}

// classifyText sends extracted text to the model. Empty text short-circuits
// with an empty reply so the caller routes to review without an API call.
func (c *Classifier) classifyText(ctx context.Context, text, supplierHint string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	prompt := fmt.Sprintf(textPrompt, text)
	if supplierHint != "" {
		prompt += fmt.Sprintf(hintSuffix, supplierHint)
	}
	return c.api.complete(ctx, messagesRequest{
		Model:     c.model,
		MaxTokens: 512,
		System:    systemPrompt,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	})
}

// classifyImage sends an image through the vision path.
func (c *Classifier) classifyImage(ctx context.Context, data []byte, mediaType, supplierHint string) (string, error) {
	prompt := imagePrompt
	if supplierHint != "" {
		prompt += fmt.Sprintf(hintSuffix, supplierHint)
	}
	return c.api.complete(ctx, messagesRequest{
		Model:     c.model,
		MaxTokens: 512,
		System:    systemPrompt,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentBlock{
				{
					Type: "image",
					Source: &imageSource{
						Type:      "base64",
						MediaType: mediaType,
						Data:      base64.StdEncoding.EncodeToString(data),
					},
				},
				{Type: "text", Text: prompt},
			},
		}},
	})
}

// modelReply mirrors the JSON object the model is instructed to return.
// Fields are `any` so one ill-typed field never poisons the rest.
type modelReply struct {
	IsInvoice   any `json:"is_invoice"`
	Confidence  any `json:"confidence"`
	Reason      any `json:"reason"`
	InvoiceDate any `json:"invoice_date"`
	Supplier    any `json:"supplier"`
	AmountHT    any `json:"amount_ht"`
	AmountTVA   any `json:"amount_tva"`
	AmountTTC   any `json:"amount_ttc"`
	Currency    any `json:"currency"`
}

// parseReply sanitizes the raw model output into a verdict, collapsing the
// boolean assertion and confidence against the threshold. A reply that does
// not parse at all yields a review verdict.
func (c *Classifier) parseReply(raw string) models.Verdict {
	reply, err := decodeReply(raw)
	if err != nil {
		slog.Warn("could not parse classifier reply", "raw", truncate(raw, 200), "error", err)
		return models.ReviewVerdict()
	}

	isInvoice := asBool(reply.IsInvoice, true)
	confidence := clamp01(asFloat(reply.Confidence, 0.5))

	verdict := models.Verdict{Confidence: confidence}
	switch {
	case isInvoice && confidence >= c.threshold:
		verdict.Decision = models.DecisionInvoice
	case !isInvoice && confidence >= c.threshold:
		verdict.Decision = models.DecisionRejected
	default:
		verdict.Decision = models.DecisionReview
	}

	if date := asString(reply.InvoiceDate); date != "" && strings.ToLower(date) != "null" {
		if datePattern.MatchString(date) {
			verdict.InvoiceDate = date
		} else {
			slog.Debug("ignoring malformed invoice date", "value", date)
		}
	}

	if supplier := asString(reply.Supplier); !isNullMarker(supplier) {
		supplier = truncate(supplier, 80)
		if c.isOwnerName(supplier) {
			slog.Debug("discarding owner business name as supplier", "value", supplier)
		} else {
			verdict.Supplier = supplier
		}
	}

	verdict.AmountPretax = asAmount(reply.AmountHT)
	verdict.AmountTax = asAmount(reply.AmountTVA)
	verdict.AmountTotal = asAmount(reply.AmountTTC)

	if cur := strings.ToUpper(asString(reply.Currency)); cur != "" && cur != "NULL" && cur != "NONE" {
		verdict.Currency = truncate(cur, 8)
	}

	return verdict
}

// decodeReply strips optional markdown fences before unmarshalling.
func decodeReply(raw string) (modelReply, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	var reply modelReply
	if err := json.Unmarshal([]byte(clean), &reply); err != nil {
		return modelReply{}, err
	}
	return reply, nil
}

func (c *Classifier) isOwnerName(supplier string) bool {
	lowered := strings.ToLower(supplier)
	for _, owned := range c.ownerNames {
		if owned != "" && strings.Contains(lowered, owned) {
			return true
		}
	}
	return false
}

func isNullMarker(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none", "n/a":
		return true
	}
	return false
}

func asBool(v any, fallback bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return fallback
}

func asFloat(v any, fallback float64) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f
		}
	}
	return fallback
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// asAmount accepts any finite number, negative included (credit notes).
func asAmount(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
