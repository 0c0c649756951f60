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

// Package models defines the data structures shared across the invoice
// ingestion pipeline.
package models

import "time"

// DocumentOrigin records how a candidate document entered the pipeline.
type DocumentOrigin string

const (
	OriginAttachment DocumentOrigin = "attachment"
	OriginArchive    DocumentOrigin = "archive"
	OriginLink       DocumentOrigin = "link"
)

// Document is one unit of classifiable content: a file attachment, an
// archive member, or the result of a link download.
type Document struct {
	Name      string
	MediaType string
	Data      []byte
	Origin    DocumentOrigin
}

// Message is one mailbox item with its candidate documents. It is built per
// scan and discarded after the pipeline consumes it; the durable trace is
// the store, not the Message.
type Message struct {
	ID           string
	Sender       string // lowercased address
	Subject      string
	ReceivedAt   time.Time // UTC
	SourceFolder string
	Documents    []Document
}

// Decision is the three-way routing outcome of classification.
type Decision string

const (
	DecisionInvoice  Decision = "invoice"
	DecisionRejected Decision = "rejected"
	DecisionReview   Decision = "review"
)

// Verdict is the structured output of document classification.
//
// Decision is DecisionInvoice only when the model asserted "is invoice" at or
// above the confidence threshold, DecisionRejected only when it asserted "not
// invoice" at or above the threshold, and DecisionReview for everything else
// (low confidence, malformed response, extraction failure, unsupported type).
type Verdict struct {
	Decision   Decision
	Confidence float64

	// Extracted fields. Empty string / nil pointer means absent.
	InvoiceDate  string // YYYY-MM-DD, validated
	Supplier     string
	AmountPretax *float64
	AmountTax    *float64
	AmountTotal  *float64
	Currency     string
}

// ReviewVerdict returns a verdict routing the document to manual review.
func ReviewVerdict() Verdict {
	return Verdict{Decision: DecisionReview, Confidence: 0}
}
