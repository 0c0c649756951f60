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

// Package report builds the monthly invoice summary: a spreadsheet uploaded
// next to the invoices and an HTML recap saved as an Outlook draft addressed
// to the accountant. The draft is never sent automatically.
package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/facturier/invoicebot/internal/graph"
	"github.com/facturier/invoicebot/internal/store"
)

const spreadsheetMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Uploader is the slice of drive.Uploader the reporter needs.
type Uploader interface {
	UploadInvoice(ctx context.Context, data []byte, contentType, filename string, year, month int, supplierLabel string) (string, string, error)
	MonthFolderURL(ctx context.Context, year, month int) (string, error)
}

// Store is the slice of the durable layer the reporter needs.
type Store interface {
	ReportSent(year, month int) (bool, error)
	MarkReportSent(year, month int) error
	UnreportedInvoices(year, month int) ([]store.Invoice, error)
	MarkReported(ids []uint) error
}

// Config carries reporter settings.
type Config struct {
	AccountantEmail string
	HomeCurrency    string
}

// Reporter produces monthly report drafts.
type Reporter struct {
	graph        *graph.Client
	uploader     Uploader
	store        Store
	accountant   string
	homeCurrency string
}

// NewReporter assembles a reporter.
func NewReporter(client *graph.Client, uploader Uploader, st Store, cfg Config) *Reporter {
	return &Reporter{
		graph:        client,
		uploader:     uploader,
		store:        st,
		accountant:   cfg.AccountantEmail,
		homeCurrency: cfg.HomeCurrency,
	}
}

// Run covers the month before now. A period is reported at most once; a
// month with zero invoices is marked reported without creating a draft so
// the job stays quiet on re-runs.
func (r *Reporter) Run(ctx context.Context, now time.Time) error {
	year, month := previousMonth(now.UTC())
	slog.Info("monthly report triggered", "year", year, "month", month)

	sent, err := r.store.ReportSent(year, month)
	if err != nil {
		return err
	}
	if sent {
		slog.Info("report already created, skipping", "year", year, "month", month)
		return nil
	}

	invoices, err := r.store.UnreportedInvoices(year, month)
	if err != nil {
		return err
	}
	if len(invoices) == 0 {
		slog.Info("no invoices for period, no draft created", "year", year, "month", month)
		return r.store.MarkReportSent(year, month)
	}

	folderLink, err := r.uploader.MonthFolderURL(ctx, year, month)
	if err != nil {
		slog.Warn("could not resolve month folder link", "error", err)
		folderLink = ""
	}

	// The spreadsheet is best effort: a summary failure never blocks the
	// recap mail.
	var excelBytes []byte
	excelName := fmt.Sprintf("%d-%02d_summary.xlsx", year, month)
	if built, err := BuildWorkbook(invoices, year, month, r.homeCurrency); err != nil {
		slog.Warn("could not build monthly workbook", "error", err)
	} else {
		excelBytes = built
		if _, link, err := r.uploader.UploadInvoice(ctx, excelBytes, spreadsheetMediaType, excelName, year, month, ""); err != nil {
			slog.Warn("could not upload monthly workbook", "error", err)
		} else {
			slog.Info("monthly workbook uploaded", "link", link)
		}
	}

	draftID, err := r.createDraft(ctx, invoices, year, month, folderLink, excelName, excelBytes)
	if err != nil {
		return fmt.Errorf("create report draft: %w", err)
	}

	ids := make([]uint, 0, len(invoices))
	for _, inv := range invoices {
		ids = append(ids, inv.ID)
	}
	if err := r.store.MarkReported(ids); err != nil {
		return err
	}
	if err := r.store.MarkReportSent(year, month); err != nil {
		return err
	}

	slog.Info("monthly report draft created", "draft_id", draftID, "year", year, "month", month, "invoices", len(invoices))
	return nil
}

func previousMonth(now time.Time) (int, int) {
	if now.Month() == time.January {
		return now.Year() - 1, 12
	}
	return now.Year(), int(now.Month()) - 1
}

type mailBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type emailAddress struct {
	Address string `json:"address"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type fileAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

type draftMessage struct {
	Subject      string           `json:"subject"`
	Body         mailBody         `json:"body"`
	ToRecipients []recipient      `json:"toRecipients"`
	Attachments  []fileAttachment `json:"attachments,omitempty"`
}

// createDraft saves the recap as an Outlook draft and returns its id.
func (r *Reporter) createDraft(
	ctx context.Context,
	invoices []store.Invoice,
	year, month int,
	folderLink, excelName string,
	excelBytes []byte,
) (string, error) {
	subject := fmt.Sprintf("Factures - %s", MonthLabel(year, month))

	msg := draftMessage{
		Subject: subject,
		Body: mailBody{
			ContentType: "HTML",
			Content:     r.buildHTMLBody(invoices, year, month, folderLink),
		},
		ToRecipients: []recipient{{EmailAddress: emailAddress{Address: r.accountant}}},
	}
	if len(excelBytes) > 0 {
		msg.Attachments = []fileAttachment{{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         excelName,
			ContentType:  spreadsheetMediaType,
			ContentBytes: base64.StdEncoding.EncodeToString(excelBytes),
		}}
	}

	slog.Info("creating report draft",
		"to", r.accountant,
		"subject", subject,
		"attachments", len(msg.Attachments),
	)

	var created struct {
		ID string `json:"id"`
	}
	if err := r.graph.PostJSON(ctx, r.graph.BaseURL()+"/me/messages", msg, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// fmtAmountHTML renders an amount with its currency for the mail body,
// using a narrow no-break space as thousands separator.
func (r *Reporter) fmtAmountHTML(value *float64, currency string) string {
	if value == nil {
		return "—"
	}
	if currency == "" {
		currency = r.homeCurrency
	}
	return strings.ReplaceAll(fmtAmount(value), " ", " ") + " " + currency
}

func (r *Reporter) buildHTMLBody(invoices []store.Invoice, year, month int, folderLink string) string {
	monthLabel := MonthLabel(year, month)

	var rows strings.Builder
	for _, inv := range invoices {
		link := "—"
		if inv.DriveWebLink != "" {
			link = fmt.Sprintf(`<a href="%s">Voir</a>`, inv.DriveWebLink)
		}
		currency := inv.Currency
		fmt.Fprintf(&rows, `
        <tr>
            <td style="padding:6px 12px;border-bottom:1px solid #eee;">%s</td>
            <td style="padding:6px 12px;border-bottom:1px solid #eee;">%s</td>
            <td style="padding:6px 12px;border-bottom:1px solid #eee;">%s</td>
            <td style="padding:6px 12px;border-bottom:1px solid #eee;text-align:right;">%s</td>
            <td style="padding:6px 12px;border-bottom:1px solid #eee;text-align:right;">%s</td>
            <td style="padding:6px 12px;border-bottom:1px solid #eee;text-align:center;">%s</td>
        </tr>`,
			html.EscapeString(displayDate(inv)),
			html.EscapeString(displaySupplier(inv)),
			html.EscapeString(inv.Filename),
			r.fmtAmountHTML(inv.AmountPretax, currency),
			r.fmtAmountHTML(inv.AmountTotal, currency),
			link,
		)
	}

	folderNote := ""
	if folderLink != "" {
		folderNote = fmt.Sprintf(`
  <p style="margin-top:30px;">
    Dossier OneDrive du mois :
    <a href="%s">%s</a>
  </p>`, folderLink, html.EscapeString(folderLink))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family:Arial,sans-serif;color:#333;max-width:860px;margin:auto;">
  <h2 style="color:#2c5f8a;">Factures - %s</h2>
  <p>Bonjour,</p>
  <p>Veuillez trouver ci-dessous le récapitulatif des factures reçues en %s (%d facture(s)).</p>

  <table style="border-collapse:collapse;width:100%%;margin:20px 0;">
    <thead>
      <tr style="background:#2c5f8a;color:white;">
        <th style="padding:8px 12px;text-align:left;">Date</th>
        <th style="padding:8px 12px;text-align:left;">Fournisseur</th>
        <th style="padding:8px 12px;text-align:left;">Fichier</th>
        <th style="padding:8px 12px;text-align:right;">HT</th>
        <th style="padding:8px 12px;text-align:right;">TTC</th>
        <th style="padding:8px 12px;text-align:center;">Drive</th>
      </tr>
    </thead>
    <tbody>%s
    </tbody>
  </table>

%s
%s

  <hr style="border:none;border-top:1px solid #eee;margin-top:40px;">
  <p style="font-size:12px;color:#999;">
    Cet email a été généré automatiquement par le bot de gestion des factures.
  </p>
</body>
</html>`,
		html.EscapeString(monthLabel),
		html.EscapeString(monthLabel),
		len(invoices),
		rows.String(),
		r.buildSupplierSummary(invoices),
		folderNote,
	)
}

// buildSupplierSummary renders the per-supplier totals table with a grand
// total row.
func (r *Reporter) buildSupplierSummary(invoices []store.Invoice) string {
	totals := make(map[string]*supplierTotal)
	currencies := make(map[string]string)
	order := []string{}
	for _, inv := range invoices {
		name := displaySupplier(inv)
		st := totals[name]
		if st == nil {
			st = &supplierTotal{}
			totals[name] = st
			order = append(order, name)
		}
		st.count++
		if inv.Currency != "" {
			currencies[name] = inv.Currency
		}
		if inv.AmountPretax != nil {
			st.ht += *inv.AmountPretax
			st.hasAmounts = true
		}
		if inv.AmountTax != nil {
			st.tva += *inv.AmountTax
			st.hasAmounts = true
		}
		if inv.AmountTotal != nil {
			st.ttc += *inv.AmountTotal
			st.hasAmounts = true
		}
	}

	var rows strings.Builder
	var grandHT, grandTVA, grandTTC float64
	hasAny := false
	for _, name := range order {
		st := totals[name]
		ht, tva, ttc := "—", "—", "—"
		if st.hasAmounts {
			cur := currencies[name]
			ht = r.fmtAmountHTML(&st.ht, cur)
			tva = r.fmtAmountHTML(&st.tva, cur)
			ttc = r.fmtAmountHTML(&st.ttc, cur)
			hasAny = true
		}
		fmt.Fprintf(&rows, `
        <tr>
          <td style="padding:6px 12px;border-bottom:1px solid #eee;text-align:left;">%s</td>
          <td style="padding:6px 12px;border-bottom:1px solid #eee;text-align:center;">%d</td>
          <td style="padding:6px 12px;border-bottom:1px solid #eee;text-align:right;">%s</td>
          <td style="padding:6px 12px;border-bottom:1px solid #eee;text-align:right;">%s</td>
          <td style="padding:6px 12px;border-bottom:1px solid #eee;text-align:right;">%s</td>
        </tr>`,
			html.EscapeString(name), st.count, ht, tva, ttc)
		grandHT += st.ht
		grandTVA += st.tva
		grandTTC += st.ttc
	}

	gHT, gTVA, gTTC := "—", "—", "—"
	if hasAny {
		gHT = r.fmtAmountHTML(&grandHT, "")
		gTVA = r.fmtAmountHTML(&grandTVA, "")
		gTTC = r.fmtAmountHTML(&grandTTC, "")
	}

	return fmt.Sprintf(`
  <h3 style="color:#2c5f8a;margin-top:30px;">Récapitulatif par fournisseur</h3>
  <table style="border-collapse:collapse;width:100%%;margin:10px 0;">
    <thead>
      <tr style="background:#2c5f8a;color:white;">
        <th style="padding:8px 12px;text-align:left;">Fournisseur</th>
        <th style="padding:8px 12px;text-align:center;">Nb</th>
        <th style="padding:8px 12px;text-align:right;">Total HT</th>
        <th style="padding:8px 12px;text-align:right;">Total TVA</th>
        <th style="padding:8px 12px;text-align:right;">Total TTC</th>
      </tr>
    </thead>
    <tbody>%s
        <tr style="background:#2c5f8a;color:white;font-weight:bold;">
          <td style="padding:8px 12px;">TOTAL</td>
          <td style="padding:8px 12px;text-align:center;">%d</td>
          <td style="padding:8px 12px;text-align:right;">%s</td>
          <td style="padding:8px 12px;text-align:right;">%s</td>
          <td style="padding:8px 12px;text-align:right;">%s</td>
        </tr>
    </tbody>
  </table>`, rows.String(), len(invoices), gHT, gTVA, gTTC)
}
