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

package report

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/facturier/invoicebot/internal/drive"
	"github.com/facturier/invoicebot/internal/store"
)

var monthNamesFR = [13]string{
	"", "janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

// MonthLabel renders a period as "janvier 2026".
func MonthLabel(year, month int) string {
	return fmt.Sprintf("%s %d", monthNamesFR[month], year)
}

const (
	headerBG  = "2C5F8A"
	summaryBG = "E8F0F7"
)

var sheetColumns = []struct {
	label string
	width float64
}{
	{"Date", 14},
	{"Fournisseur", 28},
	{"Email expéditeur", 34},
	{"Nom du fichier", 45},
	{"HT", 14},
	{"TVA", 14},
	{"TTC", 14},
	{"Devise", 8},
	{"Lien Drive", 18},
	{"Période", 12},
}

type supplierTotal struct {
	count      int
	ht         float64
	tva        float64
	ttc        float64
	hasAmounts bool
}

// fmtAmount renders an amount French style: thousands separated by spaces,
// comma decimal. Nil renders empty.
func fmtAmount(value *float64) string {
	if value == nil {
		return ""
	}
	s := fmt.Sprintf("%.2f", *value)
	intPart, decPart, _ := strings.Cut(s, ".")
	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")
	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)
	out := strings.Join(groups, " ") + "," + decPart
	if neg {
		out = "-" + out
	}
	return out
}

func displayDate(inv store.Invoice) string {
	if inv.InvoiceDate != "" {
		if dt, err := time.Parse("2006-01-02", inv.InvoiceDate); err == nil {
			return dt.Format("02/01/2006")
		}
		return inv.InvoiceDate
	}
	if !inv.ReceivedAt.IsZero() {
		return inv.ReceivedAt.Format("02/01/2006")
	}
	return ""
}

func displaySupplier(inv store.Invoice) string {
	if inv.Supplier != "" {
		return inv.Supplier
	}
	return cases.Title(language.French).String(drive.SenderLabel(inv.Sender))
}

// BuildWorkbook produces the monthly summary spreadsheet: a header row, one
// line per invoice, a per-supplier summary block and a grand total row.
func BuildWorkbook(invoices []store.Invoice, year, month int, homeCurrency string) ([]byte, error) {
	monthLabel := MonthLabel(year, month)
	periodStr := fmt.Sprintf("%02d/%d", month, year)

	f := excelize.NewFile()
	defer f.Close()
	sheet := monthLabel
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF", Family: "Calibri", Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerBG}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	rowStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Family: "Calibri", Size: 10},
		Border: []excelize.Border{
			{Type: "bottom", Style: 1, Color: "CCCCCC"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("row style: %w", err)
	}
	linkStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Family: "Calibri", Size: 10, Color: "0563C1", Underline: "single"},
		Border: []excelize.Border{
			{Type: "bottom", Style: 1, Color: "CCCCCC"},
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("link style: %w", err)
	}
	summaryHdrStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Family: "Calibri", Size: 10, Color: headerBG},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{summaryBG}},
	})
	if err != nil {
		return nil, fmt.Errorf("summary style: %w", err)
	}
	totalStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF", Family: "Calibri", Size: 10},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerBG}},
	})
	if err != nil {
		return nil, fmt.Errorf("total style: %w", err)
	}

	for i, col := range sheetColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, col.label); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		colName, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheet, colName, colName, col.width); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(sheetColumns))
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	totals := make(map[string]*supplierTotal)
	for i, inv := range invoices {
		row := i + 2
		supplier := displaySupplier(inv)
		currency := inv.Currency
		if currency == "" {
			currency = homeCurrency
		}

		st := totals[supplier]
		if st == nil {
			st = &supplierTotal{}
			totals[supplier] = st
		}
		st.count++
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

		values := []any{
			displayDate(inv),
			supplier,
			inv.Sender,
			inv.Filename,
			fmtAmount(inv.AmountPretax),
			fmtAmount(inv.AmountTax),
			fmtAmount(inv.AmountTotal),
			currency,
			"", // drive link set below
			periodStr,
		}
		for col, val := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(sheet, cell, val); err != nil {
				return nil, fmt.Errorf("write row %d: %w", row, err)
			}
		}

		first, _ := excelize.CoordinatesToCellName(1, row)
		last, _ := excelize.CoordinatesToCellName(len(sheetColumns), row)
		if err := f.SetCellStyle(sheet, first, last, rowStyle); err != nil {
			return nil, fmt.Errorf("style row %d: %w", row, err)
		}

		linkCell, _ := excelize.CoordinatesToCellName(9, row)
		if inv.DriveWebLink != "" {
			if err := f.SetCellHyperLink(sheet, linkCell, inv.DriveWebLink, "External"); err != nil {
				return nil, fmt.Errorf("set link row %d: %w", row, err)
			}
			if err := f.SetCellValue(sheet, linkCell, "Ouvrir"); err != nil {
				return nil, fmt.Errorf("write link row %d: %w", row, err)
			}
			if err := f.SetCellStyle(sheet, linkCell, linkCell, linkStyle); err != nil {
				return nil, fmt.Errorf("style link row %d: %w", row, err)
			}
		} else {
			if err := f.SetCellValue(sheet, linkCell, "—"); err != nil {
				return nil, fmt.Errorf("write link row %d: %w", row, err)
			}
		}
	}

	// Per-supplier summary block below a blank separator row.
	summaryHeaderRow := len(invoices) + 3
	summaryLabels := []string{"Fournisseur", "Nb factures", "Total HT", "Total TVA", "Total TTC"}
	for i, label := range summaryLabels {
		cell, _ := excelize.CoordinatesToCellName(i+1, summaryHeaderRow)
		if err := f.SetCellValue(sheet, cell, label); err != nil {
			return nil, fmt.Errorf("write summary header: %w", err)
		}
	}
	sumFirst, _ := excelize.CoordinatesToCellName(1, summaryHeaderRow)
	sumLast, _ := excelize.CoordinatesToCellName(len(summaryLabels), summaryHeaderRow)
	if err := f.SetCellStyle(sheet, sumFirst, sumLast, summaryHdrStyle); err != nil {
		return nil, fmt.Errorf("style summary header: %w", err)
	}

	suppliers := make([]string, 0, len(totals))
	for name := range totals {
		suppliers = append(suppliers, name)
	}
	sort.Strings(suppliers)

	var grandHT, grandTVA, grandTTC float64
	grandCount := 0
	hasAnyAmounts := false
	for i, name := range suppliers {
		st := totals[name]
		row := summaryHeaderRow + 1 + i
		values := []any{name, st.count, "", "", ""}
		if st.hasAmounts {
			values[2] = fmtAmount(&st.ht)
			values[3] = fmtAmount(&st.tva)
			values[4] = fmtAmount(&st.ttc)
			hasAnyAmounts = true
		}
		for col, val := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(sheet, cell, val); err != nil {
				return nil, fmt.Errorf("write summary row: %w", err)
			}
		}
		grandCount += st.count
		grandHT += st.ht
		grandTVA += st.tva
		grandTTC += st.ttc
	}

	totalRow := summaryHeaderRow + 1 + len(suppliers)
	totalValues := []any{
		fmt.Sprintf("TOTAL — %d facture(s)", len(invoices)),
		grandCount, "", "", "",
	}
	if hasAnyAmounts {
		totalValues[2] = fmtAmount(&grandHT)
		totalValues[3] = fmtAmount(&grandTVA)
		totalValues[4] = fmtAmount(&grandTTC)
	}
	for col, val := range totalValues {
		cell, _ := excelize.CoordinatesToCellName(col+1, totalRow)
		if err := f.SetCellValue(sheet, cell, val); err != nil {
			return nil, fmt.Errorf("write total row: %w", err)
		}
	}
	totFirst, _ := excelize.CoordinatesToCellName(1, totalRow)
	totLast, _ := excelize.CoordinatesToCellName(len(totalValues), totalRow)
	if err := f.SetCellStyle(sheet, totFirst, totLast, totalStyle); err != nil {
		return nil, fmt.Errorf("style total row: %w", err)
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze panes: %w", err)
	}
	filterRange := fmt.Sprintf("A1:%s%d", lastCol, len(invoices)+1)
	if err := f.AutoFilter(sheet, filterRange, nil); err != nil {
		return nil, fmt.Errorf("auto filter: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}

	slog.Info("built monthly workbook",
		"period", monthLabel,
		"invoices", len(invoices),
		"suppliers", len(totals),
		"bytes", buf.Len(),
	)
	return buf.Bytes(), nil
}
