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

package classifier

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// maxTextChars is roughly 800 tokens, enough for a typical invoice header.
const maxTextChars = 3000

// extractPDFText pulls plain text from the first two pages of a PDF.
// Returns "" on any extraction failure; the document still goes to the
// model as review material via the empty-text path.
func extractPDFText(data []byte) (text string) {
	// The pdf package panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("pdf text extraction panicked", "recovered", fmt.Sprint(r))
			text = ""
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		slog.Warn("pdf text extraction failed", "error", err)
		return ""
	}

	var sb strings.Builder
	totalPages := reader.NumPage()
	pagesRead := 0
	for i := 1; i <= totalPages && i <= 2; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("pdf page extraction failed", "page", i, "error", err)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(pageText)
		pagesRead++
	}

	text = truncate(strings.TrimSpace(sb.String()), maxTextChars)
	slog.Debug("pdf extraction done",
		"total_pages", totalPages,
		"pages_read", pagesRead,
		"chars_sent", len(text),
	)
	return text
}

// extractSpreadsheetText flattens the first sheet of a workbook into lines
// of cell text, capped at 100 rows.
func extractSpreadsheetText(data []byte) string {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		slog.Warn("spreadsheet extraction failed", "error", err)
		return ""
	}
	defer file.Close()

	sheet := file.GetSheetName(0)
	if sheet == "" {
		return ""
	}
	rows, err := file.GetRows(sheet)
	if err != nil {
		slog.Warn("spreadsheet row read failed", "sheet", sheet, "error", err)
		return ""
	}

	var lines []string
	for i, row := range rows {
		if i >= 100 {
			break
		}
		line := strings.TrimSpace(strings.Join(row, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}

	text := truncate(strings.Join(lines, "\n"), maxTextChars)
	slog.Debug("spreadsheet extraction done", "rows_read", len(lines), "chars_sent", len(text))
	return text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
