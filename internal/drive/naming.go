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

package drive

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	unsafeChars  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	nonAlphaRuns = regexp.MustCompile(`[^a-z0-9]+`)

	// accentStripper decomposes accented characters and drops the combining
	// marks ("Électricité" becomes "Electricite").
	accentStripper = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
)

// Compound TLD suffixes where the company name sits one label further left
// (support@company.co.uk names "company", not "co").
var compoundTLDs = map[string]bool{
	"co.uk": true, "co.jp": true, "co.nz": true, "co.za": true,
	"co.in": true, "co.kr": true,
	"com.au": true, "com.br": true, "com.fr": true, "com.mx": true,
	"com.ar": true,
	"org.uk": true, "net.au": true, "gov.uk": true,
}

// SanitizeFilename replaces characters that are problematic in filenames.
func SanitizeFilename(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// SupplierLabel converts a free-text supplier name to a compact
// filename-safe label: "EDF Électricité de France" yields
// "edf-electricite-de-france".
func SupplierLabel(supplier string) string {
	ascii, _, err := transform.String(accentStripper, supplier)
	if err != nil {
		ascii = supplier
	}
	label := nonAlphaRuns.ReplaceAllString(strings.ToLower(ascii), "-")
	label = strings.Trim(label, "-")
	if len(label) > 40 {
		label = strings.Trim(label[:40], "-")
	}
	return label
}

// SenderLabel extracts a company label from a sender address by taking the
// second-level domain, which names the company regardless of subdomains:
// billing@notifications.amazon.fr yields "amazon".
func SenderLabel(sender string) string {
	domain := strings.ToLower(strings.TrimSpace(sender))
	if at := strings.LastIndex(domain, "@"); at >= 0 {
		domain = domain[at+1:]
	}

	parts := strings.Split(domain, ".")
	var company string
	switch {
	case len(parts) >= 3 && compoundTLDs[strings.Join(parts[len(parts)-2:], ".")]:
		company = parts[len(parts)-3]
	case len(parts) >= 2:
		company = parts[len(parts)-2]
	default:
		company = parts[0]
	}
	return SanitizeFilename(company)
}

// CompanyLabel picks the folder/filename label for a document: the
// extracted supplier name when present, the sender domain otherwise.
func CompanyLabel(supplier, sender string) string {
	if supplier != "" {
		if label := SupplierLabel(supplier); label != "" {
			return label
		}
	}
	return SenderLabel(sender)
}

// BuildFilename produces the sortable destination name
// YYYY-MM-DD_company_original-name.ext. The date prefix prefers the
// extracted invoice date and falls back to the message received time.
func BuildFilename(receivedAt time.Time, sender, originalName, invoiceDate, supplier string) string {
	dateStr := invoiceDate
	if dateStr == "" {
		if receivedAt.IsZero() {
			dateStr = "0000-00-00"
		} else {
			dateStr = receivedAt.UTC().Format("2006-01-02")
		}
	}
	return fmt.Sprintf("%s_%s_%s", dateStr, CompanyLabel(supplier, sender), SanitizeFilename(originalName))
}
