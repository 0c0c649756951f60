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

// Package archive expands container documents (ZIP) into individual
// candidate documents. Expansion is one level deep: nested containers are
// not recursed into, and a corrupt archive yields zero documents rather
// than an error.
package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"log/slog"
	"strings"

	"github.com/facturier/invoicebot/internal/models"
)

// Expand unpacks a container document into its supported members. Directory
// entries, platform metadata files, unsupported types, and unreadable
// members are skipped with a log entry.
func Expand(doc models.Document) []models.Document {
	zr, err := zip.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))
	if err != nil {
		slog.Warn("could not open archive", "name", doc.Name, "error", err)
		return nil
	}

	var members []models.Document
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}

		cleaned := strings.ReplaceAll(entry.Name, "\\", "/")
		base := cleaned
		if i := strings.LastIndexByte(cleaned, '/'); i >= 0 {
			base = cleaned[i+1:]
		}

		// macOS resource forks and metadata directories
		if strings.HasPrefix(base, "._") || strings.Contains(entry.Name, "__MACOSX") {
			slog.Debug("skipping archive metadata entry", "entry", entry.Name)
			continue
		}

		mediaType := models.MediaTypeForName(base)
		if mediaType == "" {
			slog.Debug("skipping unsupported archive member", "entry", entry.Name)
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			slog.Warn("could not open archive member", "entry", entry.Name, "error", err)
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			slog.Warn("could not read archive member", "entry", entry.Name, "error", err)
			continue
		}

		members = append(members, models.Document{
			Name:      base,
			MediaType: mediaType,
			Data:      data,
			Origin:    models.OriginArchive,
		})
	}

	return members
}
