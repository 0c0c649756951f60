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

package models

import (
	"path"
	"strings"
)

// supportedMediaTypes are the declared types accepted as candidate invoice
// documents. application/x-pdf is a non-standard alias used by some mail
// servers.
var supportedMediaTypes = map[string]bool{
	"application/pdf":   true,
	"application/x-pdf": true,
	"image/jpeg":        true,
	"image/png":         true,
	"image/tiff":        true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/vnd.ms-excel":    true,
	"application/zip":             true,
	"application/x-zip-compressed": true,
}

// extensionMediaTypes maps supported file extensions to their canonical
// media type. Used when a container member or a downloaded file carries no
// usable declared type.
var extensionMediaTypes = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".tiff": "image/tiff",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
}

// mediaTypeExtensions is the reverse fallback for naming downloaded files.
var mediaTypeExtensions = map[string]string{
	"application/pdf":   ".pdf",
	"application/x-pdf": ".pdf",
	"image/jpeg":        ".jpg",
	"image/png":         ".png",
	"image/tiff":        ".tiff",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",
	"application/vnd.ms-excel":    ".xls",
	"application/zip":             ".zip",
	"application/x-zip-compressed": ".zip",
}

// NormalizeMediaType strips charset/boundary suffixes and lowercases a MIME
// content-type string.
func NormalizeMediaType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// IsSupportedMediaType reports whether the declared type is accepted as a
// candidate document.
func IsSupportedMediaType(ct string) bool {
	return supportedMediaTypes[NormalizeMediaType(ct)]
}

// IsArchive reports whether a document is a container that must be expanded
// before classification.
func IsArchive(mediaType, name string) bool {
	ct := NormalizeMediaType(mediaType)
	if ct == "application/zip" || ct == "application/x-zip-compressed" {
		return true
	}
	return strings.HasSuffix(strings.ToLower(name), ".zip")
}

// MediaTypeForName returns the canonical media type for a supported file
// extension, or "" if the extension is not supported.
func MediaTypeForName(name string) string {
	return extensionMediaTypes[strings.ToLower(path.Ext(name))]
}

// ExtensionForMediaType returns a filename extension for a supported media
// type, or "" if unknown.
func ExtensionForMediaType(ct string) string {
	return mediaTypeExtensions[NormalizeMediaType(ct)]
}
