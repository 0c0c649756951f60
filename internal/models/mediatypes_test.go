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

import "testing"

func TestNormalizeMediaType_StripsParameters(t *testing.T) {
	got := NormalizeMediaType("Application/PDF; charset=UTF-8")
	if got != "application/pdf" {
		t.Errorf("NormalizeMediaType = %q, want application/pdf", got)
	}
}

func TestIsSupportedMediaType(t *testing.T) {
	if !IsSupportedMediaType("application/pdf") {
		t.Error("application/pdf should be supported")
	}
	if !IsSupportedMediaType("application/x-pdf") {
		t.Error("application/x-pdf alias should be supported")
	}
	if IsSupportedMediaType("text/html") {
		t.Error("text/html should not be supported")
	}
	if IsSupportedMediaType("application/msword") {
		t.Error("application/msword should not be supported")
	}
}

func TestIsArchive(t *testing.T) {
	if !IsArchive("application/zip", "stuff.bin") {
		t.Error("zip media type should be an archive")
	}
	if !IsArchive("application/x-zip-compressed", "stuff.bin") {
		t.Error("x-zip-compressed should be an archive")
	}
	if !IsArchive("application/octet-stream", "factures.ZIP") {
		t.Error("a .zip name should be an archive regardless of declared type")
	}
	if IsArchive("application/pdf", "invoice.pdf") {
		t.Error("pdf should not be an archive")
	}
}

func TestMediaTypeForName(t *testing.T) {
	if got := MediaTypeForName("Facture_EDF.PDF"); got != "application/pdf" {
		t.Errorf("MediaTypeForName(pdf) = %q", got)
	}
	if got := MediaTypeForName("scan.jpeg"); got != "image/jpeg" {
		t.Errorf("MediaTypeForName(jpeg) = %q", got)
	}
	if got := MediaTypeForName("notes.txt"); got != "" {
		t.Errorf("MediaTypeForName(txt) = %q, want empty", got)
	}
}

func TestExtensionForMediaType(t *testing.T) {
	if got := ExtensionForMediaType("application/pdf; charset=binary"); got != ".pdf" {
		t.Errorf("ExtensionForMediaType(pdf) = %q", got)
	}
	if got := ExtensionForMediaType("text/plain"); got != "" {
		t.Errorf("ExtensionForMediaType(text) = %q, want empty", got)
	}
}
