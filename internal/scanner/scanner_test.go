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

package scanner

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/facturier/invoicebot/internal/graph"
	"github.com/facturier/invoicebot/internal/models"
)

type staticTokens struct{}

func (staticTokens) Token(ctx context.Context) (string, error)   { return "test-token", nil }
func (staticTokens) Refresh(ctx context.Context) (string, error) { return "test-token", nil }

// fakeResolver serves canned documents for known URLs and records calls.
type fakeResolver struct {
	mu   sync.Mutex
	docs map[string]models.Document

	calls []string
}

func (f *fakeResolver) Fetch(ctx context.Context, rawURL string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	doc, ok := f.docs[rawURL]
	if !ok {
		return nil, fmt.Errorf("refused: %s", rawURL)
	}
	return &doc, nil
}

func newTestScanner(t *testing.T, handler http.Handler) (*Scanner, *fakeResolver, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	resolver := &fakeResolver{docs: map[string]models.Document{}}
	return New(graph.NewClient(staticTokens{}, server.URL), resolver), resolver, server
}

func messageJSON(id, sender, subject, received string, hasAttachments bool, bodyType, body string) map[string]any {
	return map[string]any{
		"id":               id,
		"sender":           map[string]any{"emailAddress": map[string]any{"address": sender}},
		"subject":          subject,
		"receivedDateTime": received,
		"hasAttachments":   hasAttachments,
		"body":             map[string]any{"contentType": bodyType, "content": body},
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestScan_PaginationFollowsNextLink(t *testing.T) {
	pdf := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 test"))

	var pagesServed int
	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/me/mailFolders/inbox/messages", func(w http.ResponseWriter, r *http.Request) {
		pagesServed++
		if r.URL.Query().Get("page") == "2" {
			writeJSON(t, w, map[string]any{
				"value": []any{messageJSON("m2", "b@example.com", "Facture mars", "2026-03-09T08:00:00Z", true, "text", "")},
			})
			return
		}
		writeJSON(t, w, map[string]any{
			"value":           []any{messageJSON("m1", "a@example.com", "Facture avril", "2026-03-10T09:00:00Z", true, "text", "")},
			"@odata.nextLink": server.URL + "/me/mailFolders/inbox/messages?page=2",
		})
	})
	mux.HandleFunc("/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/attachments") {
			writeJSON(t, w, map[string]any{"value": []any{map[string]any{
				"@odata.type": "#microsoft.graph.fileAttachment",
				"id":          "att1",
				"name":        "facture.pdf",
				"contentType": "application/pdf",
				"size":        13,
			}}})
			return
		}
		writeJSON(t, w, map[string]any{
			"name":         "facture.pdf",
			"contentType":  "application/pdf",
			"contentBytes": pdf,
		})
	})

	scanner, _, srv := newTestScanner(t, mux)
	server = srv

	messages, err := scanner.Scan(context.Background(), Options{SubjectKeywords: []string{"facture"}})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if pagesServed != 2 {
		t.Errorf("pages served = %d, want 2", pagesServed)
	}
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(messages))
	}
	if messages[0].ID != "m1" || messages[1].ID != "m2" {
		t.Errorf("message order = %s, %s", messages[0].ID, messages[1].ID)
	}
	doc := messages[0].Documents[0]
	if doc.Name != "facture.pdf" || doc.MediaType != "application/pdf" {
		t.Errorf("document = %q %q", doc.Name, doc.MediaType)
	}
	if string(doc.Data) != "%PDF-1.4 test" {
		t.Errorf("document data = %q", doc.Data)
	}
	if doc.Origin != models.OriginAttachment {
		t.Errorf("document origin = %q", doc.Origin)
	}
}

func TestScan_SinceFloorInFilter(t *testing.T) {
	var gotFilter string
	mux := http.NewServeMux()
	mux.HandleFunc("/me/mailFolders/inbox/messages", func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("$filter")
		writeJSON(t, w, map[string]any{"value": []any{}})
	})

	scanner, _, _ := newTestScanner(t, mux)
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if _, err := scanner.Scan(context.Background(), Options{Since: since}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := "receivedDateTime gt 2026-02-01T00:00:00Z"
	if gotFilter != want {
		t.Errorf("$filter = %q, want %q", gotFilter, want)
	}
}

func TestScan_SubjectKeywordPolicy(t *testing.T) {
	pdf := base64.StdEncoding.EncodeToString([]byte("%PDF"))

	mux := http.NewServeMux()
	mux.HandleFunc("/me/mailFolders/inbox/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"value": []any{
			messageJSON("match", "shop@example.com", "Votre facture de mars", "2026-03-01T10:00:00Z", true, "text", ""),
			messageJSON("nomatch", "shop@example.com", "Newsletter hebdomadaire", "2026-03-01T11:00:00Z", true, "text", ""),
			messageJSON("nosubject", "shop@example.com", "", "2026-03-01T12:00:00Z", true, "text", ""),
			messageJSON("trusted", "edf@billing.example.com", "Sans rapport", "2026-03-01T13:00:00Z", true, "text", ""),
		}})
	})
	mux.HandleFunc("/me/mailFolders/junkemail/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"value": []any{
			messageJSON("junk-trusted", "edf@billing.example.com", "Facture", "2026-03-01T14:00:00Z", true, "text", ""),
			messageJSON("junk-stranger", "spam@example.com", "Facture", "2026-03-01T15:00:00Z", true, "text", ""),
		}})
	})
	mux.HandleFunc("/me/mailFolders/archive/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"value": []any{}})
	})
	mux.HandleFunc("/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/attachments") {
			writeJSON(t, w, map[string]any{"value": []any{map[string]any{
				"@odata.type": "#microsoft.graph.fileAttachment",
				"id":          "a",
				"name":        "doc.pdf",
				"contentType": "application/pdf",
				"size":        4,
			}}})
			return
		}
		writeJSON(t, w, map[string]any{"name": "doc.pdf", "contentType": "application/pdf", "contentBytes": pdf})
	})

	scanner, _, _ := newTestScanner(t, mux)
	messages, err := scanner.Scan(context.Background(), Options{
		WhitelistedSenders: []string{"edf@billing.example.com"},
		SubjectKeywords:    []string{"facture"},
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	got := map[string]bool{}
	for _, m := range messages {
		got[m.ID] = true
	}
	for _, id := range []string{"match", "nosubject", "trusted", "junk-trusted"} {
		if !got[id] {
			t.Errorf("expected message %s to be accepted", id)
		}
	}
	for _, id := range []string{"nomatch", "junk-stranger"} {
		if got[id] {
			t.Errorf("expected message %s to be filtered out", id)
		}
	}
}

// Without an allow-list the junk and archive folders are not scanned at all.
func TestScan_SecondaryFoldersNeedWhitelist(t *testing.T) {
	foldersHit := map[string]bool{}
	mux := http.NewServeMux()
	for _, folder := range []string{"inbox", "junkemail", "archive"} {
		folder := folder
		mux.HandleFunc("/me/mailFolders/"+folder+"/messages", func(w http.ResponseWriter, r *http.Request) {
			foldersHit[folder] = true
			writeJSON(t, w, map[string]any{"value": []any{}})
		})
	}

	scanner, _, _ := newTestScanner(t, mux)
	if _, err := scanner.Scan(context.Background(), Options{}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !foldersHit["inbox"] {
		t.Error("inbox was not scanned")
	}
	if foldersHit["junkemail"] || foldersHit["archive"] {
		t.Errorf("secondary folders scanned without whitelist: %v", foldersHit)
	}
}

func TestScan_AttachmentFiltering(t *testing.T) {
	pdf := base64.StdEncoding.EncodeToString([]byte("%PDF"))
	var detailFetches []string

	mux := http.NewServeMux()
	mux.HandleFunc("/me/mailFolders/inbox/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"value": []any{
			messageJSON("m1", "a@example.com", "Facture", "2026-03-01T10:00:00Z", true, "text", ""),
		}})
	})
	mux.HandleFunc("/me/messages/m1/attachments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"value": []any{
			map[string]any{"@odata.type": "#microsoft.graph.itemAttachment", "id": "i1", "name": "forwarded", "contentType": "message/rfc822", "size": 10},
			map[string]any{"@odata.type": "#microsoft.graph.fileAttachment", "id": "inline", "name": "logo.png", "contentType": "image/png", "size": 10, "isInline": true},
			map[string]any{"@odata.type": "#microsoft.graph.fileAttachment", "id": "big", "name": "huge.pdf", "contentType": "application/pdf", "size": MaxAttachmentBytes + 1},
			map[string]any{"@odata.type": "#microsoft.graph.fileAttachment", "id": "word", "name": "notes.docx", "contentType": "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "size": 10},
			map[string]any{"@odata.type": "#microsoft.graph.fileAttachment", "id": "good", "name": "facture.pdf", "contentType": "application/pdf; name=facture.pdf", "size": 4},
		}})
	})
	mux.HandleFunc("/me/messages/m1/attachments/", func(w http.ResponseWriter, r *http.Request) {
		detailFetches = append(detailFetches, r.URL.Path)
		writeJSON(t, w, map[string]any{"name": "facture.pdf", "contentType": "application/pdf", "contentBytes": pdf})
	})

	scanner, _, _ := newTestScanner(t, mux)
	messages, err := scanner.Scan(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}
	if len(detailFetches) != 1 || !strings.HasSuffix(detailFetches[0], "/good") {
		t.Errorf("detail fetches = %v, want only the qualifying attachment", detailFetches)
	}
	docs := messages[0].Documents
	if len(docs) != 1 || docs[0].Name != "facture.pdf" {
		t.Fatalf("documents = %v", docs)
	}
	if docs[0].MediaType != "application/pdf" {
		t.Errorf("MediaType = %q, want normalized application/pdf", docs[0].MediaType)
	}
}

func TestScan_BodyLinksProduceDocuments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/mailFolders/inbox/messages", func(w http.ResponseWriter, r *http.Request) {
		body := `<html><a href="https://portal.example.com/invoice/5">Facture</a>` +
			`<a href="https://portal.example.com/invoice/broken">Autre</a></html>`
		writeJSON(t, w, map[string]any{"value": []any{
			messageJSON("m1", "a@example.com", "Facture", "2026-03-01T10:00:00Z", false, "html", body),
		}})
	})

	scanner, resolver, _ := newTestScanner(t, mux)
	resolver.docs["https://portal.example.com/invoice/5"] = models.Document{
		Name:      "invoice-5.pdf",
		MediaType: "application/pdf",
		Data:      []byte("%PDF"),
		Origin:    models.OriginLink,
	}

	messages, err := scanner.Scan(context.Background(), Options{LinkKeywords: []string{"invoice"}})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(resolver.calls) != 2 {
		t.Errorf("resolver calls = %d, want 2", len(resolver.calls))
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}
	docs := messages[0].Documents
	if len(docs) != 1 || docs[0].Name != "invoice-5.pdf" || docs[0].Origin != models.OriginLink {
		t.Errorf("documents = %v, want the single resolved link document", docs)
	}
}

// A message with neither qualifying attachments nor resolvable links is
// dropped entirely.
func TestScan_MessagesWithoutDocumentsAreDropped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/mailFolders/inbox/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"value": []any{
			messageJSON("m1", "a@example.com", "Facture sans rien", "2026-03-01T10:00:00Z", false, "text", "rien ici"),
		}})
	})

	scanner, _, _ := newTestScanner(t, mux)
	messages, err := scanner.Scan(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("messages = %d, want 0", len(messages))
	}
}
