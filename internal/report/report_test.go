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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/facturier/invoicebot/internal/graph"
	"github.com/facturier/invoicebot/internal/store"
)

type staticTokens struct{}

func (staticTokens) Token(ctx context.Context) (string, error)   { return "test-token", nil }
func (staticTokens) Refresh(ctx context.Context) (string, error) { return "test-token", nil }

type fakeUploader struct {
	mu       sync.Mutex
	uploads  []string
	monthURL string
}

func (f *fakeUploader) UploadInvoice(ctx context.Context, data []byte, contentType, filename string, year, month int, supplierLabel string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, filename)
	return "id-" + filename, "https://onedrive.example/" + filename, nil
}

func (f *fakeUploader) MonthFolderURL(ctx context.Context, year, month int) (string, error) {
	return f.monthURL, nil
}

type fakeStore struct {
	mu       sync.Mutex
	sent     map[[2]int]bool
	invoices []store.Invoice

	reportedIDs []uint
}

func (f *fakeStore) ReportSent(year, month int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[[2]int{year, month}], nil
}

func (f *fakeStore) MarkReportSent(year, month int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[[2]int]bool{}
	}
	f.sent[[2]int{year, month}] = true
	return nil
}

func (f *fakeStore) UnreportedInvoices(year, month int) ([]store.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invoices, nil
}

func (f *fakeStore) MarkReported(ids []uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reportedIDs = append(f.reportedIDs, ids...)
	return nil
}

type draftCapture struct {
	mu     sync.Mutex
	drafts []map[string]any
}

func (c *draftCapture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/me/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode draft: %v", err)
		}
		c.mu.Lock()
		c.drafts = append(c.drafts, payload)
		c.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "draft-1"}`))
	}
}

func newTestReporter(t *testing.T, up *fakeUploader, st *fakeStore) (*Reporter, *draftCapture) {
	t.Helper()
	capture := &draftCapture{}
	server := httptest.NewServer(capture.handler(t))
	t.Cleanup(server.Close)
	client := graph.NewClient(staticTokens{}, server.URL)
	r := NewReporter(client, up, st, Config{AccountantEmail: "comptable@example.com", HomeCurrency: "EUR"})
	return r, capture
}

func TestRun_CreatesDraftAndMarksPeriod(t *testing.T) {
	up := &fakeUploader{monthURL: "https://onedrive.example/2026/03"}
	st := &fakeStore{invoices: testInvoices()}
	r, capture := newTestReporter(t, up, st)

	// Running on April 1st covers March.
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	if err := r.Run(context.Background(), now); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(capture.drafts) != 1 {
		t.Fatalf("drafts created = %d, want 1", len(capture.drafts))
	}
	draft := capture.drafts[0]
	if draft["subject"] != "Factures - mars 2026" {
		t.Errorf("subject = %v", draft["subject"])
	}

	recipients, _ := draft["toRecipients"].([]any)
	if len(recipients) != 1 {
		t.Fatalf("recipients = %v", draft["toRecipients"])
	}
	addr := recipients[0].(map[string]any)["emailAddress"].(map[string]any)["address"]
	if addr != "comptable@example.com" {
		t.Errorf("recipient = %v", addr)
	}

	body := draft["body"].(map[string]any)
	if body["contentType"] != "HTML" {
		t.Errorf("body contentType = %v", body["contentType"])
	}
	content, _ := body["content"].(string)
	for _, fragment := range []string{"mars 2026", "EDF", "Engie", "https://onedrive.example/2026/03"} {
		if !strings.Contains(content, fragment) {
			t.Errorf("draft body missing %q", fragment)
		}
	}

	attachments, _ := draft["attachments"].([]any)
	if len(attachments) != 1 {
		t.Fatalf("attachments = %v", draft["attachments"])
	}
	attName := attachments[0].(map[string]any)["name"]
	if attName != "2026-03_summary.xlsx" {
		t.Errorf("attachment name = %v", attName)
	}

	if len(up.uploads) != 1 || up.uploads[0] != "2026-03_summary.xlsx" {
		t.Errorf("workbook uploads = %v", up.uploads)
	}
	if len(st.reportedIDs) != 3 {
		t.Errorf("reported ids = %v, want all 3", st.reportedIDs)
	}
	if !st.sent[[2]int{2026, 3}] {
		t.Error("period not marked reported")
	}
}

func TestRun_PeriodAlreadyReported(t *testing.T) {
	up := &fakeUploader{}
	st := &fakeStore{
		sent:     map[[2]int]bool{{2026, 3}: true},
		invoices: testInvoices(),
	}
	r, capture := newTestReporter(t, up, st)

	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	if err := r.Run(context.Background(), now); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(capture.drafts) != 0 {
		t.Errorf("drafts created for an already-reported period: %d", len(capture.drafts))
	}
	if len(st.reportedIDs) != 0 {
		t.Errorf("invoices re-marked: %v", st.reportedIDs)
	}
}

// A month with zero invoices gets its marker without a draft, so re-runs stay
// quiet.
func TestRun_EmptyPeriodMarkedWithoutDraft(t *testing.T) {
	up := &fakeUploader{}
	st := &fakeStore{}
	r, capture := newTestReporter(t, up, st)

	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	if err := r.Run(context.Background(), now); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(capture.drafts) != 0 {
		t.Errorf("draft created for empty period")
	}
	if len(up.uploads) != 0 {
		t.Errorf("workbook uploaded for empty period: %v", up.uploads)
	}
	if !st.sent[[2]int{2026, 3}] {
		t.Error("empty period not marked")
	}
}

func TestPreviousMonth_JanuaryWrapsToDecember(t *testing.T) {
	year, month := previousMonth(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	if year != 2025 || month != 12 {
		t.Errorf("previousMonth = %d/%d, want 2025/12", year, month)
	}
	year, month = previousMonth(time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC))
	if year != 2026 || month != 6 {
		t.Errorf("previousMonth = %d/%d, want 2026/06", year, month)
	}
}
