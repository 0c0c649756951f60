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

package store

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestMarkProcessed_Idempotent(t *testing.T) {
	s := openTestStore(t)
	received := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	done, err := s.IsProcessed("msg-1")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if done {
		t.Error("fresh message reported processed")
	}

	if err := s.MarkProcessed("msg-1", "a@example.com", "Facture", received); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := s.MarkProcessed("msg-1", "a@example.com", "Facture", received); err != nil {
		t.Fatalf("second MarkProcessed: %v", err)
	}

	done, err = s.IsProcessed("msg-1")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if !done {
		t.Error("marked message not reported processed")
	}
}

func TestUnreportedInvoices_OrderAndFiltering(t *testing.T) {
	s := openTestStore(t)

	amount := 120.0
	invoices := []Invoice{
		{EmailID: "m1", Filename: "late.pdf", Sender: "a@example.com", Year: 2026, Month: 3,
			InvoiceDate: "2026-03-25", ReceivedAt: time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC)},
		{EmailID: "m2", Filename: "early.pdf", Sender: "a@example.com", Year: 2026, Month: 3,
			InvoiceDate: "2026-03-02", AmountTotal: &amount, Currency: "EUR",
			ReceivedAt: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)},
		{EmailID: "m3", Filename: "dateless.pdf", Sender: "b@example.com", Year: 2026, Month: 3,
			ReceivedAt: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
		{EmailID: "m4", Filename: "other-month.pdf", Sender: "a@example.com", Year: 2026, Month: 2,
			InvoiceDate: "2026-02-01"},
		{EmailID: "m5", Filename: "already.pdf", Sender: "a@example.com", Year: 2026, Month: 3,
			InvoiceDate: "2026-03-01", Reported: true},
	}
	for i := range invoices {
		if err := s.SaveInvoice(&invoices[i]); err != nil {
			t.Fatalf("SaveInvoice %d: %v", i, err)
		}
	}

	got, err := s.UnreportedInvoices(2026, 3)
	if err != nil {
		t.Fatalf("UnreportedInvoices: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d invoices, want 3", len(got))
	}
	// Document date first, received time standing in for the dateless one.
	wantOrder := []string{"early.pdf", "dateless.pdf", "late.pdf"}
	for i, want := range wantOrder {
		if got[i].Filename != want {
			t.Errorf("invoice %d = %q, want %q", i, got[i].Filename, want)
		}
	}
	if got[0].AmountTotal == nil || *got[0].AmountTotal != 120.0 {
		t.Errorf("AmountTotal = %v, want 120", got[0].AmountTotal)
	}
}

func TestMarkReported(t *testing.T) {
	s := openTestStore(t)

	inv := Invoice{EmailID: "m1", Filename: "f.pdf", Sender: "a@example.com", Year: 2026, Month: 3}
	if err := s.SaveInvoice(&inv); err != nil {
		t.Fatalf("SaveInvoice: %v", err)
	}
	if err := s.MarkReported([]uint{inv.ID}); err != nil {
		t.Fatalf("MarkReported: %v", err)
	}

	got, err := s.UnreportedInvoices(2026, 3)
	if err != nil {
		t.Fatalf("UnreportedInvoices: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d invoices after MarkReported, want 0", len(got))
	}

	if err := s.MarkReported(nil); err != nil {
		t.Errorf("MarkReported(nil): %v", err)
	}
}

func TestReportMarker_Idempotent(t *testing.T) {
	s := openTestStore(t)

	sent, err := s.ReportSent(2026, 2)
	if err != nil {
		t.Fatalf("ReportSent: %v", err)
	}
	if sent {
		t.Error("fresh period reported sent")
	}

	if err := s.MarkReportSent(2026, 2); err != nil {
		t.Fatalf("MarkReportSent: %v", err)
	}
	if err := s.MarkReportSent(2026, 2); err != nil {
		t.Fatalf("second MarkReportSent: %v", err)
	}

	sent, err = s.ReportSent(2026, 2)
	if err != nil {
		t.Fatalf("ReportSent: %v", err)
	}
	if !sent {
		t.Error("marked period not reported sent")
	}

	// Other periods stay unaffected.
	sent, err = s.ReportSent(2026, 3)
	if err != nil {
		t.Fatalf("ReportSent: %v", err)
	}
	if sent {
		t.Error("unrelated period reported sent")
	}
}

// Reopening an existing database must not fail or lose rows.
func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.MarkProcessed("msg-1", "a@example.com", "", time.Now().UTC()); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	done, err := s2.IsProcessed("msg-1")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if !done {
		t.Error("row lost across reopen")
	}
}
