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

// Package store is the durable SQLite layer behind deduplication, invoice
// tracking and monthly report markers. Everything the pipeline remembers
// across restarts lives here.
package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ProcessedEmail records that a message has been fully attempted. Its
// presence makes every later scan skip the message.
type ProcessedEmail struct {
	EmailID     string `gorm:"primaryKey"`
	ProcessedAt time.Time
	Sender      string `gorm:"not null"`
	Subject     string
	ReceivedAt  time.Time
}

// Invoice is one confirmed invoice upload. Reported flags it as included in
// a monthly report.
type Invoice struct {
	ID           uint   `gorm:"primaryKey"`
	EmailID      string `gorm:"index;not null"`
	Filename     string `gorm:"not null"`
	DriveFileID  string
	DriveWebLink string
	Sender       string `gorm:"not null"`
	ReceivedAt   time.Time
	Year         int `gorm:"index:idx_invoices_period"`
	Month        int `gorm:"index:idx_invoices_period"`
	Reported     bool

	// Extracted document fields. Zero values mean the classifier produced
	// nothing usable.
	InvoiceDate  string
	Supplier     string
	AmountPretax *float64
	AmountTax    *float64
	AmountTotal  *float64
	Currency     string
}

// MonthlyReport marks one period as reported, including periods that had no
// invoices, so the report job never sends twice.
type MonthlyReport struct {
	ID     uint `gorm:"primaryKey"`
	Year   int  `gorm:"uniqueIndex:idx_reports_period"`
	Month  int  `gorm:"uniqueIndex:idx_reports_period"`
	SentAt time.Time
}

// Store wraps the SQLite database.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database under dataDir and applies schema
// migrations. Column additions are handled by AutoMigrate, so older
// databases upgrade in place.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "invoices.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := db.AutoMigrate(&ProcessedEmail{}, &Invoice{}, &MonthlyReport{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	slog.Info("database ready", "path", path)
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsProcessed reports whether a message has already been attempted.
func (s *Store) IsProcessed(emailID string) (bool, error) {
	var count int64
	err := s.db.Model(&ProcessedEmail{}).Where("email_id = ?", emailID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("query processed email: %w", err)
	}
	return count > 0, nil
}

// MarkProcessed records a message as attempted. Marking the same message
// twice is a no-op.
func (s *Store) MarkProcessed(emailID, sender, subject string, receivedAt time.Time) error {
	rec := ProcessedEmail{
		EmailID:     emailID,
		ProcessedAt: time.Now().UTC(),
		Sender:      sender,
		Subject:     subject,
		ReceivedAt:  receivedAt,
	}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("mark email processed: %w", err)
	}
	slog.Info("email marked processed", "email_id", emailID, "sender", sender, "subject", subject)
	return nil
}

// SaveInvoice persists one uploaded document.
func (s *Store) SaveInvoice(inv *Invoice) error {
	if err := s.db.Create(inv).Error; err != nil {
		return fmt.Errorf("save invoice: %w", err)
	}
	slog.Info("invoice saved",
		"id", inv.ID,
		"filename", inv.Filename,
		"year", inv.Year,
		"month", inv.Month,
		"supplier", inv.Supplier,
		"invoice_date", inv.InvoiceDate,
	)
	return nil
}

// UnreportedInvoices returns the period's invoices not yet included in a
// monthly report, ordered by document date with received time as fallback.
func (s *Store) UnreportedInvoices(year, month int) ([]Invoice, error) {
	var invoices []Invoice
	err := s.db.
		Where("year = ? AND month = ? AND reported = ?", year, month, false).
		Order("COALESCE(NULLIF(invoice_date, ''), received_at) ASC").
		Find(&invoices).Error
	if err != nil {
		return nil, fmt.Errorf("query unreported invoices: %w", err)
	}
	slog.Info("unreported invoices queried", "year", year, "month", month, "count", len(invoices))
	return invoices, nil
}

// MarkReported flags invoices as included in a sent report.
func (s *Store) MarkReported(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.Model(&Invoice{}).Where("id IN ?", ids).Update("reported", true).Error
	if err != nil {
		return fmt.Errorf("mark invoices reported: %w", err)
	}
	slog.Info("invoices marked reported", "count", len(ids))
	return nil
}

// ReportSent reports whether the monthly report for a period went out.
func (s *Store) ReportSent(year, month int) (bool, error) {
	var count int64
	err := s.db.Model(&MonthlyReport{}).Where("year = ? AND month = ?", year, month).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("query report marker: %w", err)
	}
	return count > 0, nil
}

// MarkReportSent records the report marker for a period, idempotently.
func (s *Store) MarkReportSent(year, month int) error {
	rec := MonthlyReport{Year: year, Month: month, SentAt: time.Now().UTC()}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("mark report sent: %w", err)
	}
	return nil
}
