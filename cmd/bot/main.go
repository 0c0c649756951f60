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

// Invoice Bot — Mailbox ingestion service
//
// Entry point for the invoice bot. It:
//  1. Loads configuration from config.yaml
//  2. Opens the SQLite tracking database
//  3. Authenticates against Microsoft via the device code flow
//  4. Polls the mailbox on an interval, routing documents to OneDrive
//  5. Builds a monthly report draft on a cron schedule
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/facturier/invoicebot/internal/auth"
	"github.com/facturier/invoicebot/internal/classifier"
	"github.com/facturier/invoicebot/internal/config"
	"github.com/facturier/invoicebot/internal/drive"
	"github.com/facturier/invoicebot/internal/graph"
	"github.com/facturier/invoicebot/internal/linkfetch"
	"github.com/facturier/invoicebot/internal/pipeline"
	"github.com/facturier/invoicebot/internal/report"
	"github.com/facturier/invoicebot/internal/scanner"
	"github.com/facturier/invoicebot/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("invoice bot starting up",
		"poll_interval", cfg.PollInterval,
		"report_cron", cfg.ReportSpec,
		"drive_folder", cfg.RootFolderName,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("could not create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	tokens := auth.NewAuthenticator(cfg.ClientID, cfg.DataDir)
	client := graph.NewClient(tokens, graph.DefaultBaseURL)

	// Force the device flow up front so the operator sees the login prompt
	// at startup rather than mid-poll.
	if _, err := tokens.Token(ctx); err != nil {
		slog.Error("authentication failed", "error", err)
		os.Exit(1)
	}
	slog.Info("authenticated against Microsoft Graph")

	scan := scanner.New(client, linkfetch.NewResolver())
	clf := classifier.New(classifier.Config{
		APIKey:             cfg.ClassifierAPIKey,
		BaseURL:            cfg.ClassifierBaseURL,
		Model:              cfg.ClassifierModel,
		Threshold:          cfg.ConfidenceThreshold,
		OwnerBusinessNames: cfg.OwnerBusinessNames,
	})
	uploader := drive.NewUploader(client, cfg.RootFolderName)
	pipe := pipeline.New(clf, uploader, db, cfg.SenderSuppliers)
	reporter := report.NewReporter(client, uploader, db, report.Config{
		AccountantEmail: cfg.AccountantEmail,
		HomeCurrency:    cfg.HomeCurrency,
	})

	var since time.Time
	if cfg.SinceDate != "" {
		since, err = time.Parse("2006-01-02", cfg.SinceDate)
		if err != nil {
			slog.Error("invalid since_date", "value", cfg.SinceDate, "error", err)
			os.Exit(1)
		}
		slog.Info("date floor active", "since", cfg.SinceDate)
	}

	poll := func() {
		runID := uuid.NewString()
		log := slog.With("run_id", runID)
		log.Info("poll start")

		messages, err := scan.Scan(ctx, scanner.Options{
			Since:              since,
			WhitelistedSenders: cfg.WhitelistedSenders,
			SubjectKeywords:    cfg.SubjectKeywords,
			LinkKeywords:       cfg.LinkKeywords,
			PageSize:           cfg.PageSize,
		})
		if err != nil {
			log.Error("scan failed", "error", err)
			return
		}

		stats := pipe.Run(ctx, messages)
		log.Info("poll complete",
			"messages", stats.Messages,
			"skipped", stats.Skipped,
			"new_invoices", stats.Invoices,
			"reviews", stats.Reviews,
			"failures", stats.Failures,
		)
	}

	// Monthly report on its cron schedule.
	sched := cron.New(cron.WithLocation(time.UTC))
	if _, err := sched.AddFunc(cfg.ReportSpec, func() {
		runID := uuid.NewString()
		log := slog.With("run_id", runID)
		if err := reporter.Run(ctx, time.Now()); err != nil {
			log.Error("monthly report failed", "error", err)
		}
	}); err != nil {
		slog.Error("invalid report cron expression", "spec", cfg.ReportSpec, "error", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	slog.Info("scheduler started",
		"poll_interval", cfg.PollInterval,
		"report_cron", cfg.ReportSpec,
	)

	// Poll immediately on start, then on the interval.
	poll()
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received, stopping")
			return
		case <-ticker.C:
			poll()
		}
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
