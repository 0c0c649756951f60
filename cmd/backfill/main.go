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

// Invoice Bot — Historical Backfill Command
//
// Standalone CLI tool that walks the mailbox from a given date and runs the
// same classification and routing as the live bot. Already-processed
// messages are skipped through the tracking database. Never creates report
// drafts.
//
// Usage:
//
//	go run ./cmd/backfill/ [--since 2025-01-01] [--dry-run]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/facturier/invoicebot/internal/auth"
	"github.com/facturier/invoicebot/internal/classifier"
	"github.com/facturier/invoicebot/internal/config"
	"github.com/facturier/invoicebot/internal/drive"
	"github.com/facturier/invoicebot/internal/graph"
	"github.com/facturier/invoicebot/internal/linkfetch"
	"github.com/facturier/invoicebot/internal/pipeline"
	"github.com/facturier/invoicebot/internal/scanner"
	"github.com/facturier/invoicebot/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	sinceFlag := flag.String("since", "", "Only process emails received on or after this date (YYYY-MM-DD; defaults to debug.since_date in config.yaml)")
	dryRun := flag.Bool("dry-run", false, "Log what would be processed without uploading or writing to the DB")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Resolve --since: CLI flag beats config, empty means full history.
	sinceRaw := *sinceFlag
	if sinceRaw == "" {
		sinceRaw = cfg.SinceDate
	}
	var since time.Time
	if sinceRaw != "" {
		since, err = time.Parse("2006-01-02", sinceRaw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --since value %q (expected YYYY-MM-DD)\n", sinceRaw)
			os.Exit(1)
		}
		slog.Info("date filter active", "since", sinceRaw)
	} else {
		slog.Info("no date filter, processing full inbox history")
	}
	if *dryRun {
		slog.Info("dry run, nothing will be uploaded or written")
	}

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens := auth.NewAuthenticator(cfg.ClientID, cfg.DataDir)
	client := graph.NewClient(tokens, graph.DefaultBaseURL)
	if _, err := tokens.Token(ctx); err != nil {
		slog.Error("authentication failed", "error", err)
		os.Exit(1)
	}

	scan := scanner.New(client, linkfetch.NewResolver())

	slog.Info("fetching emails, this may take a while")
	messages, err := scan.Scan(ctx, scanner.Options{
		Since:              since,
		WhitelistedSenders: cfg.WhitelistedSenders,
		SubjectKeywords:    cfg.SubjectKeywords,
		LinkKeywords:       cfg.LinkKeywords,
		PageSize:           cfg.PageSize,
	})
	if err != nil {
		slog.Error("scan failed", "error", err)
		os.Exit(1)
	}
	if len(messages) == 0 {
		slog.Info("no matching emails found")
		return
	}
	slog.Info("emails found", "count", len(messages))

	if *dryRun {
		shown := 0
		for _, msg := range messages {
			processed, err := db.IsProcessed(msg.ID)
			if err != nil {
				slog.Error("dedup lookup failed", "message_id", msg.ID, "error", err)
				continue
			}
			if processed {
				continue
			}
			for _, doc := range msg.Documents {
				filename := drive.BuildFilename(msg.ReceivedAt, msg.Sender, doc.Name, "", "")
				slog.Info("would process",
					"name", doc.Name,
					"destination", fmt.Sprintf("%s/YYYY/MM/%s", cfg.RootFolderName, filename),
				)
				shown++
			}
		}
		fmt.Printf("\nDry run complete: %d document(s) would be processed.\n", shown)
		return
	}

	clf := classifier.New(classifier.Config{
		APIKey:             cfg.ClassifierAPIKey,
		BaseURL:            cfg.ClassifierBaseURL,
		Model:              cfg.ClassifierModel,
		Threshold:          cfg.ConfidenceThreshold,
		OwnerBusinessNames: cfg.OwnerBusinessNames,
	})
	uploader := drive.NewUploader(client, cfg.RootFolderName)
	pipe := pipeline.New(clf, uploader, db, cfg.SenderSuppliers)

	stats := pipe.Run(ctx, messages)

	// --- Summary ---
	fmt.Println()
	fmt.Println("============================================================")
	fmt.Println("Backfill complete")
	fmt.Printf("  Emails found:          %d\n", len(messages))
	fmt.Printf("  Already processed:     %d\n", stats.Skipped)
	fmt.Printf("  New invoices uploaded: %d\n", stats.Invoices)
	fmt.Printf("  Sent to review:        %d\n", stats.Reviews+stats.Rejected)
	if stats.Failures > 0 {
		fmt.Printf("  Errors:                %d\n", stats.Failures)
	}
	fmt.Println("============================================================")
}
