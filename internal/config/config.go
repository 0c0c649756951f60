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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the invoice bot.
type Config struct {
	// Microsoft Graph (delegated device-code auth)
	ClientID string

	// Classifier
	ClassifierAPIKey    string
	ClassifierBaseURL   string
	ClassifierModel     string
	ConfidenceThreshold float64
	OwnerBusinessNames  []string

	// Mail filtering
	WhitelistedSenders []string
	SubjectKeywords    []string
	LinkKeywords       []string
	SenderSuppliers    map[string]string // sender address -> canonical supplier name

	// Drive (object store)
	RootFolderName string

	// Reporting
	AccountantEmail string
	HomeCurrency    string

	// Schedule
	PollInterval time.Duration
	ReportSpec   string // cron expression for the monthly report job

	// Runtime
	DataDir   string
	SinceDate string // ISO 8601 date floor for scans; empty = no floor
	PageSize  int
	LogLevel  string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Microsoft struct {
		ClientID string `yaml:"client_id"`
	} `yaml:"microsoft"`
	Classifier struct {
		APIKey              string   `yaml:"api_key"`
		BaseURL             string   `yaml:"base_url"`
		Model               string   `yaml:"model"`
		ConfidenceThreshold float64  `yaml:"confidence_threshold"`
		OwnerBusinessNames  []string `yaml:"owner_business_names"`
	} `yaml:"classifier"`
	Invoices struct {
		WhitelistedSenders []string          `yaml:"whitelisted_senders"`
		SubjectKeywords    []string          `yaml:"subject_keywords"`
		SenderSuppliers    map[string]string `yaml:"sender_suppliers"`
	} `yaml:"invoices"`
	LinkDetection struct {
		Keywords []string `yaml:"keywords"`
	} `yaml:"link_detection"`
	Drive struct {
		FolderName string `yaml:"folder_name"`
	} `yaml:"drive"`
	Accountant struct {
		Email string `yaml:"email"`
	} `yaml:"accountant"`
	Reporting struct {
		HomeCurrency string `yaml:"home_currency"`
	} `yaml:"reporting"`
	Schedule struct {
		PollIntervalMinutes int    `yaml:"poll_interval_minutes"`
		ReportCron          string `yaml:"report_cron"`
	} `yaml:"schedule"`
	Logging struct {
		LogLevel string `yaml:"log_level"`
	} `yaml:"logging"`
	Debug struct {
		SinceDate string `yaml:"since_date"`
	} `yaml:"debug"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. Required fields are validated
// here so a misconfigured deployment fails at startup, not mid-run.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		ClientID:            firstNonEmpty(envOrDefault("AZURE_CLIENT_ID", ""), raw.Microsoft.ClientID),
		ClassifierAPIKey:    firstNonEmpty(envOrDefault("CLASSIFIER_API_KEY", ""), raw.Classifier.APIKey),
		ClassifierBaseURL:   firstNonEmpty(raw.Classifier.BaseURL, "https://api.anthropic.com"),
		ClassifierModel:     firstNonEmpty(raw.Classifier.Model, "claude-haiku-4-5"),
		ConfidenceThreshold: raw.Classifier.ConfidenceThreshold,
		OwnerBusinessNames:  lowered(raw.Classifier.OwnerBusinessNames),
		WhitelistedSenders:  lowered(raw.Invoices.WhitelistedSenders),
		SubjectKeywords:     lowered(raw.Invoices.SubjectKeywords),
		LinkKeywords:        lowered(raw.LinkDetection.Keywords),
		SenderSuppliers:     loweredKeys(raw.Invoices.SenderSuppliers),
		RootFolderName:      raw.Drive.FolderName,
		AccountantEmail:     raw.Accountant.Email,
		HomeCurrency:        firstNonEmpty(raw.Reporting.HomeCurrency, "EUR"),
		PollInterval:        envOrDefaultDuration("POLL_INTERVAL", time.Duration(raw.Schedule.PollIntervalMinutes)*time.Minute),
		ReportSpec:          firstNonEmpty(raw.Schedule.ReportCron, "0 8 1 * *"),
		DataDir:             envOrDefault("DATA_DIR", "/app/data"),
		SinceDate:           raw.Debug.SinceDate,
		PageSize:            envOrDefaultInt("PAGE_SIZE", 50),
		LogLevel:            firstNonEmpty(raw.Logging.LogLevel, "INFO"),
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Hour
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.5
	}

	if cfg.ClientID == "" || cfg.ClientID == "YOUR_CLIENT_ID_HERE" {
		return nil, fmt.Errorf("microsoft.client_id is required — set it in config.yaml or AZURE_CLIENT_ID")
	}
	if cfg.RootFolderName == "" {
		return nil, fmt.Errorf("drive.folder_name is required")
	}
	if cfg.AccountantEmail == "" {
		return nil, fmt.Errorf("accountant.email is required")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func lowered(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func loweredKeys(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}
