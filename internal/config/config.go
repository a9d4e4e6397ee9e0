package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultTimeZone        = "UTC"
	DefaultMatchSchedule   = "*/15 * * * *"
	DefaultOverdueSchedule = "0 1 * * *"
	DefaultInvoiceSchedule = "0 2 1 * *"
	DefaultCurrency        = "USD"
	BatchSize              = 1000
)

// EngineConfig holds the tunables of the fee and reconciliation engine.
type EngineConfig struct {
	// Invoice generation
	InvoiceDueDays int
	InvoiceWorkers int
	DayCount       string

	// Auto-matcher weights and thresholds
	AmountWeight       float64
	CounterpartyWeight float64
	DateWeight         float64
	ReferenceBonus     float64
	HighThreshold      float64
	LowThreshold       float64
	AmountTolerance    float64
	DateWindowDays     int
	DateGraceDays      int
	MaxSuggestions     int

	// Approval workflow
	MaxApprovalRetries int

	// Commissions
	CommissionTermDays int

	// Scheduling
	TimeZone        string
	MatchSchedule   string
	OverdueSchedule string
	InvoiceSchedule string

	// Bank ingestion
	DefaultCurrency string

	// Raw import archive
	ArchiveEnabled bool
	ArchiveBucket  string
	ArchiveRegion  string
	ArchivePrefix  string
}

// Default returns the documented defaults.
func Default() EngineConfig {
	return EngineConfig{
		InvoiceDueDays:     30,
		InvoiceWorkers:     4,
		DayCount:           "ACT/365",
		AmountWeight:       0.60,
		CounterpartyWeight: 0.25,
		DateWeight:         0.15,
		ReferenceBonus:     0.10,
		HighThreshold:      0.85,
		LowThreshold:       0.50,
		AmountTolerance:    0.05,
		DateWindowDays:     45,
		DateGraceDays:      7,
		MaxSuggestions:     5,
		MaxApprovalRetries: 3,
		CommissionTermDays: 30,
		TimeZone:           DefaultTimeZone,
		MatchSchedule:      DefaultMatchSchedule,
		OverdueSchedule:    DefaultOverdueSchedule,
		InvoiceSchedule:    DefaultInvoiceSchedule,
		DefaultCurrency:    DefaultCurrency,
		ArchivePrefix:      "bank-imports/",
	}
}

// toInt accepts the shapes yaml.v3 decodes numbers into.
func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	}
	return false, false
}

// FromMap overlays a services.yaml config block on the defaults, then applies
// environment overrides.
func FromMap(m map[string]interface{}) (EngineConfig, error) {
	cfg := Default()
	ints := map[string]*int{
		"invoice_due_days":     &cfg.InvoiceDueDays,
		"invoice_workers":      &cfg.InvoiceWorkers,
		"date_window_days":     &cfg.DateWindowDays,
		"date_grace_days":      &cfg.DateGraceDays,
		"max_suggestions":      &cfg.MaxSuggestions,
		"max_approval_retries": &cfg.MaxApprovalRetries,
		"commission_term_days": &cfg.CommissionTermDays,
	}
	floats := map[string]*float64{
		"amount_weight":       &cfg.AmountWeight,
		"counterparty_weight": &cfg.CounterpartyWeight,
		"date_weight":         &cfg.DateWeight,
		"reference_bonus":     &cfg.ReferenceBonus,
		"high_threshold":      &cfg.HighThreshold,
		"low_threshold":       &cfg.LowThreshold,
		"amount_tolerance":    &cfg.AmountTolerance,
	}
	strs := map[string]*string{
		"day_count":        &cfg.DayCount,
		"timezone":         &cfg.TimeZone,
		"match_schedule":   &cfg.MatchSchedule,
		"overdue_schedule": &cfg.OverdueSchedule,
		"invoice_schedule": &cfg.InvoiceSchedule,
		"default_currency": &cfg.DefaultCurrency,
		"archive_bucket":   &cfg.ArchiveBucket,
		"archive_region":   &cfg.ArchiveRegion,
		"archive_prefix":   &cfg.ArchivePrefix,
	}

	for k, v := range m {
		if dst, ok := ints[k]; ok {
			n, ok := toInt(v)
			if !ok {
				return cfg, fmt.Errorf("config %s: expected integer, got %v", k, v)
			}
			*dst = n
		} else if dst, ok := floats[k]; ok {
			f, ok := toFloat(v)
			if !ok {
				return cfg, fmt.Errorf("config %s: expected number, got %v", k, v)
			}
			*dst = f
		} else if dst, ok := strs[k]; ok {
			*dst = fmt.Sprint(v)
		} else if k == "archive_enabled" {
			b, ok := toBool(v)
			if !ok {
				return cfg, fmt.Errorf("config %s: expected bool, got %v", k, v)
			}
			cfg.ArchiveEnabled = b
		}
	}

	for key, dst := range ints {
		if n, ok := toInt(os.Getenv(strings.ToUpper(key))); ok {
			*dst = n
		}
	}
	for key, dst := range floats {
		if raw := os.Getenv(strings.ToUpper(key)); raw != "" {
			if f, ok := toFloat(raw); ok {
				*dst = f
			}
		}
	}
	for key, dst := range strs {
		if raw := strings.TrimSpace(os.Getenv(strings.ToUpper(key))); raw != "" {
			*dst = raw
		}
	}
	if raw := os.Getenv("ARCHIVE_ENABLED"); raw != "" {
		if b, ok := toBool(raw); ok {
			cfg.ArchiveEnabled = b
		}
	}
	return cfg, cfg.Validate()
}

// Validate rejects inconsistent thresholds and weights.
func (c EngineConfig) Validate() error {
	if c.LowThreshold < 0 || c.HighThreshold > 1 || c.LowThreshold >= c.HighThreshold {
		return fmt.Errorf("match thresholds must satisfy 0 <= low < high <= 1 (low=%.2f high=%.2f)", c.LowThreshold, c.HighThreshold)
	}
	if c.AmountWeight < c.CounterpartyWeight || c.AmountWeight < c.DateWeight {
		return fmt.Errorf("amount weight must be the largest match weight")
	}
	if c.AmountTolerance <= 0 {
		return fmt.Errorf("amount_tolerance must be positive")
	}
	if c.InvoiceDueDays < 0 {
		return fmt.Errorf("invoice_due_days must not be negative")
	}
	if c.MaxApprovalRetries < 1 {
		return fmt.Errorf("max_approval_retries must be at least 1")
	}
	return nil
}
