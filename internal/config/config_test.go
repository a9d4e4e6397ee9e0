package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromMapOverlaysDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]interface{}{
		"invoice_due_days": 45,
		"high_threshold":   0.9,
		"low_threshold":    "0.4",
		"timezone":         "Europe/Luxembourg",
		"archive_enabled":  "true",
		"fx_rates":         map[string]interface{}{"EUR/USD": "1.1"},
	})
	require.NoError(t, err)
	require.Equal(t, 45, cfg.InvoiceDueDays)
	require.InDelta(t, 0.9, cfg.HighThreshold, 1e-9)
	require.InDelta(t, 0.4, cfg.LowThreshold, 1e-9)
	require.Equal(t, "Europe/Luxembourg", cfg.TimeZone)
	require.True(t, cfg.ArchiveEnabled)
	require.Equal(t, Default().AmountWeight, cfg.AmountWeight)
	require.Equal(t, DefaultCurrency, cfg.DefaultCurrency)
}

func TestEnvironmentWins(t *testing.T) {
	t.Setenv("INVOICE_DUE_DAYS", "14")
	t.Setenv("MATCH_SCHEDULE", "0 * * * *")
	cfg, err := FromMap(map[string]interface{}{"invoice_due_days": 45})
	require.NoError(t, err)
	require.Equal(t, 14, cfg.InvoiceDueDays)
	require.Equal(t, "0 * * * *", cfg.MatchSchedule)
}

func TestFromMapRejects(t *testing.T) {
	cases := []struct {
		name string
		in   map[string]interface{}
	}{
		{"non-numeric int", map[string]interface{}{"invoice_due_days": "soon"}},
		{"inverted thresholds", map[string]interface{}{"low_threshold": 0.9, "high_threshold": 0.8}},
		{"amount not heaviest", map[string]interface{}{"counterparty_weight": 0.7}},
		{"zero tolerance", map[string]interface{}{"amount_tolerance": 0}},
		{"no retries", map[string]interface{}{"max_approval_retries": 0}},
		{"bad bool", map[string]interface{}{"archive_enabled": "maybe"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromMap(tc.in)
			require.Error(t, err)
		})
	}
}
