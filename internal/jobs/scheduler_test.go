package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"VersotechFeeEngine/internal/config"
	"VersotechFeeEngine/internal/invoicing"
	"VersotechFeeEngine/internal/matching"
	"VersotechFeeEngine/internal/model"

	"github.com/stretchr/testify/require"
)

type stubMatcher struct {
	calls int
	err   error
}

func (m *stubMatcher) RunUnmatched(context.Context) (matching.Summary, error) {
	m.calls++
	return matching.Summary{Evaluated: 4, Pending: 1}, m.err
}

type stubInvoices struct {
	asOf    []time.Time
	overdue int
}

func (s *stubInvoices) GenerateDue(_ context.Context, asOf time.Time) ([]invoicing.Result, error) {
	s.asOf = append(s.asOf, asOf)
	return []invoicing.Result{{Invoices: []model.Invoice{{ID: "i-1"}, {ID: "i-2"}}}}, nil
}

func (s *stubInvoices) MarkOverdue(_ context.Context, asOf time.Time) (int, error) {
	s.asOf = append(s.asOf, asOf)
	return s.overdue, nil
}

func TestJobsUseInjectedClock(t *testing.T) {
	at := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	inv := &stubInvoices{overdue: 3}
	svc := NewCronService(config.Default(), &stubMatcher{}, inv)
	svc.now = func() time.Time { return at }

	require.NoError(t, svc.RunInvoiceRun(context.Background()))
	require.NoError(t, svc.RunOverdueSweep(context.Background()))
	require.Equal(t, []time.Time{at, at}, inv.asOf)
}

func TestMatchPassWrapsErrors(t *testing.T) {
	m := &stubMatcher{err: errors.New("store down")}
	svc := NewCronService(config.Default(), m, &stubInvoices{})
	err := svc.RunMatchPass(context.Background())
	require.ErrorContains(t, err, "match pass")
	require.Equal(t, 1, m.calls)
}

func TestStartRegistersSchedules(t *testing.T) {
	cfg := config.Default()
	cfg.TimeZone = "Europe/Luxembourg"
	svc := NewCronService(cfg, &stubMatcher{}, &stubInvoices{})
	require.NoError(t, svc.Start())
	require.Len(t, svc.cron.Entries(), 3)
	require.Equal(t, "Europe/Luxembourg", svc.cron.Location().String())
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	cfg := config.Default()
	cfg.MatchSchedule = "every now and then"
	svc := NewCronService(cfg, &stubMatcher{}, &stubInvoices{})
	require.ErrorContains(t, svc.Start(), "match_pass")
}
