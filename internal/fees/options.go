package fees

import (
	"time"

	"VersotechFeeEngine/internal/metrics"
	"VersotechFeeEngine/internal/model"
)

type options struct {
	now     func() time.Time
	metrics *metrics.Engine
	audit   model.AuditSink
	newID   func() string
	// dayCount applies to plans created without a convention.
	dayCount model.DayCount
}

// Option configures the fee services.
type Option func(*options)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMetrics(m *metrics.Engine) Option {
	return func(o *options) { o.metrics = m }
}

func WithAudit(a model.AuditSink) Option {
	return func(o *options) { o.audit = a }
}

// WithIDs overrides id generation, mostly for tests.
func WithIDs(gen func() string) Option {
	return func(o *options) { o.newID = gen }
}

func WithDefaultDayCount(d model.DayCount) Option {
	return func(o *options) {
		if d != "" {
			o.dayCount = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:      func() time.Time { return time.Now().UTC() },
		audit:    model.NopAudit{},
		newID:    newUUID,
		dayCount: model.DayCountActual365,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
