package service

import (
	"time"

	"github.com/rl1809/crop-market/internal/core/domain"
	"github.com/rl1809/crop-market/internal/platform/logger"
	"github.com/rl1809/crop-market/internal/platform/validation"
	"github.com/rl1809/crop-market/internal/port"
)

type options struct {
	guard       domain.AcceptGuard
	idempotency port.IdempotencyRepository
	now         func() time.Time
	log         *logger.Logger
	validator   *validation.Validator
}

type Option func(*options)

func WithAcceptGuard(g domain.AcceptGuard) Option {
	return func(o *options) { o.guard = g }
}

// WithIdempotency enables Idempotency-Key handling on submit.
func WithIdempotency(repo port.IdempotencyRepository) Option {
	return func(o *options) { o.idempotency = repo }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithValidator(v *validation.Validator) Option {
	return func(o *options) { o.validator = v }
}

func buildOptions(opts []Option) options {
	o := options{
		guard: domain.AcceptGuardStrict,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.NewNop()
	}
	if o.validator == nil {
		o.validator = validation.New()
	}
	return o
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.StatsEvent) bool { return false }
