package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/identity"
	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/identity/ids"
)

// Service is the one-time code lifecycle manager.
type Service struct {
	cfg     Config
	store   Store
	log     *slog.Logger
	metrics *Metrics
	rand    io.Reader

	testNumbers map[string]struct{}
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService validates cfg and returns a Service over store.
// Test numbers are normalized once here so lookups compare E.164 strings.
func NewService(cfg Config, store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("otp: nil store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:         cfg,
		store:       store,
		log:         slog.Default(),
		rand:        rand.Reader,
		testNumbers: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if cfg.TestNumbersEnabled {
		for _, raw := range cfg.TestNumbers {
			p, err := identity.NormalizePhone(raw, cfg.DefaultRegion)
			if err != nil {
				return nil, fmt.Errorf("%w: test number %q", ErrConfig, raw)
			}
			s.testNumbers[p] = struct{}{}
		}
		s.log.Warn("otp.test_numbers.enabled", "count", len(s.testNumbers))
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// IsTestNumber reports whether phone (E.164) receives the fixed test code.
func (s *Service) IsTestNumber(phone string) bool {
	if !s.cfg.TestNumbersEnabled {
		return false
	}
	_, ok := s.testNumbers[phone]
	return ok
}

// Create issues a new code for phone+purpose.
//
// The returned Issued.Code is the only place the plaintext exists; it is
// never logged or stored.
func (s *Service) Create(ctx context.Context, now time.Time, in CreateInput) (Issued, error) {
	if !in.Purpose.Valid() {
		return Issued{}, fmt.Errorf("%w: purpose", ErrInvalidInput)
	}
	phone, err := identity.NormalizePhone(in.Phone, s.cfg.DefaultRegion)
	if err != nil {
		return Issued{}, fmt.Errorf("%w: phone", ErrInvalidInput)
	}
	now = now.UTC()

	n, oldest, err := s.store.CountOutstanding(ctx, phone, in.Purpose, now.Add(-s.cfg.RateLimitWindow), now)
	if err != nil {
		return Issued{}, err
	}
	if n >= s.cfg.RateLimitMax {
		retry := s.retryAfter(now, oldest)
		s.metrics.observeIssue(in.Purpose, "rate_limited")
		s.log.Warn("otp.create.rate_limited",
			"phone", MaskPhone(phone),
			"purpose", in.Purpose,
			"outstanding", n,
			"retry_after", retry.String(),
		)
		return Issued{}, &RateLimitError{RetryAfter: retry}
	}

	isTest := s.IsTestNumber(phone)
	var code string
	if isTest {
		code = s.cfg.TestCode
	} else {
		code, err = generateCode(s.rand, s.cfg.CodeLength)
		if err != nil {
			return Issued{}, err
		}
	}

	hash, err := s.cfg.Hash.Hash(code)
	if err != nil {
		return Issued{}, fmt.Errorf("otp: hash code: %w", err)
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}

	region := strings.TrimSpace(in.Region)
	rec := Code{
		ID:             id,
		Phone:          phone,
		Purpose:        in.Purpose,
		CodeHash:       hash,
		ExpiresAt:      now.Add(s.cfg.TTL),
		MaxAttempts:    s.cfg.MaxAttempts,
		Region:         region,
		Channel:        ChannelSMS,
		DispatchStatus: DispatchPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		s.metrics.observeIssue(in.Purpose, "error")
		return Issued{}, err
	}

	s.metrics.observeIssue(in.Purpose, "ok")
	attrs := []any{
		"otp_id", id,
		"phone", MaskPhone(phone),
		"purpose", in.Purpose,
		"expires_at", rec.ExpiresAt,
		"test_number", isTest,
	}
	if len(in.Metadata) > 0 {
		attrs = append(attrs, "metadata", in.Metadata)
	}
	s.log.Info("otp.create.ok", attrs...)

	return Issued{
		ID:           id,
		Code:         code,
		Phone:        phone,
		Purpose:      in.Purpose,
		Region:       region,
		ExpiresAt:    rec.ExpiresAt,
		IsTestNumber: isTest,
	}, nil
}

// retryAfter estimates when the oldest counted code stops counting,
// which is whichever comes first of its expiry or leaving the window.
func (s *Service) retryAfter(now, oldest time.Time) time.Duration {
	if oldest.IsZero() {
		return s.cfg.RateLimitWindow
	}
	horizon := s.cfg.RateLimitWindow
	if s.cfg.TTL < horizon {
		horizon = s.cfg.TTL
	}
	d := oldest.Add(horizon).Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Verify checks code against the newest outstanding record for phone+purpose.
//
// Outcomes, in order: no record (ErrNotFound), expired (ErrExpired),
// attempts exhausted (ErrMaxAttemptsExceeded), mismatch (ErrInvalid, attempt
// counted), match (consumed, Valid). Failures are *VerifyError values.
func (s *Service) Verify(ctx context.Context, now time.Time, in VerifyInput) (VerifyResult, error) {
	if !in.Purpose.Valid() {
		return VerifyResult{}, fmt.Errorf("%w: purpose", ErrInvalidInput)
	}
	phone, err := identity.NormalizePhone(in.Phone, s.cfg.DefaultRegion)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%w: phone", ErrInvalidInput)
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return VerifyResult{}, fmt.Errorf("%w: code", ErrInvalidInput)
	}
	now = now.UTC()

	rec, err := s.store.Attempt(ctx, phone, in.Purpose, func(c Code) (Mutation, error) {
		if !c.Usable(now) {
			if !now.Before(c.ExpiresAt) {
				return Mutation{}, &VerifyError{Kind: ErrExpired}
			}
			return Mutation{}, &VerifyError{Kind: ErrMaxAttemptsExceeded}
		}

		ok, err := s.cfg.Hash.Verify(c.CodeHash, code)
		if err != nil {
			return Mutation{}, fmt.Errorf("otp: verify hash: %w", err)
		}
		if !ok {
			return Mutation{IncrementAttempts: true, At: now}, &VerifyError{
				Kind:              ErrInvalid,
				AttemptsRemaining: c.MaxAttempts - (c.Attempts + 1),
			}
		}
		return Mutation{Consume: true, At: now}, nil
	})

	var ve *VerifyError
	switch {
	case err == nil:
		s.metrics.observeVerify(in.Purpose, "ok")
		s.log.Info("otp.verify.ok", "otp_id", rec.ID, "phone", MaskPhone(phone), "purpose", in.Purpose)
		return VerifyResult{Valid: true, CodeID: rec.ID, Phone: phone}, nil
	case errors.As(err, &ve):
		s.metrics.observeVerify(in.Purpose, outcomeLabel(ve.Kind))
		s.log.Info("otp.verify.rejected",
			"otp_id", rec.ID,
			"phone", MaskPhone(phone),
			"purpose", in.Purpose,
			"reason", ve.Kind.Error(),
			"attempts", rec.Attempts,
		)
		return VerifyResult{}, ve
	case errors.Is(err, ErrNotFound):
		s.metrics.observeVerify(in.Purpose, "not_found")
		return VerifyResult{}, &VerifyError{Kind: ErrNotFound}
	default:
		s.metrics.observeVerify(in.Purpose, "error")
		s.log.Error("otp.verify.error", "phone", MaskPhone(phone), "purpose", in.Purpose, "err", err)
		return VerifyResult{}, err
	}
}

func outcomeLabel(kind error) string {
	switch {
	case errors.Is(kind, ErrExpired):
		return "expired"
	case errors.Is(kind, ErrMaxAttemptsExceeded):
		return "max_attempts"
	case errors.Is(kind, ErrInvalid):
		return "invalid"
	default:
		return "not_found"
	}
}

// SetDispatchStatus records delivery progress for a code. It has no effect
// on verification.
func (s *Service) SetDispatchStatus(ctx context.Context, now time.Time, id string, status DispatchStatus, providerMessageID string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: dispatch status %q", ErrInvalidInput, status)
	}
	if err := s.store.SetDispatchStatus(ctx, now.UTC(), id, status, providerMessageID); err != nil {
		return err
	}
	s.log.Debug("otp.dispatch.status", "otp_id", id, "status", status, "provider_message_id", providerMessageID)
	return nil
}

// Get loads a code record by id.
func (s *Service) Get(ctx context.Context, id string) (Code, error) {
	return s.store.Get(ctx, id)
}

// MaskPhone keeps the country prefix and last four digits for logs.
func MaskPhone(phone string) string {
	if len(phone) <= 8 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:4] + strings.Repeat("*", len(phone)-8) + phone[len(phone)-4:]
}
