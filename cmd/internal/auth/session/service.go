package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/security/token"

	"github.com/google/uuid"
)

// maxTokenLen bounds presented tokens before any parsing work.
const maxTokenLen = 4096

// Pair is an access + refresh token pair.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Service issues, rotates and revokes sessions.
type Service struct {
	cfg     Config
	signer  Signer
	store   Store
	hasher  token.Hasher
	log     *slog.Logger
	metrics *Metrics
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

// NewService constructs a Service.
func NewService(cfg Config, signer Signer, store Store, hasher token.Hasher, opts ...Option) (*Service, error) {
	if signer == nil || store == nil {
		return nil, fmt.Errorf("session: nil signer or store")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, ErrConfig
	}
	s := &Service{
		cfg:    cfg,
		signer: signer,
		store:  store,
		hasher: hasher,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *Service) mint(now time.Time, subject string) (Pair, error) {
	now = now.UTC().Truncate(time.Second)
	accessExp := now.Add(s.cfg.AccessTokenTTL)
	refreshExp := now.Add(s.cfg.RefreshTokenTTL)

	access, err := s.signer.Sign(Claims{
		Subject:   subject,
		Type:      TokenAccess,
		ID:        uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: accessExp,
	})
	if err != nil {
		return Pair{}, fmt.Errorf("session: sign access: %w", err)
	}
	refresh, err := s.signer.Sign(Claims{
		Subject:   subject,
		Type:      TokenRefresh,
		ID:        uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: refreshExp,
	})
	if err != nil {
		return Pair{}, fmt.Errorf("session: sign refresh: %w", err)
	}

	return Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Issue mints a new pair for subject and makes its refresh token the only
// valid one, replacing any previous session.
func (s *Service) Issue(ctx context.Context, now time.Time, subject string) (Pair, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Pair{}, ErrUnknownSubject
	}

	pair, err := s.mint(now, subject)
	if err != nil {
		return Pair{}, err
	}
	if err := s.store.SetRefreshHash(ctx, subject, s.hasher.Hash(pair.RefreshToken)); err != nil {
		return Pair{}, err
	}

	s.metrics.inc("issued")
	s.log.Info("session.issued", "user_id", subject, "refresh_expires_at", pair.RefreshExpiresAt)
	return pair, nil
}

// Refresh rotates a refresh token.
//
// The stored hash is swapped from hash(presented) to hash(new) in one atomic
// step. If the swap fails while a session exists, the presented token is
// stale: the session is revoked and ErrTokenReuseDetected is returned.
// Of two concurrent refreshes with the same token, one wins and the other
// revokes the winner's session.
func (s *Service) Refresh(ctx context.Context, now time.Time, presented string) (Pair, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" || len(presented) > maxTokenLen {
		return Pair{}, ErrTokenInvalid
	}

	claims, err := s.signer.Parse(presented, now)
	if err != nil {
		s.metrics.inc("refresh_rejected")
		return Pair{}, err
	}
	if claims.Type != TokenRefresh {
		s.metrics.inc("refresh_rejected")
		return Pair{}, ErrTokenInvalid
	}

	pair, err := s.mint(now, claims.Subject)
	if err != nil {
		return Pair{}, err
	}

	swapped, err := s.store.SwapRefreshHash(ctx, claims.Subject, s.hasher.Hash(presented), s.hasher.Hash(pair.RefreshToken))
	if err != nil {
		return Pair{}, err
	}
	if swapped {
		s.metrics.inc("rotated")
		s.log.Info("session.refresh.rotated", "user_id", claims.Subject)
		return pair, nil
	}

	_, exists, err := s.store.GetRefreshHash(ctx, claims.Subject)
	if err != nil {
		return Pair{}, err
	}
	if !exists {
		s.metrics.inc("refresh_no_session")
		return Pair{}, ErrNoSession
	}

	if err := s.store.ClearRefreshHash(ctx, claims.Subject); err != nil {
		return Pair{}, err
	}
	s.metrics.inc("reuse_detected")
	s.log.Warn("session.refresh.reuse_detected", "user_id", claims.Subject, "jti", claims.ID)
	return Pair{}, ErrTokenReuseDetected
}

// Logout revokes the subject's session. Idempotent.
func (s *Service) Logout(ctx context.Context, subject string) error {
	if err := s.store.ClearRefreshHash(ctx, subject); err != nil {
		return err
	}
	s.metrics.inc("logout")
	s.log.Info("session.logout", "user_id", subject)
	return nil
}

// ValidateAccess verifies an access token and that its subject still has a session.
func (s *Service) ValidateAccess(ctx context.Context, now time.Time, tok string) (Claims, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" || len(tok) > maxTokenLen {
		return Claims{}, ErrTokenInvalid
	}

	claims, err := s.signer.Parse(tok, now)
	if err != nil {
		return Claims{}, err
	}
	if claims.Type != TokenAccess {
		return Claims{}, ErrTokenInvalid
	}

	_, ok, err := s.store.GetRefreshHash(ctx, claims.Subject)
	if err != nil {
		return Claims{}, err
	}
	if !ok {
		return Claims{}, ErrNoSession
	}
	return claims, nil
}
