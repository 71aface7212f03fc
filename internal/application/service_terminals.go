package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sokopay/facepay-core/internal/domain"
	"github.com/sokopay/facepay-core/internal/ports"
)

// terminalLockoutKey namespaces terminal credential failures separately from
// identity match failures in the shared store.
func terminalLockoutKey(terminalID string) string {
	return "terminal:" + terminalID
}

// IssueTerminalToken authenticates a checkout terminal by id and secret and
// returns a short-lived signed token. Failed attempts count toward a
// per-terminal lockout in the same store that guards identity matching.
func (s *Service) IssueTerminalToken(ctx context.Context, req TerminalTokenRequest) (TerminalTokenResponse, error) {
	if req.TerminalID == "" || req.Secret == "" {
		return TerminalTokenResponse{}, fmt.Errorf("%w: terminal_id and secret are required", domain.ErrInvalidInput)
	}

	now := s.nowFn()
	state, err := s.lockouts.Get(ctx, terminalLockoutKey(req.TerminalID))
	if err != nil {
		return TerminalTokenResponse{}, fmt.Errorf("lockout lookup: %w", err)
	}
	if state.LockedUntil != nil && state.LockedUntil.After(now) {
		return TerminalTokenResponse{}, domain.ErrRateLimited
	}

	terminal, err := s.terminals.GetByID(ctx, req.TerminalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.recordTerminalFailure(ctx, req.TerminalID, now)
			return TerminalTokenResponse{}, domain.ErrUnauthorized
		}
		return TerminalTokenResponse{}, err
	}
	if !terminal.IsActive {
		return TerminalTokenResponse{}, domain.ErrUnauthorized
	}
	if err := s.hasher.Compare(terminal.SecretHash, req.Secret); err != nil {
		s.recordTerminalFailure(ctx, req.TerminalID, now)
		return TerminalTokenResponse{}, domain.ErrUnauthorized
	}

	if err := s.lockouts.Clear(ctx, terminalLockoutKey(req.TerminalID)); err != nil {
		slog.Default().WarnContext(ctx, "failed to clear terminal lockout",
			"service", serviceName,
			"module", "application",
			"layer", "application",
			"operation", "issue_terminal_token",
			"outcome", "warning",
			"terminal_id", req.TerminalID,
			"error", err,
		)
	}

	token, err := s.tokenSigner.Sign(ports.TerminalClaims{
		TerminalID: terminal.TerminalID,
		StoreID:    terminal.StoreID,
		Operator:   terminal.IsOperator,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.cfg.TerminalTokenTTL),
	})
	if err != nil {
		return TerminalTokenResponse{}, fmt.Errorf("sign token: %w", err)
	}
	return TerminalTokenResponse{
		Token:     token,
		ExpiresIn: int64(s.cfg.TerminalTokenTTL.Seconds()),
	}, nil
}

// AuthenticateToken validates a terminal bearer token for the HTTP and gRPC
// adapters.
func (s *Service) AuthenticateToken(_ context.Context, token string) (ports.TerminalClaims, error) {
	claims, err := s.tokenSigner.ParseAndValidate(token)
	if err != nil {
		return ports.TerminalClaims{}, domain.ErrUnauthorized
	}
	return claims, nil
}

// PublicJWKs exposes the token verification keys for sibling services.
func (s *Service) PublicJWKs() ([]map[string]any, error) {
	return s.tokenSigner.PublicJWKs()
}

// ListFraudAlerts is the operator read over stored alerts, newest first.
func (s *Service) ListFraudAlerts(ctx context.Context, limit, offset int, severity string) ([]FraudAlertItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	alerts, err := s.fraudAlerts.List(ctx, limit, offset, severity)
	if err != nil {
		return nil, fmt.Errorf("list fraud alerts: %w", err)
	}
	items := make([]FraudAlertItem, 0, len(alerts))
	for _, alert := range alerts {
		items = append(items, FraudAlertItem{
			AlertID:    alert.AlertID,
			Rule:       alert.Rule,
			Severity:   alert.Severity,
			IdentityID: alert.IdentityID,
			SessionID:  alert.SessionID,
			StoreID:    alert.StoreID,
			Evidence:   string(alert.Evidence),
			CreatedAt:  alert.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) recordTerminalFailure(ctx context.Context, terminalID string, now time.Time) {
	if _, err := s.lockouts.RecordFailure(ctx, terminalLockoutKey(terminalID), now, s.cfg.FailedMatchThreshold, s.cfg.LockoutDuration); err != nil {
		slog.Default().WarnContext(ctx, "failed to record terminal credential failure",
			"service", serviceName,
			"module", "application",
			"layer", "application",
			"operation", "issue_terminal_token",
			"outcome", "warning",
			"terminal_id", terminalID,
			"error", err,
		)
	}
}
