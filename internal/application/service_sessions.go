package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/domain"
	"github.com/sokopay/facepay-core/internal/ports"
)

// OpenSession starts a new OPEN shopping session at a store.
func (s *Service) OpenSession(ctx context.Context, req OpenSessionRequest) (SessionView, error) {
	if req.StoreID == uuid.Nil {
		return SessionView{}, fmt.Errorf("%w: store_id is required", domain.ErrInvalidInput)
	}
	session, err := s.sessions.Create(ctx, req.StoreID, s.nowFn())
	if err != nil {
		return SessionView{}, fmt.Errorf("create session: %w", err)
	}
	return toSessionView(session, nil, s.cfg.Currency), nil
}

// GetSession returns the session with its cart lines and running total.
func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (SessionView, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	lines, err := s.sessions.ListLines(ctx, sessionID)
	if err != nil {
		return SessionView{}, fmt.Errorf("list cart lines: %w", err)
	}
	return toSessionView(session, lines, s.cfg.Currency), nil
}

// AddLine appends a product to an OPEN session's cart. The unit price is
// looked up from the catalog and captured on the line at add time; catalog
// price changes after this point never affect the line.
func (s *Service) AddLine(ctx context.Context, sessionID uuid.UUID, req AddLineRequest) (SessionView, error) {
	if req.Quantity <= 0 {
		return SessionView{}, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if session.Status != domain.SessionOpen {
		return SessionView{}, fmt.Errorf("%w: cannot add lines to a %s session", domain.ErrInvalidState, session.Status)
	}

	quote, err := s.catalog.GetPrice(ctx, req.ProductID)
	if err != nil {
		return SessionView{}, err
	}
	if _, err := s.sessions.AddLine(ctx, ports.AddLineParams{
		SessionID: sessionID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		UnitPrice: quote.UnitPrice,
		AddedAt:   s.nowFn(),
	}); err != nil {
		return SessionView{}, err
	}
	return s.GetSession(ctx, sessionID)
}

// BeginCheckout binds a verified identity to the session and moves it to
// AWAITING_PAYMENT. An empty cart cannot check out, and the bind is a single
// guarded update keyed on the OPEN status, so two terminals racing on the
// same session cannot both win.
func (s *Service) BeginCheckout(ctx context.Context, sessionID uuid.UUID, req CheckoutRequest) (SessionView, error) {
	if req.IdentityID == uuid.Nil {
		return SessionView{}, fmt.Errorf("%w: identity_id is required", domain.ErrInvalidInput)
	}
	identity, err := s.identities.GetByID(ctx, req.IdentityID)
	if err != nil {
		return SessionView{}, err
	}
	if identity.Status != domain.IdentityActive {
		return SessionView{}, domain.ErrIdentityRevoked
	}

	lines, err := s.sessions.ListLines(ctx, sessionID)
	if err != nil {
		return SessionView{}, fmt.Errorf("list cart lines: %w", err)
	}
	if len(lines) == 0 {
		return SessionView{}, fmt.Errorf("%w: cannot check out an empty cart", domain.ErrInvalidState)
	}

	moved, err := s.sessions.BindIdentity(ctx, sessionID, req.IdentityID, s.nowFn())
	if err != nil {
		return SessionView{}, err
	}
	if !moved {
		session, getErr := s.sessions.GetByID(ctx, sessionID)
		if getErr != nil {
			return SessionView{}, getErr
		}
		return SessionView{}, fmt.Errorf("%w: session is %s, not %s", domain.ErrInvalidState, session.Status, domain.SessionOpen)
	}
	return s.GetSession(ctx, sessionID)
}

// AbandonSession cancels a session from OPEN or AWAITING_PAYMENT. The
// shopper may walk away even while a submitted intent still awaits gateway
// confirmation: the money side keeps running on its own, and a success
// landing on the abandoned session is caught by the late-success path, which
// raises a critical alert for manual refund.
func (s *Service) AbandonSession(ctx context.Context, sessionID uuid.UUID) (SessionView, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if session.Status != domain.SessionOpen && session.Status != domain.SessionAwaitingPayment {
		return SessionView{}, fmt.Errorf("%w: session is already %s", domain.ErrInvalidState, session.Status)
	}

	moved, err := s.sessions.Transition(ctx, sessionID, session.Status, domain.SessionAbandoned, s.nowFn())
	if err != nil {
		return SessionView{}, err
	}
	if !moved {
		return SessionView{}, fmt.Errorf("%w: session changed state concurrently", domain.ErrInvalidState)
	}
	return s.GetSession(ctx, sessionID)
}

// ExpireStaleSessions sweeps OPEN sessions idle past the configured timeout
// into EXPIRED and emits one session.expired event per swept session. Called
// by the background worker; returns the number of sessions swept.
func (s *Service) ExpireStaleSessions(ctx context.Context) (int, error) {
	now := s.nowFn()
	cutoff := now.Add(-s.cfg.SessionIdleTimeout)
	swept, err := s.sessions.ExpireOpenBefore(ctx, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}
	for _, sessionID := range swept {
		s.enqueueEvent(ctx, eventTypeSessionExpired, sessionID.String(), map[string]any{
			"session_id": sessionID,
			"expired_at": now,
		})
	}
	if len(swept) > 0 {
		slog.Default().InfoContext(ctx, "expired stale sessions",
			"service", serviceName,
			"module", "application",
			"layer", "application",
			"operation", "expire_stale_sessions",
			"outcome", "success",
			"count", len(swept),
		)
	}
	return len(swept), nil
}
