package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/domain"
	"github.com/sokopay/facepay-core/internal/ports"
)

// EnrollIdentity registers a shopper: the identity row, the initial biometric
// template and the linked payment methods are written in one transaction
// together with the identity.enrolled outbox event, so a half-enrolled
// shopper can never match.
func (s *Service) EnrollIdentity(ctx context.Context, req EnrollRequest) (EnrollResponse, error) {
	if req.FullName == "" {
		return EnrollResponse{}, fmt.Errorf("%w: full_name is required", domain.ErrInvalidInput)
	}
	if len(req.Template) == 0 {
		return EnrollResponse{}, fmt.Errorf("%w: template is required", domain.ErrInvalidInput)
	}
	if len(req.PaymentMethods) == 0 {
		return EnrollResponse{}, fmt.Errorf("%w: at least one payment method is required", domain.ErrInvalidInput)
	}

	now := s.nowFn()
	methods := make([]domain.PaymentMethod, 0, len(req.PaymentMethods))
	for _, m := range req.PaymentMethods {
		if !domain.ValidProvider(m.Provider) {
			return EnrollResponse{}, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidInput, m.Provider)
		}
		if m.AccountRef == "" {
			return EnrollResponse{}, fmt.Errorf("%w: account_ref is required", domain.ErrInvalidInput)
		}
		methods = append(methods, domain.PaymentMethod{
			MethodID:   uuid.New(),
			Provider:   m.Provider,
			AccountRef: m.AccountRef,
			Priority:   m.Priority,
			IsActive:   true,
			CreatedAt:  now,
		})
	}

	eventID := uuid.New()
	payload, _ := json.Marshal(map[string]any{
		"full_name":   req.FullName,
		"enrolled_at": now,
	})
	identity, err := s.identities.EnrollWithOutboxTx(ctx, ports.EnrollIdentityParams{
		FullName:       req.FullName,
		Template:       req.Template,
		PaymentMethods: methods,
		EnrolledAtUTC:  now,
	}, ports.OutboxEvent{
		EventID:      eventID,
		EventType:    eventTypeIdentityEnrolled,
		PartitionKey: eventID.String(),
		Payload:      payload,
		OccurredAt:   now,
	})
	if err != nil {
		return EnrollResponse{}, fmt.Errorf("enroll identity: %w", err)
	}

	slog.Default().InfoContext(ctx, "identity enrolled",
		"service", serviceName,
		"module", "application",
		"layer", "application",
		"operation", "enroll_identity",
		"outcome", "success",
		"identity_id", identity.IdentityID,
	)
	return EnrollResponse{IdentityID: identity.IdentityID}, nil
}

// AddTemplate enrolls an additional template for an active identity, e.g.
// a re-capture after a poor initial scan.
func (s *Service) AddTemplate(ctx context.Context, identityID uuid.UUID, vector []float64) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: template is required", domain.ErrInvalidInput)
	}
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return err
	}
	if identity.Status != domain.IdentityActive {
		return domain.ErrIdentityRevoked
	}
	if _, err := s.identities.AddTemplate(ctx, identityID, vector, s.nowFn()); err != nil {
		return fmt.Errorf("add template: %w", err)
	}
	return nil
}

// RevokeIdentity removes a shopper from matching. Templates stay stored for
// audit but deactivate with the identity, so the matcher never sees them.
func (s *Service) RevokeIdentity(ctx context.Context, identityID uuid.UUID) error {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return err
	}
	if identity.Status == domain.IdentityRevoked {
		return fmt.Errorf("%w: identity is already revoked", domain.ErrInvalidState)
	}

	now := s.nowFn()
	if err := s.identities.Revoke(ctx, identityID, now); err != nil {
		return fmt.Errorf("revoke identity: %w", err)
	}
	if err := s.lockouts.Clear(ctx, lockoutKey(identityID)); err != nil {
		slog.Default().WarnContext(ctx, "failed to clear lockout on revoke",
			"service", serviceName,
			"module", "application",
			"layer", "application",
			"operation", "revoke_identity",
			"outcome", "warning",
			"identity_id", identityID,
			"error", err,
		)
	}
	s.enqueueEvent(ctx, eventTypeIdentityRevoked, identityID.String(), map[string]any{
		"identity_id": identityID,
		"revoked_at":  now,
	})
	return nil
}
