package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/domain"
	"github.com/sokopay/facepay-core/internal/ports"
)

// candidateScore is the best score one identity achieved against the probe.
type candidateScore struct {
	identityID uuid.UUID
	score      float64
}

// Match scores a probe template against every active enrolled template and
// accepts the single best candidate at or above the confidence threshold.
// Candidates under lockout are excluded from consideration; if none remain
// the outcome is LOCKED, a distinct refusal from NO_MATCH. Two distinct
// identities tying for the top score reject as AMBIGUOUS. Every attempt is
// recorded in the audit log and reported to the fraud observer before this
// call returns, and infrastructure failure fails closed, never open.
func (s *Service) Match(ctx context.Context, req MatchRequest) (MatchResult, error) {
	if len(req.ProbeTemplate) == 0 {
		return MatchResult{}, fmt.Errorf("%w: probe template is required", domain.ErrInvalidInput)
	}

	enrolled, err := s.identities.ListActiveTemplates(ctx)
	if err != nil {
		s.logMatchInfraFailure(ctx, "TEMPLATE_STORE_UNAVAILABLE", err)
		return MatchResult{}, domain.ErrVerificationUnavailable
	}

	candidates := bestScoreByIdentity(req.ProbeTemplate, enrolled)
	if len(candidates) == 0 {
		s.reportAttempt(ctx, nil, req, domain.AttemptNoMatch, 0)
		return MatchResult{Status: MatchStatusNoMatch}, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	var accepted []candidateScore
	for _, c := range candidates {
		if c.score >= s.cfg.ConfidenceThreshold {
			accepted = append(accepted, c)
		}
	}

	if len(accepted) == 0 {
		return s.refuseBelowThreshold(ctx, req, candidates[0])
	}

	// Consult the lockout tracker for every candidate that would otherwise
	// be accepted; locked ones drop out of consideration.
	now := s.nowFn()
	remaining := accepted[:0:0]
	for _, c := range accepted {
		state, lockErr := s.lockouts.Get(ctx, lockoutKey(c.identityID))
		if lockErr != nil {
			s.logMatchInfraFailure(ctx, "LOCKOUT_STATE_UNAVAILABLE", lockErr)
			return MatchResult{}, domain.ErrVerificationUnavailable
		}
		if state.LockedUntil != nil && state.LockedUntil.After(now) {
			continue
		}
		remaining = append(remaining, c)
	}

	if len(remaining) == 0 {
		// Attempts against a locked identity never touch its counter.
		top := accepted[0]
		s.reportAttempt(ctx, &top.identityID, req, domain.AttemptLocked, top.score)
		return MatchResult{Status: MatchStatusLocked}, nil
	}

	top := remaining[0]
	if len(remaining) > 1 && remaining[1].score == top.score {
		// Two distinct identities tied for the highest score: fail closed
		// rather than arbitrarily choosing one.
		s.reportAttempt(ctx, &top.identityID, req, domain.AttemptAmbiguous, top.score)
		return MatchResult{Status: MatchStatusAmbiguous}, nil
	}

	if err := s.lockouts.Clear(ctx, lockoutKey(top.identityID)); err != nil {
		slog.Default().WarnContext(ctx, "failed to clear lockout counter",
			"service", serviceName,
			"module", "application",
			"layer", "application",
			"operation", "match",
			"outcome", "warning",
			"identity_id", top.identityID,
			"error", err,
		)
	}
	s.reportAttempt(ctx, &top.identityID, req, domain.AttemptMatched, top.score)

	methods, err := s.identities.ListPaymentMethods(ctx, top.identityID)
	if err != nil {
		return MatchResult{}, fmt.Errorf("list payment methods: %w", err)
	}
	items := make([]PaymentMethodItem, 0, len(methods))
	for _, m := range methods {
		if !m.IsActive {
			continue
		}
		items = append(items, PaymentMethodItem{MethodID: m.MethodID, Provider: m.Provider, Priority: m.Priority})
	}

	return MatchResult{
		Status:         MatchStatusMatched,
		IdentityID:     top.identityID,
		Confidence:     top.score,
		PaymentMethods: items,
	}, nil
}

// refuseBelowThreshold handles a probe whose best candidate scored under the
// threshold. The failure is attributed to that candidate, the identity a
// brute-force probe is converging on, unless it is already locked, in which
// case the attempt short-circuits without touching the counter.
func (s *Service) refuseBelowThreshold(ctx context.Context, req MatchRequest, best candidateScore) (MatchResult, error) {
	now := s.nowFn()
	state, err := s.lockouts.Get(ctx, lockoutKey(best.identityID))
	if err != nil {
		s.logMatchInfraFailure(ctx, "LOCKOUT_STATE_UNAVAILABLE", err)
		return MatchResult{}, domain.ErrVerificationUnavailable
	}
	if state.LockedUntil != nil && state.LockedUntil.After(now) {
		s.reportAttempt(ctx, &best.identityID, req, domain.AttemptLocked, best.score)
		return MatchResult{Status: MatchStatusLocked}, nil
	}

	updated, err := s.lockouts.RecordFailure(ctx, lockoutKey(best.identityID), now, s.cfg.FailedMatchThreshold, s.cfg.LockoutDuration)
	if err != nil {
		s.logMatchInfraFailure(ctx, "LOCKOUT_STATE_UNAVAILABLE", err)
		return MatchResult{}, domain.ErrVerificationUnavailable
	}
	s.reportAttempt(ctx, &best.identityID, req, domain.AttemptNoMatch, best.score)
	if updated.LockedUntil != nil && updated.LockedUntil.After(now) {
		slog.Default().WarnContext(ctx, "identity lockout triggered",
			"service", serviceName,
			"module", "application",
			"layer", "application",
			"operation", "match",
			"outcome", "blocked",
			"identity_id", best.identityID,
			"locked_until", updated.LockedUntil,
		)
		s.observeLockout(best.identityID, req)
	}
	return MatchResult{Status: MatchStatusNoMatch}, nil
}

// ClearLockout is the operator override that unlocks an identity before the
// lock window expires naturally.
func (s *Service) ClearLockout(ctx context.Context, identityID uuid.UUID) error {
	if _, err := s.identities.GetByID(ctx, identityID); err != nil {
		return err
	}
	return s.lockouts.Clear(ctx, lockoutKey(identityID))
}

// reportAttempt writes the audit row and feeds the fraud observer, both
// synchronously and exactly once per attempt.
func (s *Service) reportAttempt(ctx context.Context, identityID *uuid.UUID, req MatchRequest, result string, confidence float64) {
	s.recordAttempt(ctx, identityID, req, result, confidence)
	if s.fraud == nil {
		return
	}
	storeID := req.StoreID
	s.fraud.Observe(ports.SecurityEvent{
		Kind:       ports.SecurityEventMatchAttempt,
		Result:     result,
		IdentityID: identityID,
		StoreID:    &storeID,
		Confidence: confidence,
		OccurredAt: s.nowFn(),
	})
}

func (s *Service) observeLockout(identityID uuid.UUID, req MatchRequest) {
	if s.fraud == nil {
		return
	}
	storeID := req.StoreID
	s.fraud.Observe(ports.SecurityEvent{
		Kind:       ports.SecurityEventLockoutTriggered,
		Result:     domain.AttemptLocked,
		IdentityID: &identityID,
		StoreID:    &storeID,
		OccurredAt: s.nowFn(),
	})
}

func (s *Service) logMatchInfraFailure(ctx context.Context, code string, err error) {
	slog.Default().ErrorContext(ctx, "match infrastructure unavailable; refusing match",
		"service", serviceName,
		"module", "application",
		"layer", "application",
		"operation", "match",
		"outcome", "failure",
		"error_code", code,
		"error", err,
	)
}

// bestScoreByIdentity reduces all enrolled templates to one best score per
// identity; multiple templates of the same shopper never compete with each
// other.
func bestScoreByIdentity(probe []float64, enrolled []ports.EnrolledTemplate) []candidateScore {
	best := make(map[uuid.UUID]float64, len(enrolled))
	order := make([]uuid.UUID, 0, len(enrolled))
	for _, tpl := range enrolled {
		score := domain.CosineSimilarity(probe, tpl.Vector)
		if prev, ok := best[tpl.IdentityID]; !ok {
			best[tpl.IdentityID] = score
			order = append(order, tpl.IdentityID)
		} else if score > prev {
			best[tpl.IdentityID] = score
		}
	}
	out := make([]candidateScore, 0, len(order))
	for _, id := range order {
		out = append(out, candidateScore{identityID: id, score: best[id]})
	}
	return out
}
