package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/domain"
	"github.com/sokopay/facepay-core/internal/ports"
)

// Vectors chosen so cosine scores come out exact in float64 arithmetic:
// [3,4] vs [3,4] scores 1.0 and [3,4] vs [4,3] scores exactly 0.96.
var (
	templateA = []float64{3, 4}
	probeSame = []float64{3, 4}
	probeNear = []float64{4, 3}
	probeFar  = []float64{1, 0}
)

func TestMatchAcceptsAtThresholdBoundary(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.service.cfg.ConfidenceThreshold = 0.96
	ctx := context.Background()

	identityID := f.enroll(t, "Amina Odhiambo", templateA)

	res, err := f.service.Match(ctx, matchReq(f.storeID, probeNear))
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if res.Status != MatchStatusMatched {
		t.Fatalf("expected MATCHED at exact threshold score, got %s", res.Status)
	}
	if res.IdentityID != identityID {
		t.Fatalf("matched wrong identity")
	}
	if res.Confidence != 0.96 {
		t.Fatalf("expected confidence 0.96, got %v", res.Confidence)
	}
	if len(res.PaymentMethods) != 1 {
		t.Fatalf("expected active payment methods in match result")
	}
}

func TestMatchRefusesBelowThreshold(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	identityID := f.enroll(t, "Amina Odhiambo", templateA)

	res, err := f.service.Match(ctx, matchReq(f.storeID, probeFar))
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if res.Status != MatchStatusNoMatch {
		t.Fatalf("expected NO_MATCH, got %s", res.Status)
	}
	if res.IdentityID != uuid.Nil {
		t.Fatalf("refusal must not expose an identity id")
	}

	// The failure is attributed to the best-scoring candidate.
	last := f.attempts.last(t)
	if last.Result != domain.AttemptNoMatch || last.IdentityID == nil || *last.IdentityID != identityID {
		t.Fatalf("expected failure attributed to best candidate, got %+v", last)
	}
}

func TestMatchLockoutAfterThresholdFailures(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	f.enroll(t, "Amina Odhiambo", templateA)

	for i := 0; i < 3; i++ {
		res, err := f.service.Match(ctx, matchReq(f.storeID, probeFar))
		if err != nil {
			t.Fatalf("match %d failed: %v", i+1, err)
		}
		if res.Status != MatchStatusNoMatch {
			t.Fatalf("match %d: expected NO_MATCH, got %s", i+1, res.Status)
		}
	}

	// Third failure crossed the threshold: a correct probe is now refused.
	before := f.attempts.count()
	res, err := f.service.Match(ctx, matchReq(f.storeID, probeSame))
	if err != nil {
		t.Fatalf("match while locked failed: %v", err)
	}
	if res.Status != MatchStatusLocked {
		t.Fatalf("expected LOCKED while lock active, got %s", res.Status)
	}
	if f.attempts.count() != before+1 {
		t.Fatalf("locked attempt must still be audited")
	}

	// A locked failure never touches the counter.
	key := "identity:" + f.attempts.last(t).IdentityID.String()
	if got := f.lockouts.failedCount(key); got != 3 {
		t.Fatalf("expected counter frozen at 3, got %d", got)
	}

	// One second before expiry the lock still holds.
	f.now = f.now.Add(1799 * time.Second)
	res, err = f.service.Match(ctx, matchReq(f.storeID, probeSame))
	if err != nil {
		t.Fatalf("match at 1799s failed: %v", err)
	}
	if res.Status != MatchStatusLocked {
		t.Fatalf("expected LOCKED at 1799s, got %s", res.Status)
	}

	// One second past expiry the identity matches again.
	f.now = f.now.Add(2 * time.Second)
	res, err = f.service.Match(ctx, matchReq(f.storeID, probeSame))
	if err != nil {
		t.Fatalf("match at 1801s failed: %v", err)
	}
	if res.Status != MatchStatusMatched {
		t.Fatalf("expected MATCHED after lock expiry, got %s", res.Status)
	}
	// Success clears the counter.
	if got := f.lockouts.failedCount(key); got != 0 {
		t.Fatalf("expected counter cleared on success, got %d", got)
	}
}

func TestMatchSuccessResetsFailureCounter(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	identityID := f.enroll(t, "Amina Odhiambo", templateA)
	key := "identity:" + identityID.String()

	for i := 0; i < 2; i++ {
		if _, err := f.service.Match(ctx, matchReq(f.storeID, probeFar)); err != nil {
			t.Fatalf("match failed: %v", err)
		}
	}
	if got := f.lockouts.failedCount(key); got != 2 {
		t.Fatalf("expected 2 recorded failures, got %d", got)
	}

	if _, err := f.service.Match(ctx, matchReq(f.storeID, probeSame)); err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if got := f.lockouts.failedCount(key); got != 0 {
		t.Fatalf("expected counter reset after match, got %d", got)
	}

	// The budget restarts: two more failures do not lock.
	for i := 0; i < 2; i++ {
		if _, err := f.service.Match(ctx, matchReq(f.storeID, probeFar)); err != nil {
			t.Fatalf("match failed: %v", err)
		}
	}
	res, err := f.service.Match(ctx, matchReq(f.storeID, probeSame))
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if res.Status != MatchStatusMatched {
		t.Fatalf("expected MATCHED with counter below threshold, got %s", res.Status)
	}
}

func TestConcurrentFailuresCountExactlyAndLock(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	identityID := f.enroll(t, "Amina Odhiambo", templateA)
	key := "identity:" + identityID.String()

	const lanes = 8
	var wg sync.WaitGroup
	wg.Add(lanes)
	for i := 0; i < lanes; i++ {
		go func() {
			defer wg.Done()
			if _, err := f.service.Match(ctx, matchReq(f.storeID, probeFar)); err != nil {
				t.Errorf("match failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// Every lane left an audit row, counted or refused.
	if got := f.attempts.count(); got != lanes {
		t.Fatalf("expected %d audit rows, got %d", lanes, got)
	}
	counted := f.attempts.countByResult(domain.AttemptNoMatch)
	refused := f.attempts.countByResult(domain.AttemptLocked)
	if counted+refused != lanes {
		t.Fatalf("expected only NO_MATCH and LOCKED outcomes, got %d + %d of %d", counted, refused, lanes)
	}

	// The counter equals the number of failures that actually counted:
	// never double-counted, never wiped by a racing lane.
	if got := f.lockouts.failedCount(key); got != counted {
		t.Fatalf("counter %d does not match %d counted failures", got, counted)
	}
	if counted < f.service.cfg.FailedMatchThreshold {
		t.Fatalf("expected at least %d counted failures before refusals, got %d", f.service.cfg.FailedMatchThreshold, counted)
	}

	state, err := f.lockouts.Get(ctx, key)
	if err != nil {
		t.Fatalf("lockout get failed: %v", err)
	}
	if state.LockedUntil == nil || !state.LockedUntil.After(f.now) {
		t.Fatalf("expected the identity locked after the storm")
	}
}

func TestMatchAmbiguousTieFailsClosed(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	f.enroll(t, "Wanjiku Twin A", templateA)
	f.enroll(t, "Wanjiku Twin B", templateA)

	res, err := f.service.Match(ctx, matchReq(f.storeID, probeSame))
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if res.Status != MatchStatusAmbiguous {
		t.Fatalf("expected AMBIGUOUS on exact tie, got %s", res.Status)
	}
	if last := f.attempts.last(t); last.Result != domain.AttemptAmbiguous {
		t.Fatalf("expected AMBIGUOUS audit row, got %s", last.Result)
	}
}

func TestMatchLockedCandidateFallsThrough(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	lockedID := f.enroll(t, "Wanjiku Twin A", templateA)
	openID := f.enroll(t, "Wanjiku Twin B", templateA)

	f.lockouts.lock("identity:"+lockedID.String(), f.now.Add(10*time.Minute))

	res, err := f.service.Match(ctx, matchReq(f.storeID, probeSame))
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if res.Status != MatchStatusMatched {
		t.Fatalf("expected fall-through to unlocked candidate, got %s", res.Status)
	}
	if res.IdentityID != openID {
		t.Fatalf("expected the unlocked identity to win")
	}

	// With every accepted candidate locked the outcome is LOCKED, not NO_MATCH.
	f.lockouts.lock("identity:"+openID.String(), f.now.Add(10*time.Minute))
	res, err = f.service.Match(ctx, matchReq(f.storeID, probeSame))
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if res.Status != MatchStatusLocked {
		t.Fatalf("expected LOCKED when every candidate is locked, got %s", res.Status)
	}
}

func TestMatchFailsClosedOnInfrastructureError(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	f.enroll(t, "Amina Odhiambo", templateA)
	f.lockouts.failNext = errors.New("redis gone")

	_, err := f.service.Match(ctx, matchReq(f.storeID, probeSame))
	if !errors.Is(err, domain.ErrVerificationUnavailable) {
		t.Fatalf("expected fail-closed on lockout store error, got %v", err)
	}
}

func TestCartPriceCapturedAtAddTime(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	productID := uuid.New()
	f.catalog.set(productID, 1500)

	session, err := f.service.OpenSession(ctx, OpenSessionRequest{StoreID: f.storeID})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}
	if _, err := f.service.AddLine(ctx, session.SessionID, AddLineRequest{ProductID: productID, Quantity: 2}); err != nil {
		t.Fatalf("add line failed: %v", err)
	}

	// A catalog price change after add must not move the total.
	f.catalog.set(productID, 9900)
	view, err := f.service.GetSession(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if view.Total != 3000 {
		t.Fatalf("expected captured total 3000, got %d", view.Total)
	}
}

func TestCheckoutRequiresNonEmptyCartAndActiveIdentity(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	identityID := f.enroll(t, "Amina Odhiambo", templateA)
	session, err := f.service.OpenSession(ctx, OpenSessionRequest{StoreID: f.storeID})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}

	_, err = f.service.BeginCheckout(ctx, session.SessionID, CheckoutRequest{IdentityID: identityID})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected empty-cart checkout rejection, got %v", err)
	}

	productID := uuid.New()
	f.catalog.set(productID, 500)
	if _, err := f.service.AddLine(ctx, session.SessionID, AddLineRequest{ProductID: productID, Quantity: 1}); err != nil {
		t.Fatalf("add line failed: %v", err)
	}

	if err := f.service.RevokeIdentity(ctx, identityID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	_, err = f.service.BeginCheckout(ctx, session.SessionID, CheckoutRequest{IdentityID: identityID})
	if !errors.Is(err, domain.ErrIdentityRevoked) {
		t.Fatalf("expected revoked identity rejection, got %v", err)
	}
}

func TestRevokedIdentityNeverMatches(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	identityID := f.enroll(t, "Amina Odhiambo", templateA)
	if err := f.service.RevokeIdentity(ctx, identityID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	res, err := f.service.Match(ctx, matchReq(f.storeID, probeSame))
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if res.Status != MatchStatusNoMatch {
		t.Fatalf("expected NO_MATCH against revoked identity, got %s", res.Status)
	}
	if err := f.service.RevokeIdentity(ctx, identityID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected double revoke rejection, got %v", err)
	}
}

func TestSettlementHappyPathWithCallback(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	sessionID, methodID := f.checkedOutSession(t, 2500)

	view, err := f.service.BeginSettlement(ctx, "client-key-1", BeginSettlementRequest{
		SessionID:       sessionID,
		PaymentMethodID: methodID,
	})
	if err != nil {
		t.Fatalf("begin settlement failed: %v", err)
	}
	if view.Status != domain.IntentPendingConfirmation {
		t.Fatalf("expected PENDING_CONFIRMATION after gateway acceptance, got %s", view.Status)
	}
	if view.Amount != 2500 {
		t.Fatalf("expected frozen cart total 2500, got %d", view.Amount)
	}

	token := f.gateway.lastCorrelationToken()
	if err := f.service.HandleGatewayCallback(ctx, GatewayCallback{
		CorrelationToken: token,
		Outcome:          domain.GatewayOutcomeSucceeded,
		GatewayReference: "MPESA-REF-1",
	}); err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	final, err := f.service.GetIntent(ctx, view.IntentID)
	if err != nil {
		t.Fatalf("get intent failed: %v", err)
	}
	if final.Status != domain.IntentSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", final.Status)
	}
	if final.ReceiptNumber == "" {
		t.Fatalf("expected receipt number on settle")
	}
	session, err := f.service.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if session.Status != domain.SessionSettled {
		t.Fatalf("expected SETTLED session, got %s", session.Status)
	}
	for _, eventType := range []string{eventTypeSettlementSucceeded, eventTypeLoyaltyAccrue, eventTypeNotificationReceipt} {
		if f.outbox.countType(eventType) != 1 {
			t.Fatalf("expected exactly one %s event", eventType)
		}
	}
}

func TestDuplicateCallbackSettlesOnce(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	sessionID, methodID := f.checkedOutSession(t, 2500)
	if _, err := f.service.BeginSettlement(ctx, "", BeginSettlementRequest{SessionID: sessionID, PaymentMethodID: methodID}); err != nil {
		t.Fatalf("begin settlement failed: %v", err)
	}

	cb := GatewayCallback{
		CorrelationToken: f.gateway.lastCorrelationToken(),
		Outcome:          domain.GatewayOutcomeSucceeded,
		GatewayReference: "MPESA-REF-1",
	}
	for i := 0; i < 3; i++ {
		if err := f.service.HandleGatewayCallback(ctx, cb); err != nil {
			t.Fatalf("callback %d failed: %v", i+1, err)
		}
	}
	if got := f.outbox.countType(eventTypeSettlementSucceeded); got != 1 {
		t.Fatalf("expected one settlement.succeeded for three callbacks, got %d", got)
	}
}

func TestSecondSettlementWhileFirstPendingRejected(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	sessionID, methodID := f.checkedOutSession(t, 2500)
	if _, err := f.service.BeginSettlement(ctx, "key-a", BeginSettlementRequest{SessionID: sessionID, PaymentMethodID: methodID}); err != nil {
		t.Fatalf("begin settlement failed: %v", err)
	}

	_, err := f.service.BeginSettlement(ctx, "key-b", BeginSettlementRequest{SessionID: sessionID, PaymentMethodID: methodID})
	if !errors.Is(err, domain.ErrSettlementInProgress) {
		t.Fatalf("expected settlement-in-progress rejection, got %v", err)
	}
	if f.gateway.submitCalls() != 1 {
		t.Fatalf("second call must never reach the gateway")
	}
}

func TestSettlementIdempotencyKeyReplay(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	sessionID, methodID := f.checkedOutSession(t, 2500)
	req := BeginSettlementRequest{SessionID: sessionID, PaymentMethodID: methodID}

	first, err := f.service.BeginSettlement(ctx, "client-key-1", req)
	if err != nil {
		t.Fatalf("begin settlement failed: %v", err)
	}
	replay, err := f.service.BeginSettlement(ctx, "client-key-1", req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if replay.IntentID != first.IntentID {
		t.Fatalf("replay must return the original intent")
	}
	if f.gateway.submitCalls() != 1 {
		t.Fatalf("replay must not resubmit to the gateway")
	}

	// Same key with a different payload is a conflict, not a replay.
	otherSession, otherMethod := f.checkedOutSession(t, 900)
	_, err = f.service.BeginSettlement(ctx, "client-key-1", BeginSettlementRequest{SessionID: otherSession, PaymentMethodID: otherMethod})
	if !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
}

func TestSettlementDefaultsToHighestPriorityMethod(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	res, err := f.service.EnrollIdentity(ctx, EnrollRequest{
		FullName: "Amina Odhiambo",
		Template: templateA,
		PaymentMethods: []EnrollPaymentMethod{
			{Provider: domain.ProviderAirtelMoney, AccountRef: "+254730000001", Priority: 2},
			{Provider: domain.ProviderMpesa, AccountRef: "+254700000001", Priority: 1},
		},
	})
	if err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	session, err := f.service.OpenSession(ctx, OpenSessionRequest{StoreID: f.storeID})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}
	productID := uuid.New()
	f.catalog.set(productID, 800)
	if _, err := f.service.AddLine(ctx, session.SessionID, AddLineRequest{ProductID: productID, Quantity: 1}); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if _, err := f.service.BeginCheckout(ctx, session.SessionID, CheckoutRequest{IdentityID: res.IdentityID}); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	view, err := f.service.BeginSettlement(ctx, "", BeginSettlementRequest{SessionID: session.SessionID})
	if err != nil {
		t.Fatalf("begin settlement failed: %v", err)
	}
	if view.Status != domain.IntentPendingConfirmation {
		t.Fatalf("expected PENDING_CONFIRMATION, got %s", view.Status)
	}
	if got := f.gateway.lastProvider(); got != domain.ProviderMpesa {
		t.Fatalf("expected priority-1 MPESA method chosen, got %s", got)
	}
}

func TestSettlementRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	sessionID, methodID := f.checkedOutSession(t, 2500)
	f.gateway.scriptSubmitErrors(domain.ErrGatewayTransient, domain.ErrGatewayTransient)

	view, err := f.service.BeginSettlement(ctx, "", BeginSettlementRequest{SessionID: sessionID, PaymentMethodID: methodID})
	if err != nil {
		t.Fatalf("expected success after transient retries, got %v", err)
	}
	if view.Status != domain.IntentPendingConfirmation {
		t.Fatalf("expected PENDING_CONFIRMATION, got %s", view.Status)
	}
	if f.gateway.submitCalls() != 3 {
		t.Fatalf("expected 3 submit attempts, got %d", f.gateway.submitCalls())
	}
}

func TestSettlementRejectionFailsIntentAndAbandonsSession(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	sessionID, methodID := f.checkedOutSession(t, 2500)
	f.gateway.scriptSubmitErrors(domain.ErrGatewayRejected)

	view, err := f.service.BeginSettlement(ctx, "", BeginSettlementRequest{SessionID: sessionID, PaymentMethodID: methodID})
	if !errors.Is(err, domain.ErrGatewayRejected) {
		t.Fatalf("expected gateway rejection surfaced, got %v", err)
	}
	if view.Status != domain.IntentFailed {
		t.Fatalf("expected FAILED intent, got %s", view.Status)
	}
	session, err := f.service.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if session.Status != domain.SessionAbandoned {
		t.Fatalf("failed settlement must abandon the session, got %s", session.Status)
	}

	// The abandoned session cannot be settled again.
	_, err = f.service.BeginSettlement(ctx, "", BeginSettlementRequest{SessionID: sessionID, PaymentMethodID: methodID})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected rejection of a settlement on the abandoned session, got %v", err)
	}
}

func TestFailedCallbackAbandonsSession(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	sessionID, methodID := f.checkedOutSession(t, 2500)
	view, err := f.service.BeginSettlement(ctx, "", BeginSettlementRequest{SessionID: sessionID, PaymentMethodID: methodID})
	if err != nil {
		t.Fatalf("begin settlement failed: %v", err)
	}

	if err := f.service.HandleGatewayCallback(ctx, GatewayCallback{
		CorrelationToken: f.gateway.lastCorrelationToken(),
		Outcome:          domain.GatewayOutcomeFailed,
		FailureReason:    "INSUFFICIENT_FUNDS",
	}); err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	final, err := f.service.GetIntent(ctx, view.IntentID)
	if err != nil {
		t.Fatalf("get intent failed: %v", err)
	}
	if final.Status != domain.IntentFailed {
		t.Fatalf("expected FAILED intent, got %s", final.Status)
	}
	session, err := f.service.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if session.Status != domain.SessionAbandoned {
		t.Fatalf("failed payment must abandon the session, got %s", session.Status)
	}
	if f.outbox.countType(eventTypeSettlementFailed) != 1 {
		t.Fatalf("expected settlement.failed event")
	}
}

func TestAbandonAllowedWhileConfirmationPending(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	sessionID, methodID := f.checkedOutSession(t, 2500)
	if _, err := f.service.BeginSettlement(ctx, "", BeginSettlementRequest{SessionID: sessionID, PaymentMethodID: methodID}); err != nil {
		t.Fatalf("begin settlement failed: %v", err)
	}

	// The shopper walks away before the gateway confirms.
	view, err := f.service.AbandonSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("abandon while confirmation pending failed: %v", err)
	}
	if view.Status != domain.SessionAbandoned {
		t.Fatalf("expected ABANDONED, got %s", view.Status)
	}
}

func TestReconcileExpiresAfterPollBudget(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.service.cfg.ReconcileMaxAttempts = 2
	ctx := context.Background()

	sessionID, methodID := f.checkedOutSession(t, 2500)
	view, err := f.service.BeginSettlement(ctx, "", BeginSettlementRequest{SessionID: sessionID, PaymentMethodID: methodID})
	if err != nil {
		t.Fatalf("begin settlement failed: %v", err)
	}

	f.now = f.now.Add(f.service.cfg.ConfirmationTimeout + time.Second)
	f.gateway.statusOutcome = domain.GatewayOutcomePending

	// First inconclusive poll only counts.
	if _, err := f.service.ReconcilePendingIntents(ctx); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	mid, err := f.service.GetIntent(ctx, view.IntentID)
	if err != nil {
		t.Fatalf("get intent failed: %v", err)
	}
	if mid.Status != domain.IntentPendingConfirmation {
		t.Fatalf("expected intent still pending after first poll, got %s", mid.Status)
	}

	// Second inconclusive poll exhausts the budget.
	if _, err := f.service.ReconcilePendingIntents(ctx); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	final, err := f.service.GetIntent(ctx, view.IntentID)
	if err != nil {
		t.Fatalf("get intent failed: %v", err)
	}
	if final.Status != domain.IntentExpired {
		t.Fatalf("expected EXPIRED after poll budget, got %s", final.Status)
	}
	session, err := f.service.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if session.Status != domain.SessionAbandoned {
		t.Fatalf("expired settlement must abandon, never settle, got %s", session.Status)
	}
	if f.outbox.countType(eventTypeSettlementFailed) != 1 {
		t.Fatalf("expected settlement.failed event on expiry")
	}
}

func TestReconcileAppliesLateGatewaySuccess(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	sessionID, methodID := f.checkedOutSession(t, 2500)
	view, err := f.service.BeginSettlement(ctx, "", BeginSettlementRequest{SessionID: sessionID, PaymentMethodID: methodID})
	if err != nil {
		t.Fatalf("begin settlement failed: %v", err)
	}

	f.now = f.now.Add(f.service.cfg.ConfirmationTimeout + time.Second)
	f.gateway.statusOutcome = domain.GatewayOutcomeSucceeded
	f.gateway.statusReference = "MPESA-REF-9"

	if _, err := f.service.ReconcilePendingIntents(ctx); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	final, err := f.service.GetIntent(ctx, view.IntentID)
	if err != nil {
		t.Fatalf("get intent failed: %v", err)
	}
	if final.Status != domain.IntentSucceeded {
		t.Fatalf("expected SUCCEEDED via reconciliation, got %s", final.Status)
	}
}

func TestLateSuccessAfterAbandonRaisesCriticalAlert(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	sessionID, methodID := f.checkedOutSession(t, 2500)
	view, err := f.service.BeginSettlement(ctx, "", BeginSettlementRequest{SessionID: sessionID, PaymentMethodID: methodID})
	if err != nil {
		t.Fatalf("begin settlement failed: %v", err)
	}

	// The shopper abandons before the gateway answers; the charge then
	// succeeds anyway.
	if _, err := f.service.AbandonSession(ctx, sessionID); err != nil {
		t.Fatalf("abandon failed: %v", err)
	}
	if err := f.service.HandleGatewayCallback(ctx, GatewayCallback{
		CorrelationToken: f.gateway.lastCorrelationToken(),
		Outcome:          domain.GatewayOutcomeSucceeded,
		GatewayReference: "MPESA-REF-1",
	}); err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	// The money side is still recorded truthfully.
	final, err := f.service.GetIntent(ctx, view.IntentID)
	if err != nil {
		t.Fatalf("get intent failed: %v", err)
	}
	if final.Status != domain.IntentSucceeded {
		t.Fatalf("expected SUCCEEDED intent, got %s", final.Status)
	}
	session, err := f.service.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if session.Status != domain.SessionAbandoned {
		t.Fatalf("abandoned session must never flip to SETTLED, got %s", session.Status)
	}

	alert := f.alerts.byRule(domain.RuleLateSuccessAbandoned)
	if alert == nil {
		t.Fatalf("expected late-success fraud alert for manual refund")
	}
	if alert.Severity != domain.SeverityCritical {
		t.Fatalf("expected CRITICAL severity, got %s", alert.Severity)
	}
}

func TestIssueTerminalTokenAndLockout(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	res, err := f.service.IssueTerminalToken(ctx, TerminalTokenRequest{TerminalID: "till-001", Secret: "s3cret"})
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	if res.Token == "" || res.ExpiresIn <= 0 {
		t.Fatalf("expected signed token with ttl")
	}
	claims, err := f.service.AuthenticateToken(ctx, res.Token)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if claims.TerminalID != "till-001" || claims.StoreID != f.storeID {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	for i := 0; i < 3; i++ {
		if _, err := f.service.IssueTerminalToken(ctx, TerminalTokenRequest{TerminalID: "till-001", Secret: "wrong"}); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("expected unauthorized on bad secret, got %v", err)
		}
	}
	// Lock now holds even for the right secret.
	if _, err := f.service.IssueTerminalToken(ctx, TerminalTokenRequest{TerminalID: "till-001", Secret: "s3cret"}); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate-limited terminal, got %v", err)
	}
}

func TestExpireStaleSessions(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	stale, err := f.service.OpenSession(ctx, OpenSessionRequest{StoreID: f.storeID})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}

	f.now = f.now.Add(f.service.cfg.SessionIdleTimeout + time.Minute)
	fresh, err := f.service.OpenSession(ctx, OpenSessionRequest{StoreID: f.storeID})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}

	swept, err := f.service.ExpireStaleSessions(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept session, got %d", swept)
	}

	staleView, err := f.service.GetSession(ctx, stale.SessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if staleView.Status != domain.SessionExpired {
		t.Fatalf("expected EXPIRED, got %s", staleView.Status)
	}
	freshView, err := f.service.GetSession(ctx, fresh.SessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if freshView.Status != domain.SessionOpen {
		t.Fatalf("fresh session must survive the sweep, got %s", freshView.Status)
	}
	if f.outbox.countType(eventTypeSessionExpired) != 1 {
		t.Fatalf("expected one session.expired event")
	}
}

func matchReq(storeID uuid.UUID, probe []float64) MatchRequest {
	return MatchRequest{ProbeTemplate: probe, StoreID: storeID, TerminalID: "till-001"}
}

// ---- fixture ----

type fixture struct {
	service  *Service
	storeID  uuid.UUID
	now      time.Time
	catalog  *fakeCatalog
	gateway  *fakeGateway
	lockouts *fakeLockouts
	attempts *fakeAttempts
	alerts   *fakeAlerts
	outbox   *fakeOutbox
	sessions *fakeSessions
}

func defaultTestConfig() Config {
	return Config{
		Currency:              "KES",
		ConfidenceThreshold:   0.95,
		FailedMatchThreshold:  3,
		LockoutDuration:       1800 * time.Second,
		SessionIdleTimeout:    30 * time.Minute,
		SubmitMaxAttempts:     3,
		SubmitBackoffBase:     time.Millisecond,
		ConfirmationTimeout:   5 * time.Minute,
		ReconcileMaxAttempts:  5,
		GatewayCallbackURL:    "http://localhost:8080/facepay/v1/callbacks/payment",
		HighValueThreshold:    1_000_000,
		SweepWindow:           10 * time.Minute,
		SweepFailureThreshold: 10,
		TerminalTokenTTL:      12 * time.Hour,
	}
}

func newFixture() *fixture {
	storeID := uuid.New()
	f := &fixture{
		storeID:  storeID,
		now:      time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
		catalog:  &fakeCatalog{prices: map[uuid.UUID]int64{}},
		gateway:  &fakeGateway{statusOutcome: domain.GatewayOutcomePending},
		lockouts: &fakeLockouts{state: map[string]ports.LockoutState{}},
		attempts: &fakeAttempts{},
		alerts:   &fakeAlerts{},
		outbox:   &fakeOutbox{},
		sessions: &fakeSessions{
			byID:  map[uuid.UUID]domain.ShoppingSession{},
			lines: map[uuid.UUID][]domain.CartLine{},
		},
	}

	identities := &fakeIdentities{
		byID:    map[uuid.UUID]domain.Identity{},
		tpls:    map[uuid.UUID][]domain.Template{},
		methods: map[uuid.UUID][]domain.PaymentMethod{},
		outbox:  f.outbox,
	}
	intents := &fakeIntents{byID: map[uuid.UUID]*domain.TransactionIntent{}}
	terminals := &fakeTerminals{byID: map[string]domain.Terminal{
		"till-001": {
			TerminalID: "till-001",
			StoreID:    storeID,
			SecretHash: "hashed:s3cret",
			IsActive:   true,
		},
	}}

	f.service = NewService(Dependencies{
		Config:      defaultTestConfig(),
		Identities:  identities,
		Sessions:    f.sessions,
		Intents:     intents,
		Attempts:    f.attempts,
		FraudAlerts: f.alerts,
		Terminals:   terminals,
		Outbox:      f.outbox,
		Idempotency: &fakeIdempotency{records: map[string]ports.IdempotencyRecord{}},
		Lockouts:    f.lockouts,
		Catalog:     f.catalog,
		Gateway:     f.gateway,
		Hasher:      &fakeHasher{},
		TokenSigner: &fakeSigner{tokens: map[string]ports.TerminalClaims{}},
	})
	f.service.nowFn = func() time.Time { return f.now }
	return f
}

func (f *fixture) enroll(t *testing.T, name string, template []float64) uuid.UUID {
	t.Helper()
	res, err := f.service.EnrollIdentity(context.Background(), EnrollRequest{
		FullName: name,
		Template: template,
		PaymentMethods: []EnrollPaymentMethod{
			{Provider: domain.ProviderMpesa, AccountRef: "+254700000001", Priority: 1},
		},
	})
	if err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	return res.IdentityID
}

// checkedOutSession builds a session in AWAITING_PAYMENT with one cart line
// at the given total and returns the session and bound payment method.
func (f *fixture) checkedOutSession(t *testing.T, total int64) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	identityID := f.enroll(t, "Shopper "+uuid.NewString()[:8], []float64{float64(total), 1})
	session, err := f.service.OpenSession(ctx, OpenSessionRequest{StoreID: f.storeID})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}
	productID := uuid.New()
	f.catalog.set(productID, total)
	if _, err := f.service.AddLine(ctx, session.SessionID, AddLineRequest{ProductID: productID, Quantity: 1}); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if _, err := f.service.BeginCheckout(ctx, session.SessionID, CheckoutRequest{IdentityID: identityID}); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	methods, err := f.service.identities.ListPaymentMethods(ctx, identityID)
	if err != nil || len(methods) == 0 {
		t.Fatalf("list payment methods failed: %v", err)
	}
	return session.SessionID, methods[0].MethodID
}

// ---- fakes ----

type fakeIdentities struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]domain.Identity
	tpls    map[uuid.UUID][]domain.Template
	methods map[uuid.UUID][]domain.PaymentMethod
	outbox  *fakeOutbox
}

func (fk *fakeIdentities) EnrollWithOutboxTx(_ context.Context, params ports.EnrollIdentityParams, event ports.OutboxEvent) (domain.Identity, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	id := domain.Identity{
		IdentityID: uuid.New(),
		FullName:   params.FullName,
		Status:     domain.IdentityActive,
		CreatedAt:  params.EnrolledAtUTC,
		UpdatedAt:  params.EnrolledAtUTC,
	}
	fk.byID[id.IdentityID] = id
	fk.tpls[id.IdentityID] = []domain.Template{{
		TemplateID: uuid.New(),
		IdentityID: id.IdentityID,
		Vector:     params.Template,
		IsActive:   true,
		EnrolledAt: params.EnrolledAtUTC,
	}}
	methods := make([]domain.PaymentMethod, len(params.PaymentMethods))
	copy(methods, params.PaymentMethods)
	for i := range methods {
		methods[i].IdentityID = id.IdentityID
	}
	fk.methods[id.IdentityID] = methods
	_ = fk.outbox.Enqueue(context.Background(), event)
	return id, nil
}

func (fk *fakeIdentities) GetByID(_ context.Context, identityID uuid.UUID) (domain.Identity, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	id, ok := fk.byID[identityID]
	if !ok {
		return domain.Identity{}, domain.ErrNotFound
	}
	return id, nil
}

func (fk *fakeIdentities) ListActiveTemplates(context.Context) ([]ports.EnrolledTemplate, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	var out []ports.EnrolledTemplate
	for identityID, tpls := range fk.tpls {
		if fk.byID[identityID].Status != domain.IdentityActive {
			continue
		}
		for _, tpl := range tpls {
			if !tpl.IsActive {
				continue
			}
			out = append(out, ports.EnrolledTemplate{
				IdentityID: identityID,
				TemplateID: tpl.TemplateID,
				Vector:     tpl.Vector,
			})
		}
	}
	return out, nil
}

func (fk *fakeIdentities) AddTemplate(_ context.Context, identityID uuid.UUID, vector []float64, enrolledAt time.Time) (domain.Template, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	tpl := domain.Template{
		TemplateID: uuid.New(),
		IdentityID: identityID,
		Vector:     vector,
		IsActive:   true,
		EnrolledAt: enrolledAt,
	}
	fk.tpls[identityID] = append(fk.tpls[identityID], tpl)
	return tpl, nil
}

func (fk *fakeIdentities) Revoke(_ context.Context, identityID uuid.UUID, revokedAt time.Time) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	id, ok := fk.byID[identityID]
	if !ok {
		return domain.ErrNotFound
	}
	id.Status = domain.IdentityRevoked
	id.RevokedAt = &revokedAt
	fk.byID[identityID] = id
	return nil
}

func (fk *fakeIdentities) ListPaymentMethods(_ context.Context, identityID uuid.UUID) ([]domain.PaymentMethod, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return append([]domain.PaymentMethod(nil), fk.methods[identityID]...), nil
}

func (fk *fakeIdentities) GetPaymentMethod(_ context.Context, methodID uuid.UUID) (domain.PaymentMethod, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	for _, methods := range fk.methods {
		for _, m := range methods {
			if m.MethodID == methodID {
				return m, nil
			}
		}
	}
	return domain.PaymentMethod{}, domain.ErrNotFound
}

type fakeSessions struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]domain.ShoppingSession
	lines map[uuid.UUID][]domain.CartLine
}

func (fk *fakeSessions) Create(_ context.Context, storeID uuid.UUID, openedAt time.Time) (domain.ShoppingSession, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	s := domain.ShoppingSession{
		SessionID: uuid.New(),
		StoreID:   storeID,
		Status:    domain.SessionOpen,
		OpenedAt:  openedAt,
		UpdatedAt: openedAt,
	}
	fk.byID[s.SessionID] = s
	return s, nil
}

func (fk *fakeSessions) GetByID(_ context.Context, sessionID uuid.UUID) (domain.ShoppingSession, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	s, ok := fk.byID[sessionID]
	if !ok {
		return domain.ShoppingSession{}, domain.ErrNotFound
	}
	return s, nil
}

func (fk *fakeSessions) ListLines(_ context.Context, sessionID uuid.UUID) ([]domain.CartLine, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return append([]domain.CartLine(nil), fk.lines[sessionID]...), nil
}

func (fk *fakeSessions) AddLine(_ context.Context, params ports.AddLineParams) (domain.CartLine, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	s, ok := fk.byID[params.SessionID]
	if !ok {
		return domain.CartLine{}, domain.ErrNotFound
	}
	if s.Status != domain.SessionOpen {
		return domain.CartLine{}, domain.ErrInvalidState
	}
	line := domain.CartLine{
		LineID:    uuid.New(),
		SessionID: params.SessionID,
		ProductID: params.ProductID,
		Quantity:  params.Quantity,
		UnitPrice: params.UnitPrice,
		AddedAt:   params.AddedAt,
	}
	fk.lines[params.SessionID] = append(fk.lines[params.SessionID], line)
	s.UpdatedAt = params.AddedAt
	fk.byID[params.SessionID] = s
	return line, nil
}

func (fk *fakeSessions) Transition(_ context.Context, sessionID uuid.UUID, fromStatus, toStatus string, at time.Time) (bool, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	s, ok := fk.byID[sessionID]
	if !ok || s.Status != fromStatus {
		return false, nil
	}
	s.Status = toStatus
	s.UpdatedAt = at
	fk.byID[sessionID] = s
	return true, nil
}

func (fk *fakeSessions) BindIdentity(_ context.Context, sessionID, identityID uuid.UUID, at time.Time) (bool, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	s, ok := fk.byID[sessionID]
	if !ok || s.Status != domain.SessionOpen {
		return false, nil
	}
	s.Status = domain.SessionAwaitingPayment
	s.IdentityID = &identityID
	s.UpdatedAt = at
	fk.byID[sessionID] = s
	return true, nil
}

func (fk *fakeSessions) ExpireOpenBefore(_ context.Context, cutoff, at time.Time) ([]uuid.UUID, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	var swept []uuid.UUID
	for id, s := range fk.byID {
		if s.Status == domain.SessionOpen && s.UpdatedAt.Before(cutoff) {
			s.Status = domain.SessionExpired
			s.UpdatedAt = at
			fk.byID[id] = s
			swept = append(swept, id)
		}
	}
	return swept, nil
}

type fakeIntents struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*domain.TransactionIntent
}

func (fk *fakeIntents) Create(_ context.Context, params ports.CreateIntentParams) (domain.TransactionIntent, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	for _, it := range fk.byID {
		if it.IdempotencyKey == params.IdempotencyKey {
			return domain.TransactionIntent{}, domain.ErrIdempotencyConflict
		}
	}
	for _, it := range fk.byID {
		if it.SessionID == params.SessionID && !domain.IntentTerminal(it.Status) {
			return domain.TransactionIntent{}, domain.ErrSettlementInProgress
		}
	}
	it := &domain.TransactionIntent{
		IntentID:        params.IntentID,
		SessionID:       params.SessionID,
		IdentityID:      params.IdentityID,
		MethodID:        params.MethodID,
		Amount:          params.Amount,
		Currency:        params.Currency,
		IdempotencyKey:  params.IdempotencyKey,
		TransactionCode: params.TransactionCode,
		Status:          domain.IntentCreated,
		Attempt:         params.Attempt,
		CreatedAt:       params.CreatedAtUTC,
		UpdatedAt:       params.CreatedAtUTC,
	}
	fk.byID[it.IntentID] = it
	return *it, nil
}

func (fk *fakeIntents) GetByID(_ context.Context, intentID uuid.UUID) (domain.TransactionIntent, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	it, ok := fk.byID[intentID]
	if !ok {
		return domain.TransactionIntent{}, domain.ErrNotFound
	}
	return *it, nil
}

func (fk *fakeIntents) GetByIdempotencyKey(_ context.Context, key string) (domain.TransactionIntent, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	for _, it := range fk.byID {
		if it.IdempotencyKey == key {
			return *it, nil
		}
	}
	return domain.TransactionIntent{}, domain.ErrNotFound
}

func (fk *fakeIntents) GetByCorrelationToken(_ context.Context, token string) (domain.TransactionIntent, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	for _, it := range fk.byID {
		if it.CorrelationToken != nil && *it.CorrelationToken == token {
			return *it, nil
		}
	}
	return domain.TransactionIntent{}, domain.ErrNotFound
}

func (fk *fakeIntents) CountBySession(_ context.Context, sessionID uuid.UUID) (int, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	count := 0
	for _, it := range fk.byID {
		if it.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

func (fk *fakeIntents) MarkSubmitted(_ context.Context, intentID uuid.UUID, correlationToken string, at time.Time) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	it, ok := fk.byID[intentID]
	if !ok {
		return domain.ErrNotFound
	}
	if it.Status != domain.IntentCreated {
		return domain.ErrInvalidState
	}
	it.Status = domain.IntentPendingConfirmation
	it.CorrelationToken = &correlationToken
	it.SubmittedAt = &at
	it.UpdatedAt = at
	return nil
}

func (fk *fakeIntents) Finalize(_ context.Context, intentID uuid.UUID, toStatus, gatewayReference, failureReason, receiptNumber string, at time.Time) (bool, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	it, ok := fk.byID[intentID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if domain.IntentTerminal(it.Status) {
		return false, nil
	}
	it.Status = toStatus
	it.GatewayReference = gatewayReference
	it.FailureReason = failureReason
	it.ReceiptNumber = receiptNumber
	it.UpdatedAt = at
	return true, nil
}

func (fk *fakeIntents) IncrementReconcileAttempts(_ context.Context, intentID uuid.UUID, at time.Time) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	it, ok := fk.byID[intentID]
	if !ok {
		return domain.ErrNotFound
	}
	it.ReconcileAttempts++
	it.UpdatedAt = at
	return nil
}

func (fk *fakeIntents) ListPendingConfirmationBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.TransactionIntent, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	var out []domain.TransactionIntent
	for _, it := range fk.byID {
		if it.Status == domain.IntentPendingConfirmation && it.SubmittedAt != nil && it.SubmittedAt.Before(cutoff) {
			out = append(out, *it)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fakeAttempts struct {
	mu   sync.Mutex
	rows []domain.VerificationAttempt
}

func (fk *fakeAttempts) Insert(_ context.Context, attempt domain.VerificationAttempt) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.rows = append(fk.rows, attempt)
	return nil
}

func (fk *fakeAttempts) CountFailuresByStoreSince(_ context.Context, storeID uuid.UUID, since time.Time) (int, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	count := 0
	for _, row := range fk.rows {
		if row.StoreID == storeID && row.Result == domain.AttemptNoMatch && !row.AttemptAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (fk *fakeAttempts) count() int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return len(fk.rows)
}

func (fk *fakeAttempts) countByResult(result string) int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	n := 0
	for _, row := range fk.rows {
		if row.Result == result {
			n++
		}
	}
	return n
}

func (fk *fakeAttempts) last(t *testing.T) domain.VerificationAttempt {
	t.Helper()
	fk.mu.Lock()
	defer fk.mu.Unlock()
	if len(fk.rows) == 0 {
		t.Fatalf("no verification attempts recorded")
	}
	return fk.rows[len(fk.rows)-1]
}

type fakeAlerts struct {
	mu   sync.Mutex
	rows []domain.FraudAlert
}

func (fk *fakeAlerts) Insert(_ context.Context, alert domain.FraudAlert) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.rows = append(fk.rows, alert)
	return nil
}

func (fk *fakeAlerts) List(_ context.Context, limit, offset int, severity string) ([]domain.FraudAlert, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	var out []domain.FraudAlert
	for i := len(fk.rows) - 1; i >= 0; i-- {
		if severity != "" && fk.rows[i].Severity != severity {
			continue
		}
		out = append(out, fk.rows[i])
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (fk *fakeAlerts) byRule(rule string) *domain.FraudAlert {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	for i := range fk.rows {
		if fk.rows[i].Rule == rule {
			cp := fk.rows[i]
			return &cp
		}
	}
	return nil
}

type fakeTerminals struct {
	byID map[string]domain.Terminal
}

func (fk *fakeTerminals) GetByID(_ context.Context, terminalID string) (domain.Terminal, error) {
	terminal, ok := fk.byID[terminalID]
	if !ok {
		return domain.Terminal{}, domain.ErrNotFound
	}
	return terminal, nil
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []ports.OutboxEvent
}

func (fk *fakeOutbox) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.events = append(fk.events, event)
	return nil
}

func (fk *fakeOutbox) ClaimUnpublished(context.Context, int, string, time.Time) ([]ports.OutboxRecord, error) {
	return nil, nil
}
func (fk *fakeOutbox) MarkPublished(context.Context, uuid.UUID, string, time.Time) error { return nil }
func (fk *fakeOutbox) MarkFailed(context.Context, uuid.UUID, string, string, time.Time) error {
	return nil
}
func (fk *fakeOutbox) MarkDeadLettered(context.Context, uuid.UUID, string, string, time.Time) error {
	return nil
}

func (fk *fakeOutbox) countType(eventType string) int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	count := 0
	for _, event := range fk.events {
		if event.EventType == eventType {
			count++
		}
	}
	return count
}

type fakeIdempotency struct {
	mu      sync.Mutex
	records map[string]ports.IdempotencyRecord
}

func (fk *fakeIdempotency) Get(_ context.Context, key string) (*ports.IdempotencyRecord, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	v, ok := fk.records[key]
	if !ok {
		return nil, nil
	}
	cp := v
	return &cp, nil
}

func (fk *fakeIdempotency) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	if _, ok := fk.records[key]; ok {
		return domain.ErrConflict
	}
	fk.records[key] = ports.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      "PENDING",
		ExpiresAt:   expiresAt,
	}
	return nil
}

func (fk *fakeIdempotency) Complete(_ context.Context, key string, responseCode int, responseBody []byte, at time.Time) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	v := fk.records[key]
	v.Status = "COMPLETED"
	v.ResponseCode = responseCode
	v.ResponseBody = responseBody
	v.UpdatedAt = at
	fk.records[key] = v
	return nil
}

type fakeLockouts struct {
	mu       sync.Mutex
	state    map[string]ports.LockoutState
	failNext error
}

func (fk *fakeLockouts) Get(_ context.Context, key string) (ports.LockoutState, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	if fk.failNext != nil {
		err := fk.failNext
		fk.failNext = nil
		return ports.LockoutState{}, err
	}
	return fk.state[key], nil
}

func (fk *fakeLockouts) RecordFailure(_ context.Context, key string, now time.Time, threshold int, lockoutWindow time.Duration) (ports.LockoutState, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	st := fk.state[key]
	if st.LockedUntil != nil && !st.LockedUntil.After(now) {
		st = ports.LockoutState{}
	}
	st.FailedCount++
	if st.FailedCount >= threshold {
		lockUntil := now.Add(lockoutWindow)
		st.LockedUntil = &lockUntil
	}
	fk.state[key] = st
	return st, nil
}

func (fk *fakeLockouts) Clear(_ context.Context, key string) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	delete(fk.state, key)
	return nil
}

func (fk *fakeLockouts) failedCount(key string) int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.state[key].FailedCount
}

func (fk *fakeLockouts) lock(key string, until time.Time) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	st := fk.state[key]
	st.LockedUntil = &until
	fk.state[key] = st
}

type fakeCatalog struct {
	mu     sync.Mutex
	prices map[uuid.UUID]int64
}

func (fk *fakeCatalog) set(productID uuid.UUID, price int64) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.prices[productID] = price
}

func (fk *fakeCatalog) GetPrice(_ context.Context, productID uuid.UUID) (ports.PriceQuote, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	price, ok := fk.prices[productID]
	if !ok {
		return ports.PriceQuote{}, domain.ErrNotFound
	}
	return ports.PriceQuote{UnitPrice: price, Currency: "KES"}, nil
}

type fakeGateway struct {
	mu              sync.Mutex
	submits         int
	submitErrs      []error
	lastToken       string
	provider        string
	statusOutcome   string
	statusReference string
	statusReason    string
}

func (fk *fakeGateway) scriptSubmitErrors(errs ...error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.submitErrs = append(fk.submitErrs, errs...)
}

func (fk *fakeGateway) Submit(_ context.Context, req ports.GatewaySubmitRequest) (ports.GatewaySubmitResult, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.submits++
	if len(fk.submitErrs) > 0 {
		err := fk.submitErrs[0]
		fk.submitErrs = fk.submitErrs[1:]
		if err != nil {
			return ports.GatewaySubmitResult{}, err
		}
	}
	fk.provider = req.Provider
	fk.lastToken = "corr-" + req.IdempotencyKey[:8] + "-" + fmt.Sprint(fk.submits)
	return ports.GatewaySubmitResult{CorrelationToken: fk.lastToken}, nil
}

func (fk *fakeGateway) QueryStatus(context.Context, string) (ports.GatewayStatus, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return ports.GatewayStatus{
		Outcome:          fk.statusOutcome,
		GatewayReference: fk.statusReference,
		FailureReason:    fk.statusReason,
	}, nil
}

func (fk *fakeGateway) submitCalls() int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.submits
}

func (fk *fakeGateway) lastProvider() string {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.provider
}

func (fk *fakeGateway) lastCorrelationToken() string {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.lastToken
}

type fakeHasher struct{}

func (fakeHasher) Hash(secret string) (string, error) { return "hashed:" + secret, nil }
func (fakeHasher) Compare(hash, secret string) error {
	if hash != "hashed:"+secret {
		return errors.New("secret mismatch")
	}
	return nil
}

type fakeSigner struct {
	mu     sync.Mutex
	tokens map[string]ports.TerminalClaims
	seq    int
}

func (fk *fakeSigner) Sign(claims ports.TerminalClaims) (string, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.seq++
	token := fmt.Sprintf("terminal-token-%d", fk.seq)
	fk.tokens[token] = claims
	return token, nil
}

func (fk *fakeSigner) ParseAndValidate(token string) (ports.TerminalClaims, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	claims, ok := fk.tokens[token]
	if !ok {
		return ports.TerminalClaims{}, errors.New("unknown token")
	}
	return claims, nil
}

func (fk *fakeSigner) PublicJWKs() ([]map[string]any, error) {
	return []map[string]any{{"kty": "RSA", "kid": "test-key"}}, nil
}
