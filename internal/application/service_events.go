package application

const (
	// eventTypeSettlementSucceeded is emitted when an intent reaches SUCCEEDED.
	eventTypeSettlementSucceeded = "settlement.succeeded"
	// eventTypeSettlementFailed is emitted on FAILED or EXPIRED intents.
	eventTypeSettlementFailed = "settlement.failed"
	// eventTypeSessionExpired is emitted by the idle-session sweep.
	eventTypeSessionExpired = "session.expired"
	// eventTypeLoyaltyAccrue asks the loyalty service to credit points,
	// fire-and-forget after settle.
	eventTypeLoyaltyAccrue = "loyalty.accrue"
	// eventTypeNotificationReceipt asks the notification service to deliver
	// the purchase receipt, fire-and-forget after settle.
	eventTypeNotificationReceipt = "notification.receipt"
	// eventTypeFraudAlertRaised mirrors a stored fraud alert onto the stream.
	eventTypeFraudAlertRaised = "fraud.alert.raised"
	// eventTypeIdentityEnrolled is emitted when a shopper is enrolled.
	eventTypeIdentityEnrolled = "identity.enrolled"
	// eventTypeIdentityRevoked is emitted when an identity is revoked.
	eventTypeIdentityRevoked = "identity.revoked"
)
