package application

import (
	"time"

	"github.com/sokopay/facepay-core/internal/ports"
)

const serviceName = "FacePay-Core"

// Service implements the verification and settlement use-cases. All
// suspension points (gateway calls) run without any repository row locks
// held; terminal transitions are applied afterwards as guarded updates.
type Service struct {
	cfg         Config
	identities  ports.IdentityRepository
	sessions    ports.SessionRepository
	intents     ports.IntentRepository
	attempts    ports.AttemptRepository
	fraudAlerts ports.FraudAlertRepository
	terminals   ports.TerminalRepository
	outbox      ports.OutboxRepository
	idempotency ports.IdempotencyRepository
	lockouts    ports.LockoutStore
	catalog     ports.PriceCatalog
	gateway     ports.PaymentGateway
	fraud       ports.FraudObserver
	hasher      ports.SecretHasher
	tokenSigner ports.TokenSigner
	nowFn       func() time.Time
}

type Dependencies struct {
	Config      Config
	Identities  ports.IdentityRepository
	Sessions    ports.SessionRepository
	Intents     ports.IntentRepository
	Attempts    ports.AttemptRepository
	FraudAlerts ports.FraudAlertRepository
	Terminals   ports.TerminalRepository
	Outbox      ports.OutboxRepository
	Idempotency ports.IdempotencyRepository
	Lockouts    ports.LockoutStore
	Catalog     ports.PriceCatalog
	Gateway     ports.PaymentGateway
	Fraud       ports.FraudObserver
	Hasher      ports.SecretHasher
	TokenSigner ports.TokenSigner
}

func NewService(deps Dependencies) *Service {
	return &Service{
		cfg:         deps.Config,
		identities:  deps.Identities,
		sessions:    deps.Sessions,
		intents:     deps.Intents,
		attempts:    deps.Attempts,
		fraudAlerts: deps.FraudAlerts,
		terminals:   deps.Terminals,
		outbox:      deps.Outbox,
		idempotency: deps.Idempotency,
		lockouts:    deps.Lockouts,
		catalog:     deps.Catalog,
		gateway:     deps.Gateway,
		fraud:       deps.Fraud,
		hasher:      deps.Hasher,
		tokenSigner: deps.TokenSigner,
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
}
