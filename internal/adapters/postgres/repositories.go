package postgres

import (
	"github.com/sokopay/facepay-core/internal/ports"
	"gorm.io/gorm"
)

// Repositories bundles the Postgres-backed adapters behind their ports.
type Repositories struct {
	Identities  ports.IdentityRepository
	Sessions    ports.SessionRepository
	Intents     ports.IntentRepository
	Attempts    ports.AttemptRepository
	FraudAlerts ports.FraudAlertRepository
	Terminals   ports.TerminalRepository
	Catalog     ports.CatalogRepository
	Outbox      ports.OutboxRepository
	Idempotency ports.IdempotencyRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Identities:  &identityRepository{db: db},
		Sessions:    &sessionRepository{db: db},
		Intents:     &intentRepository{db: db},
		Attempts:    &attemptRepository{db: db},
		FraudAlerts: &fraudAlertRepository{db: db},
		Terminals:   &terminalRepository{db: db},
		Catalog:     &productRepository{db: db},
		Outbox:      &outboxRepository{db: db},
		Idempotency: &idempotencyRepository{db: db},
	}
}
