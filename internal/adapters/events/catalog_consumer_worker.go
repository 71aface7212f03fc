package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/domain"
	"github.com/sokopay/facepay-core/internal/ports"
)

// catalogUpdateEvent is the merchandising system's product event shape.
type catalogUpdateEvent struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	UnitPrice int64     `json:"unit_price"`
	Currency  string    `json:"currency"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CatalogConsumerWorker mirrors merchandising catalog events into the local
// products table that prices cart lines. A malformed message is logged and
// skipped, never retried into a poison loop.
type CatalogConsumerWorker struct {
	logger    *slog.Logger
	consumer  *KafkaConsumer
	catalog   ports.CatalogRepository
	interval  time.Duration
	batchSize int
}

func NewCatalogConsumerWorker(
	logger *slog.Logger,
	consumer *KafkaConsumer,
	catalog ports.CatalogRepository,
	interval time.Duration,
	batchSize int,
) *CatalogConsumerWorker {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &CatalogConsumerWorker{
		logger:    logger,
		consumer:  consumer,
		catalog:   catalog,
		interval:  interval,
		batchSize: batchSize,
	}
}

func (w *CatalogConsumerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.processOnce(ctx); err != nil {
			w.logger.ErrorContext(ctx, "catalog consume iteration failed",
				"module", "events.catalog_consumer",
				"layer", "adapter",
				"operation", "consume_catalog_events",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *CatalogConsumerWorker) processOnce(ctx context.Context) error {
	messages, err := w.consumer.Poll(ctx, w.batchSize)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		var event catalogUpdateEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil || event.ProductID == uuid.Nil {
			w.logger.WarnContext(ctx, "skipping malformed catalog event",
				"module", "events.catalog_consumer",
				"layer", "adapter",
				"operation", "consume_catalog_events",
				"outcome", "skipped",
				"topic", msg.Topic,
				"payload_bytes", len(msg.Payload),
			)
			continue
		}
		updatedAt := event.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		if err := w.catalog.UpsertProduct(ctx, domain.Product{
			ProductID: event.ProductID,
			Name:      event.Name,
			UnitPrice: event.UnitPrice,
			Currency:  event.Currency,
			IsActive:  event.IsActive,
			UpdatedAt: updatedAt,
		}); err != nil {
			w.logger.ErrorContext(ctx, "failed to apply catalog event",
				"module", "events.catalog_consumer",
				"layer", "adapter",
				"operation", "consume_catalog_events",
				"outcome", "failure",
				"product_id", event.ProductID,
				"error", err,
			)
		}
	}
	return nil
}
