package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"goflare.io/inventory/models"
)

const (
	// MovementSubject prefixes every published movement; the adjustment type
	// is appended, e.g. inventory.movement.reserve.
	MovementSubject = "inventory.movement"
	// CommandSubject carries AdjustmentCommand payloads from other services.
	CommandSubject = "inventory.command.adjust"

	commandQueueGroup = "inventory-service"

	drainPollInterval = 20 * time.Millisecond
)

type EventManager struct {
	natsConn *nats.Conn

	mu            sync.Mutex
	subscriptions []*nats.Subscription

	logger *zap.Logger
}

func NewEventManager(natsConn *nats.Conn, logger *zap.Logger) *EventManager {
	return &EventManager{
		natsConn: natsConn,
		logger:   logger,
	}
}

func movementSubject(movement *models.InventoryMovement) string {
	return fmt.Sprintf("%s.%s", MovementSubject, movement.Type)
}

// PublishMovements sends each movement on its own subject. Publishing stops at
// the first failure.
func (em *EventManager) PublishMovements(_ context.Context, movements ...*models.InventoryMovement) error {
	for _, movement := range movements {
		data, err := json.Marshal(movement)
		if err != nil {
			return fmt.Errorf("failed to marshal movement %s: %w", movement.ID, err)
		}

		subject := movementSubject(movement)
		if err = em.natsConn.Publish(subject, data); err != nil {
			return fmt.Errorf("failed to publish movement %s: %w", movement.ID, err)
		}

		em.logger.Debug("movement published",
			zap.String("subject", subject),
			zap.String("movement_id", movement.ID))
	}
	return nil
}

// SubscribeToCommands joins the command queue group so that each command is
// delivered to one instance only.
func (em *EventManager) SubscribeToCommands(wp *WorkerPool) error {
	sub, err := em.natsConn.QueueSubscribe(CommandSubject, commandQueueGroup, func(msg *nats.Msg) {
		wp.Submit(context.Background(), msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", CommandSubject, err)
	}

	em.mu.Lock()
	em.subscriptions = append(em.subscriptions, sub)
	em.mu.Unlock()

	em.logger.Info("subscribed to inventory commands", zap.String("subject", CommandSubject))
	return nil
}

// Drain stops delivery of new commands and waits until every buffered
// message has been handed to the pool, or ctx is done.
func (em *EventManager) Drain(ctx context.Context) error {
	em.mu.Lock()
	subscriptions := em.subscriptions
	em.subscriptions = nil
	em.mu.Unlock()

	for _, sub := range subscriptions {
		if err := sub.Drain(); err != nil {
			em.logger.Warn("failed to drain subscription", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}

	pending := make([]drainer, 0, len(subscriptions))
	for _, sub := range subscriptions {
		pending = append(pending, sub)
	}
	return waitDrained(ctx, pending...)
}

// drainer is the part of *nats.Subscription that draining relies on.
type drainer interface {
	IsValid() bool
}

// waitDrained blocks until every subscription has become invalid, which
// happens once its buffered messages have been delivered.
func waitDrained(ctx context.Context, subscriptions ...drainer) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for _, sub := range subscriptions {
		for sub.IsValid() {
			select {
			case <-ctx.Done():
				return fmt.Errorf("failed to wait for subscription drain: %w", ctx.Err())
			case <-ticker.C:
			}
		}
	}
	return nil
}
