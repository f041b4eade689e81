package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"goflare.io/inventory/event"
	"goflare.io/inventory/models"
)

const (
	maxConflictRetries = 5
	// commandLease bounds how long one delivery may hold a command; it must
	// outlast the conflict retries.
	commandLease = time.Minute
)

var (
	ErrDuplicateCommand  = errors.New("command already processed")
	ErrCommandInProgress = errors.New("command is being processed by another delivery")
)

// CommandReply is sent back when a command message carries a reply subject.
type CommandReply struct {
	CommandID string                       `json:"command_id"`
	Duplicate bool                         `json:"duplicate,omitempty"`
	Result    *models.BulkAdjustmentResult `json:"result,omitempty"`
	Error     string                       `json:"error,omitempty"`
}

// CommandProcessor applies adjustment commands received over NATS. Items
// rejected for a concurrent modification are retried with backoff; every
// other rejection is final.
type CommandProcessor struct {
	service Service
	events  event.Repository

	newBackOff func() backoff.BackOff
	lease      time.Duration
	now        func() time.Time

	logger *zap.Logger
}

func NewCommandProcessor(service Service, events event.Repository, logger *zap.Logger) *CommandProcessor {
	return &CommandProcessor{
		service: service,
		events:  events,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
		lease:  commandLease,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

func (p *CommandProcessor) ProcessMessage(ctx context.Context, msg *nats.Msg) error {
	var command models.AdjustmentCommand
	if err := json.Unmarshal(msg.Data, &command); err != nil {
		p.respond(msg, &CommandReply{Error: "invalid command payload"})
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	result, err := p.ProcessCommand(ctx, &command)
	switch {
	case errors.Is(err, ErrDuplicateCommand):
		p.logger.Info("Command already processed", zap.String("command_id", command.ID))
		p.respond(msg, &CommandReply{CommandID: command.ID, Duplicate: true})
		return nil
	case errors.Is(err, ErrCommandInProgress):
		p.logger.Info("Command already in progress", zap.String("command_id", command.ID))
		p.respond(msg, &CommandReply{CommandID: command.ID, Duplicate: true, Error: err.Error()})
		return nil
	case err != nil:
		p.respond(msg, &CommandReply{CommandID: command.ID, Error: err.Error()})
		return err
	}

	p.respond(msg, &CommandReply{CommandID: command.ID, Result: result})
	return nil
}

func (p *CommandProcessor) ProcessCommand(ctx context.Context, command *models.AdjustmentCommand) (*models.BulkAdjustmentResult, error) {
	if err := command.Validate(); err != nil {
		return nil, err
	}

	// 1. 取得指令的處理租約，已完成或處理中者略過
	now := p.now()
	claimedUntil := now.Add(p.lease)
	claimed, err := p.events.Claim(ctx, &models.Event{
		ID:           command.ID,
		Subject:      CommandSubject,
		ClaimedUntil: &claimedUntil,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim command: %w", err)
	}
	if !claimed {
		existing, err := p.events.GetByID(ctx, command.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load command: %w", err)
		}
		if existing != nil && existing.Processed {
			return nil, ErrDuplicateCommand
		}
		return nil, ErrCommandInProgress
	}

	// 2. 套用調整，已寫入異動記錄的指令行不會重複套用，版本衝突者重試
	result := p.service.ApplyCommand(ctx, command)
	result = p.retryConflicts(ctx, command.ID, result)

	// 3. 標記為已處理
	if err = p.events.MarkAsProcessed(ctx, command.ID); err != nil {
		return nil, fmt.Errorf("failed to mark command as processed: %w", err)
	}

	p.logger.Info("Command processed",
		zap.String("command_id", command.ID),
		zap.Int("succeeded", len(result.Results)),
		zap.Int("failed", len(result.Errors)))

	return result, nil
}

func (p *CommandProcessor) retryConflicts(ctx context.Context, commandID string, result *models.BulkAdjustmentResult) *models.BulkAdjustmentResult {
	final := make([]models.AdjustmentFailure, 0, len(result.Errors))
	pending := make([]models.AdjustmentRequest, 0)
	for _, failure := range result.Errors {
		if failure.Kind == models.KindConflict {
			pending = append(pending, failure.Request)
			continue
		}
		final = append(final, failure)
	}
	if len(pending) == 0 {
		return result
	}

	operation := func() error {
		retry := p.service.ApplyCommand(ctx, &models.AdjustmentCommand{ID: commandID, Adjustments: pending})
		result.Results = append(result.Results, retry.Results...)

		pending = pending[:0]
		for _, failure := range retry.Errors {
			if failure.Kind == models.KindConflict {
				pending = append(pending, failure.Request)
				continue
			}
			final = append(final, failure)
		}
		if len(pending) > 0 {
			return models.ErrConcurrentModification
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), maxConflictRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		p.logger.Warn("Giving up on conflicting adjustments",
			zap.String("command_id", commandID),
			zap.Int("remaining", len(pending)),
			zap.Error(err))
		for _, request := range pending {
			final = append(final, models.AdjustmentFailure{
				Request: request,
				Error:   models.ErrConcurrentModification.Error(),
				Kind:    models.KindConflict,
			})
		}
	}

	result.Errors = final
	return result
}

func (p *CommandProcessor) respond(msg *nats.Msg, reply *CommandReply) {
	if msg.Reply == "" {
		return
	}

	data, err := json.Marshal(reply)
	if err != nil {
		p.logger.Error("Failed to marshal command reply", zap.Error(err))
		return
	}
	if err = msg.Respond(data); err != nil {
		p.logger.Error("Failed to send command reply", zap.String("reply", msg.Reply), zap.Error(err))
	}
}
