package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/inventory/models"
	"goflare.io/inventory/models/enum"
)

type fakeEvents struct {
	mu     sync.Mutex
	events map[string]*models.Event
	err    error
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{events: make(map[string]*models.Event)}
}

func (e *fakeEvents) Claim(_ context.Context, event *models.Event) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil {
		return false, e.err
	}
	if existing, ok := e.events[event.ID]; ok {
		if existing.Processed {
			return false, nil
		}
		if existing.ClaimedUntil != nil && existing.ClaimedUntil.After(event.UpdatedAt) {
			return false, nil
		}
		existing.ClaimedUntil = event.ClaimedUntil
		existing.UpdatedAt = event.UpdatedAt
		return true, nil
	}
	stored := *event
	e.events[event.ID] = &stored
	return true, nil
}

func (e *fakeEvents) GetByID(_ context.Context, id string) (*models.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	event, ok := e.events[id]
	if !ok {
		return nil, nil
	}
	stored := *event
	return &stored, nil
}

func (e *fakeEvents) MarkAsProcessed(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if event, ok := e.events[id]; ok {
		event.Processed = true
		event.ClaimedUntil = nil
	}
	return nil
}

func newTestProcessor(env *testEnv, events *fakeEvents) *CommandProcessor {
	p := NewCommandProcessor(env.service, events, zap.NewNop())
	p.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return p
}

func TestProcessCommand(t *testing.T) {
	env := newTestEnv(newRecord("var_1", 10, 0), newRecord("var_2", 1, 0))
	events := newFakeEvents()
	p := newTestProcessor(env, events)

	result, err := p.ProcessCommand(context.Background(), &models.AdjustmentCommand{
		ID: "cmd_1",
		Adjustments: []models.AdjustmentRequest{
			request("var_1", enum.AdjustmentTypeReserve, 3),
			request("var_2", enum.AdjustmentTypeDecrease, 2),
		},
	})

	require.NoError(t, err)
	assert.Len(t, result.Results, 1)
	assert.Len(t, result.Errors, 1)
	assert.True(t, events.events["cmd_1"].Processed)
	assert.Equal(t, CommandSubject, events.events["cmd_1"].Subject)
}

func TestProcessCommand_Duplicate(t *testing.T) {
	env := newTestEnv(newRecord("var_1", 10, 0))
	p := newTestProcessor(env, newFakeEvents())
	command := &models.AdjustmentCommand{
		ID:          "cmd_1",
		Adjustments: []models.AdjustmentRequest{request("var_1", enum.AdjustmentTypeIncrease, 5)},
	}

	_, err := p.ProcessCommand(context.Background(), command)
	require.NoError(t, err)

	_, err = p.ProcessCommand(context.Background(), command)
	require.ErrorIs(t, err, ErrDuplicateCommand)
	assert.Equal(t, 15, env.stock.record("var_1").QuantityOnHand)
}

func TestProcessCommand_ResumesInterruptedCommand(t *testing.T) {
	env := newTestEnv(newRecord("var_1", 10, 0), newRecord("var_2", 5, 0))
	events := newFakeEvents()
	p := newTestProcessor(env, events)
	ctx := context.Background()

	// 前次投遞只套用了第一行，租約已過期
	env.service.ApplyCommand(ctx, &models.AdjustmentCommand{
		ID:          "cmd_1",
		Adjustments: []models.AdjustmentRequest{request("var_1", enum.AdjustmentTypeIncrease, 1)},
	})
	expired := time.Now().Add(-time.Minute)
	events.events["cmd_1"] = &models.Event{ID: "cmd_1", Subject: CommandSubject, ClaimedUntil: &expired}

	result, err := p.ProcessCommand(ctx, &models.AdjustmentCommand{
		ID: "cmd_1",
		Adjustments: []models.AdjustmentRequest{
			request("var_1", enum.AdjustmentTypeIncrease, 1),
			request("var_2", enum.AdjustmentTypeIncrease, 2),
		},
	})

	require.NoError(t, err)
	assert.Len(t, result.Results, 2)
	assert.Equal(t, 11, env.stock.record("var_1").QuantityOnHand)
	assert.Equal(t, 7, env.stock.record("var_2").QuantityOnHand)
	assert.Len(t, env.stock.movements, 2)
	assert.True(t, events.events["cmd_1"].Processed)
}

func TestProcessCommand_ClaimedByAnotherDelivery(t *testing.T) {
	env := newTestEnv(newRecord("var_1", 10, 0))
	events := newFakeEvents()
	leased := time.Now().Add(time.Minute)
	events.events["cmd_1"] = &models.Event{ID: "cmd_1", Subject: CommandSubject, ClaimedUntil: &leased}
	p := newTestProcessor(env, events)

	_, err := p.ProcessCommand(context.Background(), &models.AdjustmentCommand{
		ID:          "cmd_1",
		Adjustments: []models.AdjustmentRequest{request("var_1", enum.AdjustmentTypeIncrease, 1)},
	})

	require.ErrorIs(t, err, ErrCommandInProgress)
	assert.Equal(t, 10, env.stock.record("var_1").QuantityOnHand)
	assert.False(t, events.events["cmd_1"].Processed)
}

func TestProcessCommand_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	env := newTestEnv(newRecord("var_1", 10, 0))
	p := newTestProcessor(env, newFakeEvents())
	command := &models.AdjustmentCommand{
		ID:          "cmd_1",
		Adjustments: []models.AdjustmentRequest{request("var_1", enum.AdjustmentTypeIncrease, 1)},
	}

	const deliveries = 4
	errs := make([]error, deliveries)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = p.ProcessCommand(context.Background(), command)
		}()
	}
	close(start)
	wg.Wait()

	applied := 0
	for _, err := range errs {
		if err == nil {
			applied++
			continue
		}
		assert.True(t, errors.Is(err, ErrCommandInProgress) || errors.Is(err, ErrDuplicateCommand), err)
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 11, env.stock.record("var_1").QuantityOnHand)
	assert.Len(t, env.stock.movements, 1)
}

func TestProcessMessage_InProgressRepliesDuplicate(t *testing.T) {
	env := newTestEnv(newRecord("var_1", 10, 0))
	events := newFakeEvents()
	leased := time.Now().Add(time.Minute)
	events.events["cmd_1"] = &models.Event{ID: "cmd_1", Subject: CommandSubject, ClaimedUntil: &leased}
	p := newTestProcessor(env, events)
	data, err := json.Marshal(models.AdjustmentCommand{
		ID:          "cmd_1",
		Adjustments: []models.AdjustmentRequest{request("var_1", enum.AdjustmentTypeIncrease, 1)},
	})
	require.NoError(t, err)

	err = p.ProcessMessage(context.Background(), &nats.Msg{Subject: CommandSubject, Data: data})

	require.NoError(t, err)
	assert.Equal(t, 10, env.stock.record("var_1").QuantityOnHand)
}

func TestProcessCommand_Invalid(t *testing.T) {
	p := newTestProcessor(newTestEnv(), newFakeEvents())

	_, err := p.ProcessCommand(context.Background(), &models.AdjustmentCommand{ID: "cmd_1"})

	assert.Equal(t, models.KindValidation, models.KindOf(err))
}

func TestProcessCommand_EventStoreFailure(t *testing.T) {
	events := newFakeEvents()
	events.err = errors.New("db down")
	p := newTestProcessor(newTestEnv(newRecord("var_1", 1, 0)), events)

	_, err := p.ProcessCommand(context.Background(), &models.AdjustmentCommand{
		ID:          "cmd_1",
		Adjustments: []models.AdjustmentRequest{request("var_1", enum.AdjustmentTypeIncrease, 1)},
	})

	require.Error(t, err)
}

func TestProcessCommand_RetriesConflicts(t *testing.T) {
	env := newTestEnv(newRecord("var_1", 10, 0))
	conflicts := 2
	env.stock.beforeUpdate = func(stored *models.InventoryRecord) {
		if conflicts > 0 {
			conflicts--
			stored.Version++
		}
	}
	p := newTestProcessor(env, newFakeEvents())

	result, err := p.ProcessCommand(context.Background(), &models.AdjustmentCommand{
		ID:          "cmd_1",
		Adjustments: []models.AdjustmentRequest{request("var_1", enum.AdjustmentTypeReserve, 4)},
	})

	require.NoError(t, err)
	assert.Len(t, result.Results, 1)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 4, env.stock.record("var_1").QuantityReserved)
	require.Len(t, env.stock.movements, 1)
	assert.Equal(t, 1, env.stock.movements[0].ReferenceLine)
}

func TestProcessCommand_GivesUpOnPersistentConflict(t *testing.T) {
	env := newTestEnv(newRecord("var_1", 10, 0))
	env.stock.beforeUpdate = func(stored *models.InventoryRecord) {
		stored.Version++
	}
	p := newTestProcessor(env, newFakeEvents())

	result, err := p.ProcessCommand(context.Background(), &models.AdjustmentCommand{
		ID:          "cmd_1",
		Adjustments: []models.AdjustmentRequest{request("var_1", enum.AdjustmentTypeReserve, 4)},
	})

	require.NoError(t, err)
	assert.Empty(t, result.Results)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, models.KindConflict, result.Errors[0].Kind)
	assert.Equal(t, models.ErrConcurrentModification.Error(), result.Errors[0].Error)
}

func TestProcessMessage(t *testing.T) {
	env := newTestEnv(newRecord("var_1", 10, 0))
	p := newTestProcessor(env, newFakeEvents())
	data, err := json.Marshal(models.AdjustmentCommand{
		ID:          "cmd_1",
		Adjustments: []models.AdjustmentRequest{request("var_1", enum.AdjustmentTypeFulfill, 1)},
	})
	require.NoError(t, err)

	err = p.ProcessMessage(context.Background(), &nats.Msg{Subject: CommandSubject, Data: data})

	require.NoError(t, err)
	assert.Equal(t, 10, env.stock.record("var_1").QuantityOnHand)
	assert.Len(t, env.stock.movements, 0)
}

func TestProcessMessage_BadPayload(t *testing.T) {
	p := newTestProcessor(newTestEnv(), newFakeEvents())

	err := p.ProcessMessage(context.Background(), &nats.Msg{Subject: CommandSubject, Data: []byte("{")})

	assert.Error(t, err)
}
