package quantity

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/inventory/models"
	"goflare.io/inventory/models/enum"
)

func TestAvailable(t *testing.T) {
	assert.Equal(t, 7, Available(10, 3))
	assert.Equal(t, 0, Available(3, 3))
	assert.Equal(t, 0, Available(2, 5))
}

func TestIsLowStock(t *testing.T) {
	assert.True(t, IsLowStock(10, DefaultLowStockThreshold))
	assert.False(t, IsLowStock(11, DefaultLowStockThreshold))
	assert.True(t, IsLowStock(0, 0))
}

func TestIsOutOfStock(t *testing.T) {
	assert.True(t, IsOutOfStock(0))
	assert.True(t, IsOutOfStock(-1))
	assert.False(t, IsOutOfStock(1))
}

func TestApply(t *testing.T) {
	tests := []struct {
		name     string
		onHand   int
		reserved int
		typ      enum.AdjustmentType
		qty      int
		want     Levels
		wantMsg  string
	}{
		{name: "increase", onHand: 5, reserved: 2, typ: enum.AdjustmentTypeIncrease, qty: 3,
			want: Levels{OnHand: 8, Reserved: 2, Available: 6}},
		{name: "decrease to zero", onHand: 5, reserved: 0, typ: enum.AdjustmentTypeDecrease, qty: 5,
			want: Levels{OnHand: 0, Reserved: 0, Available: 0}},
		{name: "decrease below zero", onHand: 5, reserved: 0, typ: enum.AdjustmentTypeDecrease, qty: 6,
			wantMsg: MsgDecreaseBelowZero},
		{name: "decrease clamps reserved", onHand: 10, reserved: 8, typ: enum.AdjustmentTypeDecrease, qty: 5,
			want: Levels{OnHand: 5, Reserved: 5, Available: 0, Clamped: true}},
		{name: "reserve all available", onHand: 10, reserved: 4, typ: enum.AdjustmentTypeReserve, qty: 6,
			want: Levels{OnHand: 10, Reserved: 10, Available: 0}},
		{name: "reserve over available", onHand: 10, reserved: 4, typ: enum.AdjustmentTypeReserve, qty: 7,
			wantMsg: MsgReserveExceeds},
		{name: "release", onHand: 10, reserved: 4, typ: enum.AdjustmentTypeRelease, qty: 4,
			want: Levels{OnHand: 10, Reserved: 0, Available: 10}},
		{name: "release over reserved", onHand: 10, reserved: 4, typ: enum.AdjustmentTypeRelease, qty: 5,
			wantMsg: MsgReleaseExceeds},
		{name: "fulfill", onHand: 10, reserved: 4, typ: enum.AdjustmentTypeFulfill, qty: 3,
			want: Levels{OnHand: 7, Reserved: 1, Available: 6}},
		{name: "fulfill over reserved", onHand: 10, reserved: 4, typ: enum.AdjustmentTypeFulfill, qty: 5,
			wantMsg: MsgFulfillExceeds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.onHand, tt.reserved, tt.typ, tt.qty)
			if tt.wantMsg != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantMsg, err.Error())
				assert.Equal(t, models.KindBusinessRule, models.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply_RejectsBadInput(t *testing.T) {
	_, err := Apply(10, 0, enum.AdjustmentTypeIncrease, 0)
	require.Error(t, err)
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	_, err = Apply(10, 0, enum.AdjustmentTypeCorrection, 1)
	require.Error(t, err)
	assert.Equal(t, MsgUnknownAdjustment, err.Error())
}

func TestApply_InvariantsHoldAcrossRandomSequences(t *testing.T) {
	types := []enum.AdjustmentType{
		enum.AdjustmentTypeIncrease,
		enum.AdjustmentTypeDecrease,
		enum.AdjustmentTypeReserve,
		enum.AdjustmentTypeRelease,
		enum.AdjustmentTypeFulfill,
	}
	rng := rand.New(rand.NewSource(42))

	onHand, reserved := 0, 0
	for i := 0; i < 5000; i++ {
		typ := types[rng.Intn(len(types))]
		qty := rng.Intn(20) + 1

		levels, err := Apply(onHand, reserved, typ, qty)
		if err != nil {
			continue
		}
		onHand, reserved = levels.OnHand, levels.Reserved

		require.GreaterOrEqual(t, onHand, 0)
		require.GreaterOrEqual(t, reserved, 0)
		require.LessOrEqual(t, reserved, onHand)
		require.Equal(t, max(0, onHand-reserved), levels.Available)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Levels{OnHand: 3, Reserved: 3, Available: 0, Clamped: true}, Normalize(3, 9))
	assert.Equal(t, Levels{OnHand: 9, Reserved: 3, Available: 6}, Normalize(9, 3))
}
