package enum

// AdjustmentType 表示庫存調整的種類
type AdjustmentType string

const (
	AdjustmentTypeIncrease AdjustmentType = "increase" // 進貨，增加在庫數量
	AdjustmentTypeDecrease AdjustmentType = "decrease" // 盤損或出庫，減少在庫數量
	AdjustmentTypeReserve  AdjustmentType = "reserve"  // 為訂單保留庫存
	AdjustmentTypeRelease  AdjustmentType = "release"  // 釋放已保留的庫存
	AdjustmentTypeFulfill  AdjustmentType = "fulfill"  // 出貨，同時扣減保留與在庫數量

	// AdjustmentTypeCorrection is only written by direct record updates and is
	// never accepted as a request type.
	AdjustmentTypeCorrection AdjustmentType = "correction"
)

// Requestable reports whether t may appear in an adjustment request.
func (t AdjustmentType) Requestable() bool {
	switch t {
	case AdjustmentTypeIncrease, AdjustmentTypeDecrease, AdjustmentTypeReserve,
		AdjustmentTypeRelease, AdjustmentTypeFulfill:
		return true
	default:
		return false
	}
}
