package enum

// MovementReferenceType 表示庫存變動的來源
type MovementReferenceType string

const (
	MovementReferenceTypeAdjustment     MovementReferenceType = "adjustment"
	MovementReferenceTypeBulkAdjustment MovementReferenceType = "bulk_adjustment"
	MovementReferenceTypeCommand        MovementReferenceType = "command"
	MovementReferenceTypeCorrection     MovementReferenceType = "correction"
)
