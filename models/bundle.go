package models

// Bundle 代表由多個商品組成的組合商品
type Bundle struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	ProductID  string            `json:"product_id"`
	VariantID  string            `json:"variant_id"`
	Components []BundleComponent `json:"components"`
}

// BundleComponent is one (product, required quantity) pair of a bundle. Variant
// is the component product's primary sellable unit, nil when it has none.
type BundleComponent struct {
	ProductID        string      `json:"product_id"`
	QuantityRequired int         `json:"quantity_required"`
	Variant          *VariantRef `json:"variant,omitempty"`
}

// VariantRef 是規格的快照，InventoryID 為其背後的庫存記錄
type VariantRef struct {
	ID          string  `json:"id"`
	InventoryID *string `json:"inventory_id,omitempty"`
}

// ComponentAvailability is the per-component part of a bundle evaluation.
type ComponentAvailability struct {
	ProductID         string `json:"product_id"`
	VariantID         string `json:"variant_id,omitempty"`
	QuantityRequired  int    `json:"quantity_required"`
	AvailableQuantity int    `json:"available_quantity"`
	CanFulfill        bool   `json:"can_fulfill"`
}

// BundleAvailability 組合商品的可售狀態
type BundleAvailability struct {
	BundleID              string                  `json:"bundle_id"`
	BundleAvailable       bool                    `json:"bundle_available"`
	MaxBundleQuantity     int                     `json:"max_bundle_quantity"`
	ComponentAvailability []ComponentAvailability `json:"component_availability"`
}

// BundleInventoryItem links an inventory record to a bundle's sellable unit.
type BundleInventoryItem struct {
	InventoryID      string `json:"inventory_id"`
	RequiredQuantity int    `json:"required_quantity"`
}
