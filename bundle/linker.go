package bundle

import "goflare.io/inventory/models"

// QuantityMap returns product id -> required quantity for components.
func QuantityMap(components []models.BundleComponent) map[string]int {
	quantities := make(map[string]int, len(components))
	for _, c := range components {
		quantities[c.ProductID] = c.QuantityRequired
	}
	return quantities
}

// Link returns the inventory records the bundle's own variant should track,
// each with the quantity one bundle consumes. Components without a variant,
// without an inventory record, or without a positive quantity are skipped, so
// the result may cover only part of the bundle.
func Link(components []models.BundleComponent, quantities map[string]int) []models.BundleInventoryItem {
	items := make([]models.BundleInventoryItem, 0, len(components))
	for _, c := range components {
		if c.Variant == nil || c.Variant.InventoryID == nil || *c.Variant.InventoryID == "" {
			continue
		}
		required := quantities[c.ProductID]
		if required <= 0 {
			continue
		}
		items = append(items, models.BundleInventoryItem{
			InventoryID:      *c.Variant.InventoryID,
			RequiredQuantity: required,
		})
	}
	return items
}
