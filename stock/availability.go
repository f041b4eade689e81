package stock

import (
	"context"

	"go.uber.org/zap"

	"goflare.io/inventory/driver"
)

// AvailabilityStore answers variant availability from inventory_records,
// scoped to the stock locations of a sales channel.
type AvailabilityStore struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewAvailabilityStore(conn driver.PostgresPool, logger *zap.Logger) *AvailabilityStore {
	return &AvailabilityStore{
		conn:   conn,
		logger: logger,
	}
}

// GetAvailability returns the available quantity of each variant that has a
// record in a location served by salesChannelID. An empty salesChannelID
// matches every location. Variants without a matching record are absent from
// the result.
func (s *AvailabilityStore) GetAvailability(ctx context.Context, variantIDs []string, salesChannelID string) (map[string]int, error) {
	availability := make(map[string]int, len(variantIDs))
	if len(variantIDs) == 0 {
		return availability, nil
	}

	rows, err := s.conn.Query(ctx,
		`SELECT r.variant_id, r.quantity_available
		   FROM inventory_records r
		  WHERE r.variant_id = ANY($1)
		    AND ($2::text = '' OR r.location IN (
		        SELECT l.location FROM sales_channel_locations l WHERE l.sales_channel_id = $2))`,
		variantIDs, salesChannelID)
	if err != nil {
		s.logger.Error("failed to query availability",
			zap.Strings("variant_ids", variantIDs),
			zap.String("sales_channel_id", salesChannelID),
			zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			variantID string
			available int
		)
		if err = rows.Scan(&variantID, &available); err != nil {
			return nil, err
		}
		availability[variantID] = available
	}

	return availability, rows.Err()
}
