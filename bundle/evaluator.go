// Package bundle computes availability for composite products and links
// their component inventory to the bundle's own variant.
package bundle

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goflare.io/inventory/models"
)

// AvailabilityProvider reports available quantity per variant within a sales
// channel. Variants it knows nothing about are left out of the map.
type AvailabilityProvider interface {
	GetAvailability(ctx context.Context, variantIDs []string, salesChannelID string) (map[string]int, error)
}

type Evaluator struct {
	provider AvailabilityProvider
	limit    int
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewEvaluator builds an Evaluator. limit caps concurrent lookups per
// evaluation; zero or less means one goroutine per component.
func NewEvaluator(provider AvailabilityProvider, limit int, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		provider: provider,
		limit:    limit,
		tracer:   otel.Tracer("goflare.io/inventory/bundle"),
		logger:   logger,
	}
}

// Evaluate looks up every component's availability concurrently and
// aggregates once all lookups have finished. A component without a variant
// counts as zero available. A failed lookup does not cancel the others; the
// first failure is returned after they complete.
func (e *Evaluator) Evaluate(ctx context.Context, bundleID string, components []models.BundleComponent, salesChannelID string) (*models.BundleAvailability, error) {
	ctx, span := e.tracer.Start(ctx, "bundle.evaluate", trace.WithAttributes(
		attribute.String("bundle.id", bundleID),
		attribute.String("sales_channel.id", salesChannelID),
		attribute.Int("bundle.components", len(components)),
	))
	defer span.End()

	results := make([]models.ComponentAvailability, len(components))

	var g errgroup.Group
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}

	for i, component := range components {
		results[i] = models.ComponentAvailability{
			ProductID:        component.ProductID,
			QuantityRequired: component.QuantityRequired,
		}
		if component.Variant == nil || component.Variant.ID == "" {
			e.logger.Debug("bundle component has no variant",
				zap.String("bundle_id", bundleID),
				zap.String("product_id", component.ProductID))
			continue
		}

		variantID := component.Variant.ID
		results[i].VariantID = variantID

		g.Go(func() error {
			availability, err := e.provider.GetAvailability(ctx, []string{variantID}, salesChannelID)
			if err != nil {
				e.logger.Error("failed to get variant availability",
					zap.String("bundle_id", bundleID),
					zap.String("variant_id", variantID),
					zap.Error(err))
				return fmt.Errorf("availability of variant %s: %w", variantID, err)
			}
			results[i].AvailableQuantity = max(0, availability[variantID])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "availability lookup failed")
		return nil, err
	}

	result := Aggregate(bundleID, results)
	span.SetAttributes(
		attribute.Bool("bundle.available", result.BundleAvailable),
		attribute.Int("bundle.max_quantity", result.MaxBundleQuantity),
	)
	return result, nil
}

// Aggregate fills CanFulfill on each component and derives the bundle-level
// result. A bundle with no components is available with a max quantity of 0.
func Aggregate(bundleID string, components []models.ComponentAvailability) *models.BundleAvailability {
	if components == nil {
		components = make([]models.ComponentAvailability, 0)
	}

	result := &models.BundleAvailability{
		BundleID:              bundleID,
		BundleAvailable:       true,
		ComponentAvailability: components,
	}
	if len(components) == 0 {
		return result
	}

	maxBundles := math.MaxInt
	for i := range components {
		c := &components[i]
		c.CanFulfill = c.VariantID != "" && c.AvailableQuantity >= c.QuantityRequired
		if !c.CanFulfill {
			result.BundleAvailable = false
		}

		buildable := 0
		if c.QuantityRequired > 0 {
			buildable = c.AvailableQuantity / c.QuantityRequired
		}
		maxBundles = min(maxBundles, buildable)
	}
	result.MaxBundleQuantity = maxBundles

	return result
}
