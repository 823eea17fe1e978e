package restock

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"warungpos/backend/internal/cache"
	"warungpos/backend/internal/domain"
)

// Advisor ranks inventory items that should be reordered, weighing how far
// each item has depleted against how fast it has been selling.
type Advisor struct {
	cache      cache.CatalogCache
	cacheTTL   time.Duration
	minUrgency float64
}

func NewAdvisor(cacheStore cache.CatalogCache, cacheTTL time.Duration) *Advisor {
	if cacheStore == nil {
		cacheStore = cache.NoopCatalogCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Advisor{
		cache:      cacheStore,
		cacheTTL:   cacheTTL,
		minUrgency: 0.35,
	}
}

func (a *Advisor) Suggest(
	ctx context.Context,
	items []domain.InventoryItem,
	recentSales []domain.SalesTransaction,
	threshold int,
) []domain.RestockSuggestion {
	if threshold < 1 {
		threshold = 10
	}

	cacheKey := buildCacheKey(items, threshold)
	var cached []domain.RestockSuggestion
	if ok, err := a.cache.Get(ctx, cacheKey, &cached); err == nil && ok {
		return cached
	}

	sold := soldQuantities(recentSales)

	suggestions := make([]domain.RestockSuggestion, 0, 16)
	for _, item := range items {
		soldQty := sold[item.ID]

		depletion := clamp(1-float64(item.Quantity)/float64(threshold*3), 0, 1)
		demand := clamp(float64(soldQty)/50.0, 0, 1)

		urgency := 0.55*depletion + 0.45*demand
		if item.Quantity == 0 {
			urgency = 1
		}
		if urgency < a.minUrgency {
			continue
		}

		target := threshold * 2
		if soldQty > target {
			target = soldQty
		}
		orderQty := target - item.Quantity
		if orderQty < 1 {
			continue
		}

		suggestions = append(suggestions, domain.RestockSuggestion{
			ItemID:            item.ID,
			Name:              item.Name,
			Category:          item.Category,
			Quantity:          item.Quantity,
			SoldLast30Days:    soldQty,
			SuggestedOrderQty: orderQty,
			Urgency:           round2(urgency),
			ReasonCode:        deriveReason(item.Quantity, threshold, depletion, demand),
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Urgency != suggestions[j].Urgency {
			return suggestions[i].Urgency > suggestions[j].Urgency
		}
		return suggestions[i].Name < suggestions[j].Name
	})

	_ = a.cache.Set(ctx, cacheKey, suggestions, a.cacheTTL)
	return suggestions
}

// soldQuantities counts product units moved by completed and returned sales.
// Returned sales still count toward demand; the stock came back but the
// interest was real.
func soldQuantities(sales []domain.SalesTransaction) map[string]int {
	sold := make(map[string]int, 64)
	for _, tx := range sales {
		if tx.Status != domain.SalesStatusCompleted && tx.Status != domain.SalesStatusReturned {
			continue
		}
		for _, line := range tx.Lines {
			if line.LineType != domain.LineTypeProduct {
				continue
			}
			sold[line.RefID] += line.Quantity
		}
	}
	return sold
}

func deriveReason(quantity int, threshold int, depletion float64, demand float64) string {
	if quantity == 0 {
		return "out_of_stock"
	}
	if quantity <= threshold {
		return "below_threshold"
	}
	if demand > depletion {
		return "fast_mover"
	}
	return "running_low"
}

func buildCacheKey(items []domain.InventoryItem, threshold int) string {
	parts := make([]string, 0, len(items)+1)
	parts = append(parts, fmt.Sprintf("t:%d", threshold))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%s:%d", item.ID, item.Quantity))
	}

	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "pos:restock:" + hex.EncodeToString(hash[:])
}

func clamp(val float64, minVal float64, maxVal float64) float64 {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}

func round2(val float64) float64 {
	return math.Round(val*100) / 100
}
