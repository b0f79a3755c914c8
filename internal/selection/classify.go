// Package selection keeps the two "currently worn" garment slots and decides
// which slot a garment belongs in.
package selection

import (
	"strings"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
)

var (
	upperKeywords = []string{
		"shirt", "tee", "top", "blouse", "sweater", "hoodie", "jacket", "coat",
		"outerwear", "blazer", "cardigan", "vest", "polo", "tank",
	}
	lowerKeywords = []string{
		"pant", "jean", "short", "trouser", "skirt", "legging", "jogger", "chino",
	}
)

// Classify returns the body region for g. An explicit clothing type wins;
// otherwise the category is matched case-insensitively against per-region
// keywords. ambiguous is true when the category matched neither region or
// both, in which case the region defaults to upper.
func Classify(g domain.Garment) (region domain.Region, ambiguous bool) {
	if r, ok := domain.ParseRegion(g.ClothingType); ok {
		return r, false
	}

	category := strings.ToLower(g.Category)
	upper := containsAny(category, upperKeywords)
	lower := containsAny(category, lowerKeywords)

	switch {
	case lower && !upper:
		return domain.RegionLower, false
	case upper && !lower:
		return domain.RegionUpper, false
	}
	return domain.RegionUpper, true
}

func containsAny(s string, keywords []string) bool {
	if s == "" {
		return false
	}
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
