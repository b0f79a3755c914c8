// Package domain contains the core types shared by both try-on surfaces.
package domain

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Region is a garment slot on the body.
type Region string

const (
	RegionUpper Region = "upper"
	RegionLower Region = "lower"
)

// ParseRegion parses an explicit region tag. Unknown tags return false.
func ParseRegion(s string) (Region, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(RegionUpper):
		return RegionUpper, true
	case string(RegionLower):
		return RegionLower, true
	}
	return "", false
}

// Garment is a catalog item as seen by the try-on core. It is read-only here.
type Garment struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	ImageRef     string  `json:"image,omitempty"`
	Category     string  `json:"category,omitempty"`
	ClothingType string  `json:"clothing_type,omitempty"`
}

// UnmarshalJSON accepts numeric or string ids, since catalog records use
// integer keys while browser surfaces send whatever they received.
func (g *Garment) UnmarshalJSON(data []byte) error {
	type alias Garment
	aux := struct {
		ID json.RawMessage `json:"id"`
		*alias
	}{alias: (*alias)(g)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	id, err := DecodeID(aux.ID)
	if err != nil {
		return err
	}
	g.ID = id
	return nil
}

// DecodeID reads a JSON string or number as an id. null decodes to "".
func DecodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("garment id: %w", err)
	}
	return n.String(), nil
}

var placeholderColors = []string{"2D3FE7", "14B8A6", "F59E0B", "64748B", "EC4899", "8B5CF6"}

// DisplayImage returns the garment image, or a deterministic placeholder
// when the catalog has none.
func (g Garment) DisplayImage() string {
	if g.ImageRef != "" {
		return g.ImageRef
	}
	return PlaceholderImage(g)
}

// PlaceholderImage builds a coloured placeholder keyed on the garment id.
func PlaceholderImage(g Garment) string {
	var idx int
	if n, err := strconv.Atoi(g.ID); err == nil && n >= 0 {
		idx = n % len(placeholderColors)
	} else {
		h := fnv.New32a()
		_, _ = h.Write([]byte(g.ID))
		idx = int(h.Sum32() % uint32(len(placeholderColors)))
	}

	initial := "?"
	if r, _ := utf8.DecodeRuneInString(g.Name); r != utf8.RuneError {
		initial = string(r)
	}
	return fmt.Sprintf("https://via.placeholder.com/150/%s/FFFFFF?text=%s",
		placeholderColors[idx], url.QueryEscape(initial))
}
