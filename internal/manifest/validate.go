package manifest

import (
	"encoding/json"
	"fmt"
	"time"
)

var sdi12Pattern = func(s string) bool {
	if len(s) != 1 {
		return false
	}
	c := s[0]
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func validateSDI12(addr string) error {
	if !sdi12Pattern(addr) {
		return fmt.Errorf("sdi12_address must be exactly one ASCII alphanumeric character, got %q", addr)
	}
	return nil
}

func validateTimezone(tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("timezone %q is not a recognized IANA identifier: %w", tz, err)
	}
	return nil
}

type geoJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// validateGeoJSON checks the text decodes as GeoJSON and, for Polygon
// geometries, that each linear ring is closed (first point equals last),
// An empty string is valid (boundary
// is optional).
func validateGeoJSON(raw string) error {
	if raw == "" {
		return nil
	}
	var g geoJSON
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return fmt.Errorf("malformed GeoJSON: %w", err)
	}
	if g.Type == "" {
		return fmt.Errorf("GeoJSON missing \"type\"")
	}
	if g.Type != "Polygon" {
		return nil // other geometry types are accepted without ring-closure checks
	}
	var rings [][][2]float64
	if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
		return fmt.Errorf("malformed Polygon coordinates: %w", err)
	}
	for i, ring := range rings {
		if len(ring) < 4 {
			return fmt.Errorf("polygon ring %d has fewer than 4 points", i)
		}
		first, last := ring[0], ring[len(ring)-1]
		if first != last {
			return fmt.Errorf("polygon ring %d is not closed (first point != last point)", i)
		}
	}
	return nil
}

func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q is not RFC3339 with explicit offset: %w", s, err)
	}
	return t, nil
}

// parseOptionalRFC3339 returns nil for an empty string (an open-ended
// interval), matching metadata.Interval.End's *time.Time shape.
func parseOptionalRFC3339(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseRFC3339(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
