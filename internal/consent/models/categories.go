package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Categories maps a category name ("analytics", "marketing", ...) to the user's
// choice. Values are booleans or arbitrary JSON objects for granular choices.
type Categories map[string]any

// Clone deep-copies nested maps and slices.
func (c Categories) Clone() Categories {
	if c == nil {
		return nil
	}
	out := make(Categories, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Categories(t).Clone())
	case Categories:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Value stores categories as JSONB. A nil map stores SQL NULL.
func (c Categories) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal categories: %w", err)
	}
	return b, nil
}

// Scan reads JSONB into categories.
func (c *Categories) Scan(src any) error {
	if src == nil {
		*c = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("scan categories: unsupported type %T", src)
	}
	var out Categories
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("scan categories: %w", err)
	}
	*c = out
	return nil
}
