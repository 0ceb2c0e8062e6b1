package models

import "encoding/json"

// CustomDataItem is one record ready for ingestion into the search index
type CustomDataItem struct {
	ID              string         `json:"id"`
	LanguageRouting string         `json:"language_routing,omitempty"`
	Properties      map[string]any `json:"properties"`
	// Deleted marks a delete action; Properties is ignored.
	Deleted bool `json:"deleted,omitempty"`
}

// ContentTypeSchema lists the properties an index content type accepts
type ContentTypeSchema struct {
	Name       string           `json:"name"`
	Properties []SchemaProperty `json:"properties"`
}

// SchemaProperty is one property of a content type
type SchemaProperty struct {
	Name string   `json:"name"`
	Type TypeHint `json:"type,omitempty"`
}

// Property looks up a property by name
func (s *ContentTypeSchema) Property(name string) (SchemaProperty, bool) {
	if s == nil {
		return SchemaProperty{}, false
	}
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return SchemaProperty{}, false
}

// NormalizeJSON replaces json.Number throughout a value decoded with
// UseNumber: int64 when the number is an exact integer, float64 otherwise.
func NormalizeJSON(raw any) any {
	switch v := raw.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = NormalizeJSON(v[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = NormalizeJSON(val)
		}
		return out
	default:
		return raw
	}
}
