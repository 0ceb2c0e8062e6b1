package mapper

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	importerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// MappingResult holds the items produced from one narrowed array
type MappingResult struct {
	Items    []models.CustomDataItem `json:"items"`
	Warnings []string                `json:"warnings"`
	// Received is the number of elements in the narrowed array.
	Received int `json:"received"`
	// Skipped counts elements dropped because their id could not be resolved.
	Skipped int `json:"skipped"`
}

type compiledMapping struct {
	mapping models.FieldMapping
	path    Path
	hint    models.TypeHint
}

// FieldMapper turns external JSON elements into data items.
type FieldMapper struct {
	logger ectologger.Logger
}

func NewFieldMapper(logger ectologger.Logger) *FieldMapper {
	return &FieldMapper{logger: logger}
}

// Compile checks that every mapping path parses and that exactly one mapping
// is the id field. It is used to validate configurations before they are saved.
func Compile(mappings []models.FieldMapping) error {
	_, _, err := compile(mappings, nil)
	return err
}

func compile(mappings []models.FieldMapping, schema *models.ContentTypeSchema) ([]compiledMapping, []string, error) {
	if len(mappings) == 0 {
		return nil, nil, fmt.Errorf("no field mappings configured")
	}

	compiled := make([]compiledMapping, 0, len(mappings))
	warnings := []string{}
	idFields := 0

	for _, m := range mappings {
		if strings.TrimSpace(m.TargetProperty) == "" {
			return nil, nil, fmt.Errorf("mapping for %q has no target property", m.SourcePath)
		}
		path, err := ParsePath(m.SourcePath)
		if err != nil {
			return nil, nil, fmt.Errorf("mapping %q: %w", m.TargetProperty, err)
		}
		if m.IsIDField {
			idFields++
		}

		hint := m.TypeHint
		if schema != nil {
			prop, ok := schema.Property(m.TargetProperty)
			switch {
			case !ok:
				warnings = append(warnings, fmt.Sprintf("target property '%s' is not defined on content type '%s'", m.TargetProperty, schema.Name))
			case hint == models.TypeHintNone:
				hint = prop.Type
			}
		}

		compiled = append(compiled, compiledMapping{mapping: m, path: path, hint: hint})
	}

	switch idFields {
	case 0:
		return nil, nil, fmt.Errorf("no field mapping is marked as the id field")
	case 1:
	default:
		return nil, nil, fmt.Errorf("%d field mappings are marked as the id field, expected 1", idFields)
	}

	return compiled, warnings, nil
}

// Map projects each element through the configured mappings. Elements whose id
// mapping does not resolve to a non-empty scalar are skipped with a warning.
// A non-id path that resolves to nothing adds a warning and leaves the
// property out of the bag.
func (m *FieldMapper) Map(elements []any, cfg *models.ImportConfiguration, schema *models.ContentTypeSchema) (*MappingResult, error) {
	compiled, schemaWarnings, err := compile(cfg.Mappings(), schema)
	if err != nil {
		return nil, importerrors.NewConfigurationError("invalid field mappings: %w", err).AddConfigurationID(cfg.ID)
	}

	result := &MappingResult{
		Items:    make([]models.CustomDataItem, 0, len(elements)),
		Warnings: schemaWarnings,
		Received: len(elements),
	}
	routing := cfg.LanguageRouting()

	for i, element := range elements {
		item := models.CustomDataItem{
			LanguageRouting: routing,
			Properties:      make(map[string]any, len(compiled)),
		}
		var elementWarnings []string
		skip := false

		for _, cm := range compiled {
			raw, found := cm.path.Resolve(element)
			if cm.mapping.IsIDField {
				id, ok := idString(raw, found)
				if !ok {
					result.Warnings = append(result.Warnings, importerrors.NewMappingWarning(i, cm.mapping.TargetProperty,
						"id path '%s' did not resolve to a value, element skipped", cm.mapping.SourcePath).String())
					skip = true
					break
				}
				item.ID = id
			}

			if !found {
				elementWarnings = append(elementWarnings, importerrors.NewMappingWarning(i, cm.mapping.TargetProperty,
					"path '%s' not found", cm.mapping.SourcePath).String())
				continue
			}

			value, err := Coerce(raw, cm.hint)
			if err != nil {
				elementWarnings = append(elementWarnings, importerrors.NewMappingWarning(i, cm.mapping.TargetProperty,
					"%v, keeping the raw value", err).String())
				value = models.NormalizeJSON(raw)
			}
			item.Properties[cm.mapping.TargetProperty] = value
		}

		if skip {
			result.Skipped++
			continue
		}

		result.Warnings = append(result.Warnings, elementWarnings...)
		result.Items = append(result.Items, item)
	}

	if m.logger != nil && len(result.Warnings) > 0 {
		m.logger.WithContext(context.Background()).WithFields(map[string]any{
			"configuration_id": cfg.ID,
			"warnings":         len(result.Warnings),
			"skipped":          result.Skipped,
		}).Debug("Mapping produced warnings")
	}

	return result, nil
}

func idString(raw any, found bool) (string, bool) {
	if !found || raw == nil {
		return "", false
	}
	var id string
	switch v := raw.(type) {
	case string:
		id = strings.TrimSpace(v)
	case json.Number:
		id = v.String()
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		id = strconv.FormatBool(v)
	default:
		return "", false
	}
	return id, id != ""
}

// Coerce converts a decoded JSON value according to hint. Without a hint the
// value is only normalized (json.Number becomes int64 or float64).
func Coerce(raw any, hint models.TypeHint) (any, error) {
	if raw == nil {
		return nil, nil
	}

	switch hint {
	case models.TypeHintNone:
		return models.NormalizeJSON(raw), nil

	case models.TypeHintString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case json.Number:
			return v.String(), nil
		case bool:
			return strconv.FormatBool(v), nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}

	case models.TypeHintNumber:
		if f, ok := toFloat(raw); ok {
			return f, nil
		}

	case models.TypeHintInteger:
		if f, ok := toFloat(raw); ok && f == math.Trunc(f) {
			return int64(f), nil
		}

	case models.TypeHintBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, nil
			}
		case json.Number:
			return v.String() != "0", nil
		}

	case models.TypeHintDateTime:
		switch v := raw.(type) {
		case string:
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
				if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
					return t.UTC().Format(time.RFC3339), nil
				}
			}
		case json.Number:
			if secs, err := v.Int64(); err == nil {
				return time.Unix(secs, 0).UTC().Format(time.RFC3339), nil
			}
		}

	case models.TypeHintArray:
		if arr, ok := raw.([]any); ok {
			return models.NormalizeJSON(arr), nil
		}
		return []any{models.NormalizeJSON(raw)}, nil

	case models.TypeHintObject:
		if obj, ok := raw.(map[string]any); ok {
			return models.NormalizeJSON(obj), nil
		}

	default:
		return nil, fmt.Errorf("unknown type hint '%s'", hint)
	}

	return nil, fmt.Errorf("cannot convert %T to %s", raw, hint)
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}
