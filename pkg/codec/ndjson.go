// Package codec builds and parses the newline-delimited bulk ingest payload
// pushed to the search index.
//
// Every item is an action line optionally followed by a data line:
//
//	{"index":{"_id":"42","language_routing":"en"}}
//	{"title":"Hello","tags":["a","b"]}
//	{"delete":{"_id":"43"}}
package codec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	actionIndex  = "index"
	actionDelete = "delete"

	fieldID              = "_id"
	fieldLanguageRouting = "language_routing"

	// ContentType is the media type of the payload.
	ContentType = "application/x-ndjson"
)

// FormatError reports a structural violation at a 1-based line number.
type FormatError struct {
	Line   int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid bulk payload at line %d: %s", e.Line, e.Reason)
}

type actionLine struct {
	Index  *actionMeta `json:"index,omitempty"`
	Delete *actionMeta `json:"delete,omitempty"`
}

type actionMeta struct {
	ID              string `json:"_id"`
	LanguageRouting string `json:"language_routing,omitempty"`
}

// BuildNdJson encodes items in order. Deleted items produce a delete action
// with no data line.
func BuildNdJson(items []models.CustomDataItem) (string, error) {
	var buf bytes.Buffer

	for i, item := range items {
		if item.ID == "" {
			return "", fmt.Errorf("item %d has no id", i)
		}

		var action actionLine
		if item.Deleted {
			action.Delete = &actionMeta{ID: item.ID}
		} else {
			action.Index = &actionMeta{ID: item.ID, LanguageRouting: item.LanguageRouting}
		}

		if err := writeLine(&buf, action); err != nil {
			return "", fmt.Errorf("item %d: %w", i, err)
		}
		if item.Deleted {
			continue
		}

		props := item.Properties
		if props == nil {
			props = map[string]any{}
		}
		if err := writeLine(&buf, props); err != nil {
			return "", fmt.Errorf("item %d (%s): %w", i, item.ID, err)
		}
	}

	return buf.String(), nil
}

func writeLine(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// Encode appends the trailing newline.
	return enc.Encode(v)
}

// ParseNdJson decodes a payload back into items, preserving order.
func ParseNdJson(payload string) ([]models.CustomDataItem, error) {
	items := []models.CustomDataItem{}
	err := walk(payload, func(kind, id, routing, data string, _ int) error {
		item := models.CustomDataItem{ID: id, LanguageRouting: routing}
		if kind == actionDelete {
			item.Deleted = true
			items = append(items, item)
			return nil
		}

		dec := json.NewDecoder(strings.NewReader(data))
		dec.UseNumber()
		props := map[string]any{}
		if err := dec.Decode(&props); err != nil {
			return err
		}
		item.Properties = models.NormalizeJSON(props).(map[string]any)
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// IsValidNdJson runs the structural checks of ParseNdJson without decoding
// data lines into items.
func IsValidNdJson(payload string) bool {
	return Validate(payload) == nil
}

// Validate is IsValidNdJson with the first violation returned.
func Validate(payload string) error {
	return walk(payload, func(string, string, string, string, int) error { return nil })
}

// GetItemCount counts action lines. Data lines are skipped, not decoded, so a
// malformed data line is not detected here.
func GetItemCount(payload string) int {
	count := 0
	skipNext := false

	scanner := newScanner(payload)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if skipNext {
			skipNext = false
			continue
		}

		result := gjson.Parse(line)
		switch {
		case result.Get(actionIndex).IsObject():
			count++
			skipNext = true
		case result.Get(actionDelete).IsObject():
			count++
		}
	}

	return count
}

// walk validates the payload structure and calls fn once per item with the
// raw data line (empty for deletes).
func walk(payload string, fn func(kind, id, routing, data string, line int) error) error {
	scanner := newScanner(payload)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		kind, id, routing, err := parseAction(line)
		if err != nil {
			return &FormatError{Line: lineNo, Reason: err.Error()}
		}

		if kind == actionDelete {
			if err := fn(kind, id, "", "", lineNo); err != nil {
				return &FormatError{Line: lineNo, Reason: err.Error()}
			}
			continue
		}

		actionLineNo := lineNo
		data, ok := nextNonEmpty(scanner, &lineNo)
		if !ok {
			return &FormatError{Line: actionLineNo, Reason: fmt.Sprintf("index action for %q has no data line", id)}
		}
		if !gjson.Valid(data) {
			return &FormatError{Line: lineNo, Reason: "data line is not valid JSON"}
		}
		if !gjson.Parse(data).IsObject() {
			return &FormatError{Line: lineNo, Reason: "data line must be a JSON object"}
		}
		if err := fn(kind, id, routing, data, lineNo); err != nil {
			return &FormatError{Line: lineNo, Reason: err.Error()}
		}
	}

	if err := scanner.Err(); err != nil {
		return &FormatError{Line: lineNo + 1, Reason: err.Error()}
	}
	return nil
}

func parseAction(line string) (kind, id, routing string, err error) {
	if !gjson.Valid(line) {
		return "", "", "", fmt.Errorf("action line is not valid JSON")
	}

	result := gjson.Parse(line)
	if !result.IsObject() {
		return "", "", "", fmt.Errorf("action line must be a JSON object")
	}

	keys := 0
	result.ForEach(func(key, _ gjson.Result) bool {
		keys++
		kind = key.String()
		return true
	})
	if keys != 1 || (kind != actionIndex && kind != actionDelete) {
		return "", "", "", fmt.Errorf("action line must contain exactly one of %q or %q", actionIndex, actionDelete)
	}

	meta := result.Get(kind)
	if !meta.IsObject() {
		return "", "", "", fmt.Errorf("%s action metadata must be an object", kind)
	}

	idResult := meta.Get(fieldID)
	if idResult.Type != gjson.String || idResult.String() == "" {
		return "", "", "", fmt.Errorf("%s action has no %s", kind, fieldID)
	}

	return kind, idResult.String(), meta.Get(fieldLanguageRouting).String(), nil
}

func nextNonEmpty(scanner *bufio.Scanner, lineNo *int) (string, bool) {
	for scanner.Scan() {
		*lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			return line, true
		}
	}
	return "", false
}

func newScanner(payload string) *bufio.Scanner {
	scanner := bufio.NewScanner(strings.NewReader(payload))
	// Data lines can be large; allow up to 16MB per line.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return scanner
}
