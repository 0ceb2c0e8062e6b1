package codec_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/codec"
	"github.com/Ramsey-B/fern/pkg/models"
)

func sampleItems() []models.CustomDataItem {
	return []models.CustomDataItem{
		{
			ID:              "a",
			LanguageRouting: "en",
			Properties: map[string]any{
				"title": "Hello",
				"price": 12.5,
				"tags":  []any{"x", "y"},
				"meta":  map[string]any{"nested": true},
			},
		},
		{
			ID:         "b",
			Properties: map[string]any{"title": "<b>World</b>"},
		},
		{ID: "c", Deleted: true},
		{
			ID:              "d",
			LanguageRouting: "sv",
			Properties:      map[string]any{"empty": nil},
		},
	}
}

func TestBuildNdJson_Format(t *testing.T) {
	payload, err := codec.BuildNdJson([]models.CustomDataItem{
		{ID: "1", LanguageRouting: "en", Properties: map[string]any{"name": "X"}},
		{ID: "2", Deleted: true},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(payload, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"index":{"_id":"1","language_routing":"en"}}`, lines[0])
	assert.JSONEq(t, `{"name":"X"}`, lines[1])
	assert.JSONEq(t, `{"delete":{"_id":"2"}}`, lines[2])
}

func TestBuildNdJson_OmitsEmptyRouting(t *testing.T) {
	payload, err := codec.BuildNdJson([]models.CustomDataItem{{ID: "1", Properties: map[string]any{}}})
	require.NoError(t, err)
	assert.NotContains(t, payload, "language_routing")
}

func TestBuildNdJson_RejectsMissingID(t *testing.T) {
	_, err := codec.BuildNdJson([]models.CustomDataItem{{Properties: map[string]any{"a": 1}}})
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	items := sampleItems()

	payload, err := codec.BuildNdJson(items)
	require.NoError(t, err)

	parsed, err := codec.ParseNdJson(payload)
	require.NoError(t, err)
	assert.Equal(t, items, parsed)
}

func TestRoundTrip_Integers(t *testing.T) {
	items := []models.CustomDataItem{{
		ID: "n",
		Properties: map[string]any{
			"count":   int64(3),
			"big":     int64(9007199254740993),
			"ratio":   0.25,
			"ids":     []any{int64(1), int64(2)},
			"nested":  map[string]any{"stock": int64(-7)},
			"huge":    1e300,
			"boolean": false,
		},
	}}

	payload, err := codec.BuildNdJson(items)
	require.NoError(t, err)

	parsed, err := codec.ParseNdJson(payload)
	require.NoError(t, err)
	assert.Equal(t, items, parsed)
}

func TestRoundTrip_Empty(t *testing.T) {
	payload, err := codec.BuildNdJson(nil)
	require.NoError(t, err)
	assert.Empty(t, payload)

	parsed, err := codec.ParseNdJson(payload)
	require.NoError(t, err)
	assert.Empty(t, parsed)
	assert.True(t, codec.IsValidNdJson(payload))
	assert.Equal(t, 0, codec.GetItemCount(payload))
}

func TestGetItemCount(t *testing.T) {
	payload, err := codec.BuildNdJson(sampleItems())
	require.NoError(t, err)
	assert.Equal(t, 4, codec.GetItemCount(payload))
}

func TestGetItemCount_DataLineLooksLikeAction(t *testing.T) {
	payload := `{"index":{"_id":"1"}}
{"index":{"_id":"not-an-action"}}
{"delete":{"_id":"2"}}
`
	assert.Equal(t, 2, codec.GetItemCount(payload))
}

func TestParseNdJson_Violations(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		line    int
	}{
		{"index without data line", `{"index":{"_id":"1"}}`, 1},
		{"invalid action json", `{"index":`, 1},
		{"unknown action", `{"upsert":{"_id":"1"}}` + "\n{}", 1},
		{"two actions", `{"index":{"_id":"1"},"delete":{"_id":"1"}}` + "\n{}", 1},
		{"missing id", `{"index":{}}` + "\n{}", 1},
		{"numeric id", `{"delete":{"_id":5}}`, 1},
		{"invalid data line", `{"index":{"_id":"1"}}` + "\n{nope", 2},
		{"data line is array", `{"index":{"_id":"1"}}` + "\n[1,2]", 2},
		{"action line is array", `[]`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.ParseNdJson(tt.payload)
			require.Error(t, err)

			var ferr *codec.FormatError
			require.ErrorAs(t, err, &ferr)
			assert.Equal(t, tt.line, ferr.Line)

			assert.False(t, codec.IsValidNdJson(tt.payload))
		})
	}
}

func TestParseNdJson_ToleratesBlankLines(t *testing.T) {
	payload := "\n" + `{"index":{"_id":"1"}}` + "\n\n" + `{"a":1}` + "\n\n"

	items, err := codec.ParseNdJson(payload)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0].ID)
	assert.Equal(t, float64(1), items[0].Properties["a"])
}

func TestIsValidNdJson_HandEdited(t *testing.T) {
	payload := `{"index":{"_id":"p-1","language_routing":"en"}}
{"title":"Edited by hand"}
{"delete":{"_id":"p-2"}}
`
	assert.True(t, codec.IsValidNdJson(payload))
	require.NoError(t, codec.Validate(payload))
}
