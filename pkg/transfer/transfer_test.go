package transfer_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/transfer"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int      { return &i }

func sampleConfigurations() []models.ImportConfiguration {
	created := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	next := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
	retry := time.Date(2026, 3, 10, 12, 15, 0, 0, time.UTC)

	weekly := models.ImportConfiguration{
		ID:                  uuid.MustParse("6f1c1c8e-5a8e-4a43-9b53-6c2a1f0e9d11"),
		Name:                "products",
		Description:         strPtr("catalog feed"),
		SourceID:            "src-1",
		ContentTypeName:     "Product",
		Language:            strPtr("en"),
		IsEnabled:           true,
		ExternalAPIURL:      "https://api.example.com/products",
		HTTPMethod:          "GET",
		AuthType:            models.AuthTypeAPIKey,
		AuthKey:             strPtr("X-Api-Key"),
		AuthValue:           strPtr("secret"),
		JSONPath:            strPtr("data.items"),
		Frequency:           models.FrequencyWeekly,
		TimeOfDay:           strPtr("02:00"),
		DayOfWeek:           intPtr(0),
		MaxRetries:          3,
		CreatedBy:           strPtr("ops"),
		CreatedAt:           created,
		UpdatedAt:           created,
		LastRunAt:           &retry,
		LastItemCount:       intPtr(42),
		ScheduleState:       models.ScheduleStateRetryPending,
		NextScheduledRunAt:  &next,
		NextRetryAt:         &retry,
		ConsecutiveFailures: 2,
	}
	weekly.Headers.Data = map[string]string{"X-Tenant": "t1"}
	weekly.FieldMappings.Data = []models.FieldMapping{
		{SourcePath: "sku", TargetProperty: "id", IsIDField: true},
		{SourcePath: "price.amount", TargetProperty: "price", TypeHint: models.TypeHintNumber},
		{SourcePath: "tags[0]", TargetProperty: "tag"},
	}

	manual := models.ImportConfiguration{
		ID:              uuid.MustParse("0b7e4c55-8f4d-4a7c-a1d2-3e2f9b6c7d80"),
		Name:            "pages",
		SourceID:        "src-2",
		ContentTypeName: "Page",
		ExternalAPIURL:  "https://cms.example.com/pages",
		HTTPMethod:      "POST",
		AuthType:        models.AuthTypeNone,
		Frequency:       models.FrequencyNone,
		ScheduleState:   models.ScheduleStateUnscheduled,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
	manual.FieldMappings.Data = []models.FieldMapping{{SourcePath: "slug", TargetProperty: "id", IsIDField: true}}

	return []models.ImportConfiguration{weekly, manual}
}

func TestRoundTripIsLossless(t *testing.T) {
	for _, format := range []transfer.Format{transfer.FormatYAML, transfer.FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			configs := sampleConfigurations()

			var buf bytes.Buffer
			require.NoError(t, transfer.Encode(&buf, format, configs, transfer.ExportOptions{}))

			doc, err := transfer.Decode(&buf, format)
			require.NoError(t, err)
			assert.Equal(t, transfer.DocumentVersion, doc.Version)
			assert.Equal(t, configs, doc.Configurations)
		})
	}
}

func TestEncode_RedactSecrets(t *testing.T) {
	configs := sampleConfigurations()

	var buf bytes.Buffer
	require.NoError(t, transfer.Encode(&buf, transfer.FormatYAML, configs, transfer.ExportOptions{RedactSecrets: true}))
	assert.NotContains(t, buf.String(), "secret")
	assert.Equal(t, "secret", *configs[0].AuthValue, "the caller's configurations are not modified")
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": `
version: 1
configurations:
  - name: x
    colour: blue
`,
		"missing url": `
version: 1
configurations:
  - name: x
    source_id: s
    content_type_name: T
    field_mappings:
      - source_path: id
        target_property: id
`,
		"bad frequency": `
version: 1
configurations:
  - name: x
    source_id: s
    content_type_name: T
    external_api_url: https://example.com
    frequency: fortnightly
    field_mappings:
      - source_path: id
        target_property: id
`,
		"two id fields": `
version: 1
configurations:
  - name: x
    source_id: s
    content_type_name: T
    external_api_url: https://example.com
    field_mappings:
      - source_path: id
        target_property: id
        is_id_field: true
      - source_path: sku
        target_property: sku
        is_id_field: true
`,
		"newer version": `
version: 99
configurations: []
`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := transfer.Decode(strings.NewReader(doc), transfer.FormatYAML)
			assert.Error(t, err)
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := transfer.ParseFormat("yml")
	require.NoError(t, err)
	assert.Equal(t, transfer.FormatYAML, f)

	f, err = transfer.ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, transfer.FormatJSON, f)

	_, err = transfer.ParseFormat("xml")
	assert.Error(t, err)

	assert.Equal(t, transfer.FormatJSON, transfer.FormatFromPath("configs/export.json"))
	assert.Equal(t, transfer.FormatYAML, transfer.FormatFromPath("configs/export"))
}

func TestImporter_UpsertsAndKeepsState(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryConfigurationStore()
	sched := scheduler.NewScheduler(store, repositories.NewMemoryHistoryStore(), testLogger())
	importer := transfer.NewImporter(store, sched, testLogger())

	configs := sampleConfigurations()
	doc := &transfer.Document{Version: transfer.DocumentVersion, Configurations: configs}

	dry, err := importer.Import(ctx, doc, transfer.ImportOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, transfer.ImportSummary{Created: 2}, dry)
	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	summary, err := importer.Import(ctx, doc, transfer.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, transfer.ImportSummary{Created: 2}, summary)

	stored, err := store.GetByID(ctx, configs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStateRetryPending, stored.ScheduleState)
	assert.Equal(t, 2, stored.ConsecutiveFailures)
	assert.Equal(t, configs[0].NextRetryAt, stored.NextRetryAt)
	assert.Equal(t, configs[0].FieldMappings.Data, stored.FieldMappings.Data)

	summary, err = importer.Import(ctx, doc, transfer.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, transfer.ImportSummary{Updated: 2}, summary)
}

func TestImporter_ResetState(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := repositories.NewMemoryConfigurationStore()
	sched := scheduler.NewScheduler(store, repositories.NewMemoryHistoryStore(), testLogger())
	sched.SetClock(func() time.Time { return now })

	configs := sampleConfigurations()
	_, err := transfer.NewImporter(store, sched, testLogger()).Import(ctx,
		&transfer.Document{Version: transfer.DocumentVersion, Configurations: configs},
		transfer.ImportOptions{ResetState: true})
	require.NoError(t, err)

	stored, err := store.GetByID(ctx, configs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStateScheduled, stored.ScheduleState)
	assert.Zero(t, stored.ConsecutiveFailures)
	assert.Nil(t, stored.NextRetryAt)
	require.NotNil(t, stored.NextScheduledRunAt)
	// 2026-03-10 is a Tuesday, the next Sunday 02:00 is the 15th
	assert.Equal(t, time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC), *stored.NextScheduledRunAt)

	manual, err := store.GetByID(ctx, configs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStateUnscheduled, manual.ScheduleState)
}
