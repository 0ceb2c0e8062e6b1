package models

import "strings"

// ImportConfigurationRequest is the operator-editable part of an ImportConfiguration
type ImportConfigurationRequest struct {
	Name            string  `json:"name" yaml:"name" validate:"required,max=200"`
	Description     *string `json:"description,omitempty" yaml:"description,omitempty"`
	SourceID        string  `json:"source_id" yaml:"source_id" validate:"required"`
	ContentTypeName string  `json:"content_type_name" yaml:"content_type_name" validate:"required"`
	Language        *string `json:"language,omitempty" yaml:"language,omitempty"`
	IsEnabled       bool    `json:"is_enabled" yaml:"is_enabled"`

	ExternalAPIURL string            `json:"external_api_url" yaml:"external_api_url" validate:"required,url"`
	HTTPMethod     string            `json:"http_method,omitempty" yaml:"http_method,omitempty" validate:"omitempty,oneof=GET POST get post"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	AuthType       AuthType          `json:"auth_type,omitempty" yaml:"auth_type,omitempty" validate:"omitempty,oneof=none api_key basic bearer"`
	AuthKey        *string           `json:"auth_key,omitempty" yaml:"auth_key,omitempty"`
	AuthValue      *string           `json:"auth_value,omitempty" yaml:"auth_value,omitempty"`
	FieldMappings  []FieldMapping    `json:"field_mappings" yaml:"field_mappings" validate:"required,min=1,dive"`
	JSONPath       *string           `json:"json_path,omitempty" yaml:"json_path,omitempty"`

	Frequency  Frequency `json:"frequency,omitempty" yaml:"frequency,omitempty" validate:"omitempty,oneof=none hourly daily weekly monthly"`
	TimeOfDay  *string   `json:"time_of_day,omitempty" yaml:"time_of_day,omitempty" validate:"omitempty,datetime=15:04"`
	DayOfWeek  *int      `json:"day_of_week,omitempty" yaml:"day_of_week,omitempty" validate:"omitempty,min=0,max=6"`
	DayOfMonth *int      `json:"day_of_month,omitempty" yaml:"day_of_month,omitempty" validate:"omitempty,min=1,max=31"`
	MaxRetries *int      `json:"max_retries,omitempty" yaml:"max_retries,omitempty" validate:"omitempty,min=0,max=100"`
}

// ScheduleChanged reports whether applying r would move cfg's cadence
func (r *ImportConfigurationRequest) ScheduleChanged(cfg *ImportConfiguration) bool {
	return r.frequency() != cfg.Frequency ||
		r.IsEnabled != cfg.IsEnabled ||
		!equalString(r.TimeOfDay, cfg.TimeOfDay) ||
		!equalInt(r.DayOfWeek, cfg.DayOfWeek) ||
		!equalInt(r.DayOfMonth, cfg.DayOfMonth)
}

// ApplyTo copies the request onto cfg, filling defaults for omitted fields.
// Scheduler-owned fields are left alone.
func (r *ImportConfigurationRequest) ApplyTo(cfg *ImportConfiguration) {
	cfg.Name = r.Name
	cfg.Description = r.Description
	cfg.SourceID = r.SourceID
	cfg.ContentTypeName = r.ContentTypeName
	cfg.Language = r.Language
	cfg.IsEnabled = r.IsEnabled

	cfg.ExternalAPIURL = r.ExternalAPIURL
	cfg.HTTPMethod = strings.ToUpper(r.HTTPMethod)
	if cfg.HTTPMethod == "" {
		cfg.HTTPMethod = "GET"
	}
	cfg.Headers.Data = r.Headers
	cfg.AuthType = r.AuthType
	if cfg.AuthType == "" {
		cfg.AuthType = AuthTypeNone
	}
	cfg.AuthKey = r.AuthKey
	cfg.AuthValue = r.AuthValue
	cfg.FieldMappings.Data = append([]FieldMapping(nil), r.FieldMappings...)
	cfg.JSONPath = r.JSONPath

	cfg.Frequency = r.frequency()
	cfg.TimeOfDay = r.TimeOfDay
	cfg.DayOfWeek = r.DayOfWeek
	cfg.DayOfMonth = r.DayOfMonth
	cfg.MaxRetries = DefaultMaxRetries
	if r.MaxRetries != nil {
		cfg.MaxRetries = *r.MaxRetries
	}
}

// RequestFromConfiguration extracts the editable fields of cfg
func RequestFromConfiguration(cfg *ImportConfiguration) ImportConfigurationRequest {
	maxRetries := cfg.MaxRetries
	return ImportConfigurationRequest{
		Name:            cfg.Name,
		Description:     cfg.Description,
		SourceID:        cfg.SourceID,
		ContentTypeName: cfg.ContentTypeName,
		Language:        cfg.Language,
		IsEnabled:       cfg.IsEnabled,
		ExternalAPIURL:  cfg.ExternalAPIURL,
		HTTPMethod:      cfg.HTTPMethod,
		Headers:         cfg.Headers.Data,
		AuthType:        cfg.AuthType,
		AuthKey:         cfg.AuthKey,
		AuthValue:       cfg.AuthValue,
		FieldMappings:   cfg.FieldMappings.Data,
		JSONPath:        cfg.JSONPath,
		Frequency:       cfg.Frequency,
		TimeOfDay:       cfg.TimeOfDay,
		DayOfWeek:       cfg.DayOfWeek,
		DayOfMonth:      cfg.DayOfMonth,
		MaxRetries:      &maxRetries,
	}
}

func (r *ImportConfigurationRequest) frequency() Frequency {
	if r.Frequency == "" {
		return FrequencyNone
	}
	return r.Frequency
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
