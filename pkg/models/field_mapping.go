package models

// TypeHint coerces a mapped value before it is placed in the property bag
type TypeHint string

const (
	TypeHintNone     TypeHint = ""
	TypeHintString   TypeHint = "string"
	TypeHintNumber   TypeHint = "number"
	TypeHintInteger  TypeHint = "integer"
	TypeHintBoolean  TypeHint = "boolean"
	TypeHintDateTime TypeHint = "datetime"
	TypeHintArray    TypeHint = "array"
	TypeHintObject   TypeHint = "object"
)

// FieldMapping projects one path of the external payload onto one target property
type FieldMapping struct {
	SourcePath     string   `json:"source_path" yaml:"source_path" validate:"required"`
	TargetProperty string   `json:"target_property" yaml:"target_property" validate:"required"`
	TypeHint       TypeHint `json:"type_hint,omitempty" yaml:"type_hint,omitempty"`
	IsIDField      bool     `json:"is_id_field,omitempty" yaml:"is_id_field,omitempty"`
}
