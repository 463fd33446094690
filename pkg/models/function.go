package models

import (
	"encoding/json"
	"time"
)

// Function is catalog metadata for a known language title. Purely
// advisory; execution never depends on the catalog.
type Function struct {
	ID               string          `json:"id"`
	Language         string          `json:"language"`
	Title            string          `json:"title"`
	LanguageTitle    string          `json:"language_title"`
	Description      *string         `json:"description,omitempty"`
	SchemaDefinition json.RawMessage `json:"schema_definition,omitempty"`
	Examples         json.RawMessage `json:"examples,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CreatedBy        *string         `json:"created_by,omitempty"`
	IsActive         bool            `json:"is_active"`
	Version          string          `json:"version"`
	ScriptContent    *string         `json:"script_content,omitempty"`
}

// FunctionQuery filters catalog listings.
type FunctionQuery struct {
	Language string
	UserID   string
	Type     string // "predefined" (no creator) or "dynamic"
	Page     int
	PerPage  int
}

// Type returns whether the function is predefined or user-created.
func (f *Function) Type() string {
	if f.CreatedBy == nil {
		return "predefined"
	}
	return "dynamic"
}
