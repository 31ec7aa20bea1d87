package domain

import "time"

// ConfigEntry is a runtime-editable setting.
type ConfigEntry struct {
	Key         string    `json:"key"         db:"key"`
	Value       string    `json:"value"       db:"value"`
	Description string    `json:"description" db:"description"`
	UpdatedAt   time.Time `json:"updatedAt"   db:"updated_at"`
}

// Recognised configuration keys.
const (
	ConfigPrimaryModel   = "primary_model"
	ConfigEmbeddingModel = "embedding_model"
	ConfigTemperature    = "temperature"
	ConfigMaxTokens      = "max_tokens"
)
