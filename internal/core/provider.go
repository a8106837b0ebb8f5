package core

// APIKey is a provider credential as held by the configuration store.
type APIKey struct {
	Provider string                 `json:"provider" db:"provider"`
	Key      string                 `json:"-" db:"key"`
	Config   map[string]interface{} `json:"config,omitempty" db:"-"`
	IsActive bool                   `json:"isActive" db:"is_active"`
}
