package registry

// SchemaRegistry manages JSON schemas for capability parameters.
type SchemaRegistry interface {
	// Register adds a schema for a capability id.
	// model can be a struct (to generate schema) or a JSON schema string/map.
	Register(capabilityID string, model any) error

	// GetSchema returns the JSON schema for a capability id.
	GetSchema(capabilityID string) (string, bool)

	// Validate checks a decoded payload against the capability's schema.
	// Capabilities without a schema accept any payload.
	Validate(capabilityID string, payload any) error

	// List returns all capability ids with a schema, sorted.
	List() []string
}
