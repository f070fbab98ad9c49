// Package providers holds the host's built-in capability providers.
// Each provider receives only calls that already passed the capability
// check and schema validation.
package providers

import (
	"encoding/json"
	"fmt"
)

// decode converts a validated payload into its params struct.
func decode(payload any, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
