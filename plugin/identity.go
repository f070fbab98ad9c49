// Package plugin holds the plugin-level domain types shared by the host:
// identities, manifests, load issues and compatibility checks.
package plugin

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxIdentityLen bounds identities so they stay usable as file name stems.
const maxIdentityLen = 128

// Identity uniquely names an installed plugin instance. It is immutable for
// the lifetime of a running plugin and keys all per-plugin bookkeeping.
type Identity struct {
	value string
}

// ParseIdentity validates and trims a plugin identity.
// Identities may use reverse-domain style ("com.tuff.clipboard") but must
// not contain path separators or parent directory references, because the
// host derives scratch file names from them.
func ParseIdentity(name string) (Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Identity{}, fmt.Errorf("plugin identity cannot be empty")
	}
	if len(name) > maxIdentityLen {
		return Identity{}, fmt.Errorf("plugin identity too long (max %d chars)", maxIdentityLen)
	}
	if strings.ContainsAny(name, `/\`) {
		return Identity{}, fmt.Errorf("plugin identity %q cannot contain path separators", name)
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") {
		return Identity{}, fmt.Errorf("plugin identity %q cannot contain relative path segments", name)
	}
	for _, ch := range name {
		if !isIdentityChar(ch) {
			return Identity{}, fmt.Errorf("invalid plugin identity %q: allowed characters are letters, digits, '.', '_', '-' and '@'", name)
		}
	}
	return Identity{value: name}, nil
}

func isIdentityChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '.' || r == '_' || r == '-' || r == '@'
}

// MustParseIdentity parses an identity or panics. Intended for tests and
// compile-time constants.
func MustParseIdentity(name string) Identity {
	id, err := ParseIdentity(name)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the identity as a plain string.
func (i Identity) String() string {
	return i.value
}

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool {
	return i.value == ""
}

// MarshalJSON implements json.Marshaler.
func (i Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.value)
}

// UnmarshalJSON implements json.Unmarshaler and validates the value.
func (i *Identity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid plugin identity JSON: %w", err)
	}
	id, err := ParseIdentity(s)
	if err != nil {
		return err
	}
	*i = id
	return nil
}
