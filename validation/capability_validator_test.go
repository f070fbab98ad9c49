package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuff-dev/tuff-sandbox/capability"
	"github.com/tuff-dev/tuff-sandbox/plugin"
	"github.com/tuff-dev/tuff-sandbox/validation"
)

func newValidator(t *testing.T) *validation.Validator {
	t.Helper()
	reg := capability.NewRegistry()
	reg.RegisterDefaults()
	return validation.NewCapabilityValidator(reg)
}

func codes(is plugin.Issues) []string {
	out := make([]string, 0, len(is))
	for _, i := range is {
		out = append(out, i.Code)
	}
	return out
}

func TestCapabilityValidator_Validate(t *testing.T) {
	v := newValidator(t)

	t.Run("declared plugin capabilities", func(t *testing.T) {
		res, err := v.Validate(&plugin.Manifest{
			Name:         "clip",
			Capabilities: []string{"plugin.storage", "plugin.temp-file", "ai.intelligence-agents"},
		})
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Empty(t, res.Issues)
	})

	t.Run("no capabilities", func(t *testing.T) {
		res, err := v.Validate(&plugin.Manifest{Name: "clip"})
		require.NoError(t, err)
		assert.True(t, res.Valid)
	})

	t.Run("unknown id", func(t *testing.T) {
		res, err := v.Validate(&plugin.Manifest{Capabilities: []string{"plugin.nope"}})
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, []string{validation.CodeCapabilityUnknown}, codes(res.Errors()))
	})

	t.Run("system scope", func(t *testing.T) {
		res, err := v.Validate(&plugin.Manifest{Capabilities: []string{"system.permission-center"}})
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, []string{validation.CodeCapabilityScope}, codes(res.Errors()))
	})

	t.Run("alpha is a warning", func(t *testing.T) {
		res, err := v.Validate(&plugin.Manifest{Capabilities: []string{"plugin.division-box", "plugin.division-box"}})
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, []string{validation.CodeCapabilityAlpha, validation.CodeCapabilityDuplicate}, codes(res.Issues))
		assert.Empty(t, res.Errors())
	})

	t.Run("nil manifest", func(t *testing.T) {
		_, err := v.Validate(nil)
		assert.Error(t, err)
	})
}
