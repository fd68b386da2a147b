package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAuthType(t *testing.T) {
	tests := []struct {
		input    string
		expected AuthType
	}{
		{"ssh", AuthTypeSSH},
		{"SSH", AuthTypeSSH},
		{"token", AuthTypeToken},
		{"Basic", AuthTypeBasic},
		{"NONE", AuthTypeNone},
		{"  ssh  ", AuthTypeSSH},
		{"invalid", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizeAuthType(tt.input), tt.input)
	}
}

func TestAuthType_IsValid(t *testing.T) {
	assert.True(t, AuthTypeSSH.IsValid())
	assert.True(t, AuthTypeNone.IsValid())
	assert.False(t, AuthType("invalid").IsValid())
	assert.False(t, AuthType("").IsValid())
}

func TestAuthConfigNormalizedAndValidated(t *testing.T) {
	cfg := Default()
	cfg.Packages.Auth = &AuthConfig{Type: "TOKEN", Token: "secret"}
	require.NoError(t, applyDefaults(cfg))
	assert.Equal(t, AuthTypeToken, cfg.Packages.Auth.Type)
	require.NoError(t, ValidateConfig(cfg))

	cfg.Packages.Auth.Type = "kerberos"
	require.Error(t, ValidateConfig(cfg))
}

func TestAuthConfigIsZero(t *testing.T) {
	var nilAuth *AuthConfig
	assert.True(t, nilAuth.IsZero())
	assert.True(t, (&AuthConfig{Type: AuthTypeNone}).IsZero())
	assert.False(t, (&AuthConfig{Type: AuthTypeSSH}).IsZero())
}
