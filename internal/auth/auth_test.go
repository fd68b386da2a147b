package auth

import (
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/packsync/internal/config"
	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

func TestCreateAuth(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *config.AuthConfig
		expectNil bool
		expectErr bool
	}{
		{name: "nil config", cfg: nil, expectNil: true},
		{name: "none", cfg: &config.AuthConfig{Type: config.AuthTypeNone}, expectNil: true},
		{name: "token", cfg: &config.AuthConfig{Type: config.AuthTypeToken, Token: "secret"}},
		{name: "token missing", cfg: &config.AuthConfig{Type: config.AuthTypeToken}, expectErr: true},
		{name: "basic", cfg: &config.AuthConfig{Type: config.AuthTypeBasic, Username: "u", Password: "p"}},
		{name: "basic missing password", cfg: &config.AuthConfig{Type: config.AuthTypeBasic, Username: "u"}, expectErr: true},
		{name: "ssh missing key", cfg: &config.AuthConfig{Type: config.AuthTypeSSH, KeyPath: filepath.Join(t.TempDir(), "id_none")}, expectErr: true},
		{name: "unknown", cfg: &config.AuthConfig{Type: "kerberos"}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, err := CreateAuth(tt.cfg)
			if tt.expectErr {
				require.Error(t, err)
				require.True(t, errors.HasCategory(err, errors.CategoryAuth), "got %v", err)
				return
			}
			require.NoError(t, err)
			if tt.expectNil {
				require.Nil(t, method)
			} else {
				require.NotNil(t, method)
			}
		})
	}
}

func TestTokenAuthUsesTokenUsername(t *testing.T) {
	method, err := CreateAuth(&config.AuthConfig{Type: config.AuthTypeToken, Token: "abc"})
	require.NoError(t, err)
	basic, ok := method.(*http.BasicAuth)
	require.True(t, ok)
	require.Equal(t, "token", basic.Username)
	require.Equal(t, "abc", basic.Password)
}
