package config

import "git.home.luguber.info/inful/packsync/internal/foundation/normalization"

// AuthType enumerates supported authentication methods for package remotes.
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeSSH   AuthType = "ssh"
	AuthTypeToken AuthType = "token"
	AuthTypeBasic AuthType = "basic"
)

var authTypeNormalizer = normalization.NewNormalizer(map[string]AuthType{
	"none":  AuthTypeNone,
	"ssh":   AuthTypeSSH,
	"token": AuthTypeToken,
	"basic": AuthTypeBasic,
}, "")

// NormalizeAuthType returns the canonical auth type or empty string for unknown input.
func NormalizeAuthType(raw string) AuthType {
	return authTypeNormalizer.Normalize(raw)
}

// IsValid reports whether t is a supported auth type.
func (t AuthType) IsValid() bool { return authTypeNormalizer.Contains(t) }

// AuthConfig holds credentials used for every package clone and fetch.
type AuthConfig struct {
	Type     AuthType `yaml:"type"` // ssh|token|basic|none
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Token    string   `yaml:"token,omitempty"`
	KeyPath  string   `yaml:"key_path,omitempty"`
}

// IsZero reports whether no auth method specified.
func (a *AuthConfig) IsZero() bool { return a == nil || a.Type == "" || a.Type == AuthTypeNone }
