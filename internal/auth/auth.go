// Package auth turns configured credentials into go-git transport authentication.
package auth

import (
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"git.home.luguber.info/inful/packsync/internal/config"
	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// Provider creates authentication for one AuthType.
type Provider interface {
	Type() config.AuthType
	ValidateConfig(cfg *config.AuthConfig) error
	CreateAuth(cfg *config.AuthConfig) (transport.AuthMethod, error)
}

// Registry maps auth types to providers.
type Registry struct {
	providers map[config.AuthType]Provider
}

// NewRegistry returns a registry with the none, token, basic and ssh providers.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[config.AuthType]Provider)}
	for _, p := range []Provider{noneProvider{}, tokenProvider{}, basicProvider{}, sshProvider{}} {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.providers[p.Type()] = p
}

// CreateAuth validates cfg and builds the auth method. A zero config yields nil auth.
func (r *Registry) CreateAuth(cfg *config.AuthConfig) (transport.AuthMethod, error) {
	if cfg.IsZero() {
		return nil, nil
	}
	p, ok := r.providers[cfg.Type]
	if !ok {
		return nil, errors.NewError(errors.CategoryAuth, "unsupported authentication type").
			WithContext("type", string(cfg.Type)).
			Fatal().
			Build()
	}
	if err := p.ValidateConfig(cfg); err != nil {
		return nil, errors.WrapError(err, errors.CategoryAuth, "authentication configuration invalid").
			WithContext("type", string(cfg.Type)).
			UserAction().
			Build()
	}
	method, err := p.CreateAuth(cfg)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryAuth, "failed to create authentication").
			WithContext("type", string(cfg.Type)).
			UserAction().
			Build()
	}
	return method, nil
}

var defaultRegistry = NewRegistry()

// CreateAuth uses the default registry.
func CreateAuth(cfg *config.AuthConfig) (transport.AuthMethod, error) {
	return defaultRegistry.CreateAuth(cfg)
}

type noneProvider struct{}

func (noneProvider) Type() config.AuthType                   { return config.AuthTypeNone }
func (noneProvider) ValidateConfig(*config.AuthConfig) error { return nil }
func (noneProvider) CreateAuth(*config.AuthConfig) (transport.AuthMethod, error) {
	return nil, nil
}

type tokenProvider struct{}

func (tokenProvider) Type() config.AuthType { return config.AuthTypeToken }

func (tokenProvider) ValidateConfig(cfg *config.AuthConfig) error {
	if cfg.Token == "" {
		return errors.ValidationError("token authentication requires a token").Build()
	}
	return nil
}

func (tokenProvider) CreateAuth(cfg *config.AuthConfig) (transport.AuthMethod, error) {
	username := cfg.Username
	if username == "" {
		username = "token"
	}
	return &http.BasicAuth{Username: username, Password: cfg.Token}, nil
}

type basicProvider struct{}

func (basicProvider) Type() config.AuthType { return config.AuthTypeBasic }

func (basicProvider) ValidateConfig(cfg *config.AuthConfig) error {
	if cfg.Username == "" || cfg.Password == "" {
		return errors.ValidationError("basic authentication requires username and password").Build()
	}
	return nil
}

func (basicProvider) CreateAuth(cfg *config.AuthConfig) (transport.AuthMethod, error) {
	return &http.BasicAuth{Username: cfg.Username, Password: cfg.Password}, nil
}

type sshProvider struct{}

func (sshProvider) Type() config.AuthType { return config.AuthTypeSSH }

func sshKeyPath(cfg *config.AuthConfig) string {
	if cfg.KeyPath != "" {
		return cfg.KeyPath
	}
	return filepath.Join(os.Getenv("HOME"), ".ssh", "id_rsa")
}

func (sshProvider) ValidateConfig(cfg *config.AuthConfig) error {
	if _, err := os.Stat(sshKeyPath(cfg)); err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "SSH key file not readable").
			WithContext("path", sshKeyPath(cfg)).
			Build()
	}
	return nil
}

func (sshProvider) CreateAuth(cfg *config.AuthConfig) (transport.AuthMethod, error) {
	user := cfg.Username
	if user == "" {
		user = "git"
	}
	return ssh.NewPublicKeysFromFile(user, sshKeyPath(cfg), cfg.Password)
}
