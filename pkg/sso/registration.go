package sso

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/websignon/ssokit/pkg/oauth2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultStateTTL   = 5 * time.Minute
	DefaultMaxRetries = 3
	DefaultTimeout    = 10 * time.Second
)

// ClientRegistration describes one identity provider. Loaded once at
// startup and treated as read-only afterwards, so concurrent reads need
// no synchronization.
type ClientRegistration struct {
	Name             string   `yaml:"name" validate:"required"`
	ClientID         string   `yaml:"client_id" validate:"required"`
	ClientSecret     string   `yaml:"client_secret"`
	AuthorizationURL string   `yaml:"authorization_url" validate:"required,url"`
	TokenURL         string   `yaml:"token_url" validate:"required,url"`
	RedirectPath     string   `yaml:"redirect_path"`
	Scopes           []string `yaml:"scopes"`
	ScopeSeparator   string   `yaml:"scope_separator"`

	// Issuer enables the OpenID Connect extras (discovery, id_token
	// verification) for providers that support them.
	Issuer string `yaml:"issuer" validate:"omitempty,url"`

	AuthScheme oauth2.ClientAuthScheme `yaml:"auth_scheme"`
	BearerIn   oauth2.BearerPlacement  `yaml:"bearer_in"`

	StateTTL   time.Duration `yaml:"state_ttl"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ResourceServerConfig points at the endpoint serving the identity
// document for an issued access token.
type ResourceServerConfig struct {
	UserInfoURL string `yaml:"user_info_url" validate:"required,url"`
}

type Config struct {
	BaseURL        string               `yaml:"base_url" validate:"required,url"`
	Registration   *ClientRegistration  `yaml:"registration" validate:"required"`
	ResourceServer ResourceServerConfig `yaml:"resource_server"`
}

// Normalize validates the registration and fills in defaults. Any
// violation is a configuration error, fatal at startup.
func (r *ClientRegistration) Normalize() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %s", ErrConfiguration, err)
	}

	authScheme, err := oauth2.ParseClientAuthScheme(string(r.AuthScheme))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrConfiguration, err)
	}
	r.AuthScheme = authScheme

	bearerIn, err := oauth2.ParseBearerPlacement(string(r.BearerIn))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrConfiguration, err)
	}
	r.BearerIn = bearerIn

	if r.RedirectPath == "" {
		r.RedirectPath = "/sso/callback"
	}
	if r.ScopeSeparator == "" {
		r.ScopeSeparator = " "
	}
	if r.StateTTL <= 0 {
		r.StateTTL = DefaultStateTTL
	}
	if r.MaxRetries <= 0 {
		r.MaxRetries = DefaultMaxRetries
	}
	if r.Timeout <= 0 {
		r.Timeout = DefaultTimeout
	}

	return nil
}

// Validate checks the whole configuration document. It applies no
// matter how the config was assembled, from a file or from flags.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrConfiguration, err)
	}
	return nil
}

func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// secrets are referenced as ${ENV_VAR} in the config file
	data = []byte(os.ExpandEnv(string(data)))

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := config.Registration.Normalize(); err != nil {
		return nil, err
	}

	return &config, nil
}
