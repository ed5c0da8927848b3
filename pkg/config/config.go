// Package config loads gateway settings from the environment and an
// optional YAML file, with env taking precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/konnektr-io/graph-mcp/pkg/embeddings"
)

// EnvPrefix is the prefix for all environment variables, e.g.
// KONNEKTR_AUTH_ISSUER maps to the "auth.issuer" key.
const EnvPrefix = "KONNEKTR"

const (
	defaultAudience         = "https://graph.konnektr.io"
	defaultEndpointTemplate = "https://{resource_id}.api.graph.konnektr.io"
	defaultRequiredScope    = "mcp:tools"
	defaultHost             = "0.0.0.0"
	defaultPort             = 8000
)

// Server holds HTTP listener settings.
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// PublicURL is the externally visible base URL of this gateway,
	// advertised in the protected-resource metadata document. Optional;
	// when empty the metadata endpoint returns 404.
	PublicURL string `mapstructure:"public_url"`
}

// Auth holds token verification settings.
type Auth struct {
	// Disabled turns off verification entirely. Development only.
	Disabled bool `mapstructure:"disabled"`

	// Issuer is the OIDC issuer whose keys sign inbound tokens. Required
	// unless Disabled.
	Issuer string `mapstructure:"issuer"`

	// Audience is the expected aud claim.
	Audience string `mapstructure:"audience"`

	// RequiredScope must appear in every token's scope set.
	RequiredScope string `mapstructure:"required_scope"`

	// JWKSURL overrides OIDC discovery when set.
	JWKSURL string `mapstructure:"jwks_url"`

	// KeySetTTL bounds how long a fetched key set is trusted.
	KeySetTTL time.Duration `mapstructure:"keyset_ttl"`
}

// Backend holds per-tenant graph API settings.
type Backend struct {
	// EndpointTemplate must contain the {resource_id} placeholder.
	EndpointTemplate string `mapstructure:"endpoint_template"`

	// Timeout bounds each backend request.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Settings is the full gateway configuration.
type Settings struct {
	Debug      bool              `mapstructure:"debug"`
	Server     Server            `mapstructure:"server"`
	Auth       Auth              `mapstructure:"auth"`
	Backend    Backend           `mapstructure:"backend"`
	Embeddings embeddings.Config `mapstructure:"embeddings"`
}

// Address returns the host:port listen address.
func (s *Settings) Address() string {
	return fmt.Sprintf("%s:%d", s.Server.Host, s.Server.Port)
}

// settingsKeys lists every key Unmarshal reads. Each one is bound to its
// KONNEKTR_* environment variable explicitly: AutomaticEnv alone only
// resolves keys viper already knows about, so unbound keys set purely via
// the environment would never reach the Settings struct.
var settingsKeys = []string{
	"debug",
	"server.host",
	"server.port",
	"server.public_url",
	"auth.disabled",
	"auth.issuer",
	"auth.audience",
	"auth.required_scope",
	"auth.jwks_url",
	"auth.keyset_ttl",
	"backend.endpoint_template",
	"backend.timeout",
	"embeddings.enabled",
	"embeddings.provider",
	"embeddings.api_key",
	"embeddings.model",
	"embeddings.dimensions",
	"embeddings.truncate",
	"embeddings.base_url",
	"embeddings.azure_endpoint",
	"embeddings.azure_deployment",
	"embeddings.azure_api_version",
	"embeddings.timeout",
}

// Load reads settings from environment variables and, when path is
// non-empty, the given YAML file. Environment variables win.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range settingsKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("server.host", defaultHost)
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("auth.audience", defaultAudience)
	v.SetDefault("auth.required_scope", defaultRequiredScope)
	v.SetDefault("backend.endpoint_template", defaultEndpointTemplate)
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("embeddings.enabled", false)
	v.SetDefault("embeddings.dimensions", embeddings.DefaultDimensions)
}

// Validate checks required fields and cross-field constraints.
func (s *Settings) Validate() error {
	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Server.Port)
	}
	if !s.Auth.Disabled {
		if s.Auth.Issuer == "" {
			return fmt.Errorf("auth.issuer is required when authentication is enabled")
		}
		if s.Auth.Audience == "" {
			return fmt.Errorf("auth.audience is required when authentication is enabled")
		}
		if s.Auth.RequiredScope == "" {
			return fmt.Errorf("auth.required_scope is required when authentication is enabled")
		}
	}
	if !strings.Contains(s.Backend.EndpointTemplate, "{resource_id}") {
		return fmt.Errorf("backend.endpoint_template must contain the {resource_id} placeholder")
	}
	if s.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout must not be negative")
	}
	if s.Embeddings.Enabled && s.Embeddings.Provider == "" {
		return fmt.Errorf("embeddings.provider is required when embeddings are enabled")
	}
	return nil
}
