package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

// Config holds the authorization proxy's runtime configuration, sourced from
// environment variables (with an optional .env file for local development).
type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// APIServer is the upstream FHIR base URL the proxy forwards requests to
	// and fetches the capability statement from.
	APIServer     string `mapstructure:"API_SERVER"`
	APIServerName string `mapstructure:"API_SERVER_NAME"`

	// BaseURL, if set, canonicalizes the oauth-uris extension values
	// (authorize/token/register) the conformance rewriter emits; no manage
	// URL is emitted.
	BaseURL string `mapstructure:"BASE_URL"`

	// EnableUnsecureFHIR turns on the /api/open-fhir/<path> route, which
	// bypasses RequestGuard and SecurityTagger entirely.
	EnableUnsecureFHIR bool `mapstructure:"ENABLE_UNSECURE_FHIR"`

	// DebugEndpointsEnabled gates /oauth/debug/token and
	// /oauth/debug/introspect/<token>, off by default.
	DebugEndpointsEnabled bool `mapstructure:"DEBUG_ENDPOINTS_ENABLED"`

	SecretKey string `mapstructure:"SECRET_KEY"`

	WTFCSRFCheckDefault bool `mapstructure:"WTF_CSRF_CHECK_DEFAULT"`

	// UpstreamTimeoutSeconds bounds proxied requests and capability-statement
	// fetches; exceeding it surfaces as a 504/typed timeout error.
	UpstreamTimeoutSeconds int `mapstructure:"UPSTREAM_TIMEOUT_SECONDS"`
}

// Load reads configuration from the environment (and ./.env if present),
// applying defaults for anything left unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("API_SERVER_NAME", "FHIR Server")
	v.SetDefault("ENABLE_UNSECURE_FHIR", false)
	v.SetDefault("DEBUG_ENDPOINTS_ENABLED", false)
	v.SetDefault("WTF_CSRF_CHECK_DEFAULT", true)
	v.SetDefault("UPSTREAM_TIMEOUT_SECONDS", 30)

	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("API_SERVER")
	v.BindEnv("API_SERVER_NAME")
	v.BindEnv("BASE_URL")
	v.BindEnv("ENABLE_UNSECURE_FHIR")
	v.BindEnv("DEBUG_ENDPOINTS_ENABLED")
	v.BindEnv("SECRET_KEY")
	v.BindEnv("WTF_CSRF_CHECK_DEFAULT")
	v.BindEnv("UPSTREAM_TIMEOUT_SECONDS")

	// Try reading .env file, but don't fail if missing.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.EnableUnsecureFHIR {
		log.Println("WARNING: ENABLE_UNSECURE_FHIR is set — /api/open-fhir/* bypasses RequestGuard and SecurityTagger")
	}

	return cfg, nil
}

// IsDev returns true when the server is configured for development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.APIServer == "" {
		return fmt.Errorf("API_SERVER is required")
	}
	if c.IsProduction() && c.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY is required in production")
	}
	if c.UpstreamTimeoutSeconds <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT_SECONDS must be positive, got %d", c.UpstreamTimeoutSeconds)
	}
	return nil
}
