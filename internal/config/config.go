// Package config loads mailgate settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "MAILGATE_"

// Defaults.
const (
	DefaultAppName           = "mailgate"
	DefaultHTTPAddr          = ":8080"
	DefaultMetricsAddr       = ":9090"
	DefaultGraphBaseURL      = "https://graph.microsoft.com/v1.0"
	DefaultAuthorityHost     = "https://login.microsoftonline.com"
	DefaultDeviceCodeTimeout = 15 * time.Minute
	DefaultUpstreamTimeout   = 30 * time.Second
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
)

// DefaultScopes are requested when no scope list is configured.
var DefaultScopes = []string{"User.Read", "Mail.Read", "Mail.Send"}

// Config is the process configuration.
type Config struct {
	AppName string
	Version string

	TenantID string
	ClientID string
	Scopes   []string

	// APIKey enables Bearer authentication of callers when non-empty.
	APIKey string

	HTTPAddr      string
	GraphBaseURL  string
	AuthorityHost string

	DeviceCodeTimeout time.Duration
	UpstreamTimeout   time.Duration

	// TokenCachePath persists the token between restarts when set.
	TokenCachePath string

	LogLevel  string
	LogFormat string

	MetricsEnabled bool
	MetricsAddr    string
}

// Load reads the given env files (".env" when none are given) and builds a
// Config from the environment. Variables already set in the environment win
// over file values. Missing env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Debug("env file not found, using environment variables", "file", file)
				continue
			}
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	deviceCodeTimeout, err := getDuration("DEVICE_CODE_TIMEOUT", DefaultDeviceCodeTimeout)
	if err != nil {
		return nil, err
	}
	upstreamTimeout, err := getDuration("UPSTREAM_TIMEOUT", DefaultUpstreamTimeout)
	if err != nil {
		return nil, err
	}
	metricsEnabled, err := getBool("METRICS_ENABLED", true)
	if err != nil {
		return nil, err
	}

	scopes := ParseScopes(lookup("SCOPES", "GRAPH_USER_SCOPES"))
	if len(scopes) == 0 {
		scopes = append([]string(nil), DefaultScopes...)
	}

	return &Config{
		AppName:           orDefault(lookup("APP_NAME", "APP_NAME"), DefaultAppName),
		TenantID:          lookup("TENANT_ID", "TENANT_ID"),
		ClientID:          lookup("CLIENT_ID", "CLIENT_ID"),
		Scopes:            scopes,
		APIKey:            lookup("API_KEY", "API_KEY"),
		HTTPAddr:          orDefault(lookup("HTTP_ADDR", ""), DefaultHTTPAddr),
		GraphBaseURL:      strings.TrimRight(orDefault(lookup("GRAPH_BASE_URL", ""), DefaultGraphBaseURL), "/"),
		AuthorityHost:     strings.TrimRight(orDefault(lookup("AUTHORITY_HOST", ""), DefaultAuthorityHost), "/"),
		DeviceCodeTimeout: deviceCodeTimeout,
		UpstreamTimeout:   upstreamTimeout,
		TokenCachePath:    lookup("TOKEN_CACHE", ""),
		LogLevel:          orDefault(lookup("LOG_LEVEL", ""), DefaultLogLevel),
		LogFormat:         orDefault(lookup("LOG_FORMAT", ""), DefaultLogFormat),
		MetricsEnabled:    metricsEnabled,
		MetricsAddr:       orDefault(lookup("METRICS_ADDR", ""), DefaultMetricsAddr),
	}, nil
}

// Validate reports the first missing or malformed setting, naming the
// environment variable that controls it.
func (c *Config) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("%sTENANT_ID (or TENANT_ID) is required", envPrefix)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%sCLIENT_ID (or CLIENT_ID) is required", envPrefix)
	}
	if len(c.Scopes) == 0 {
		return fmt.Errorf("%sSCOPES (or GRAPH_USER_SCOPES) must name at least one scope", envPrefix)
	}
	if c.DeviceCodeTimeout <= 0 {
		return fmt.Errorf("%sDEVICE_CODE_TIMEOUT must be positive", envPrefix)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("%sUPSTREAM_TIMEOUT must be positive", envPrefix)
	}
	if err := validateURL(c.GraphBaseURL); err != nil {
		return fmt.Errorf("%sGRAPH_BASE_URL: %w", envPrefix, err)
	}
	if err := validateURL(c.AuthorityHost); err != nil {
		return fmt.Errorf("%sAUTHORITY_HOST: %w", envPrefix, err)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("%sHTTP_ADDR must not be empty", envPrefix)
	}
	if c.MetricsEnabled && c.MetricsAddr == c.HTTPAddr {
		return fmt.Errorf("%sMETRICS_ADDR must differ from %sHTTP_ADDR", envPrefix, envPrefix)
	}
	return nil
}

// CallerAuthEnabled reports whether /api/v1 routes require a Bearer key.
func (c *Config) CallerAuthEnabled() bool {
	return c.APIKey != ""
}

// ParseScopes splits a scope list on spaces and commas.
func ParseScopes(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme in %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// lookup reads MAILGATE_<name>, falling back to the unprefixed legacy name.
func lookup(name, legacy string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + name)); v != "" {
		return v
	}
	if legacy == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(legacy))
}

func orDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func getDuration(name string, defaultValue time.Duration) (time.Duration, error) {
	raw := lookup(name, "")
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s%s: invalid duration %q: %w", envPrefix, name, raw, err)
	}
	return d, nil
}

func getBool(name string, defaultValue bool) (bool, error) {
	raw := lookup(name, "")
	if raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s%s: invalid boolean %q: %w", envPrefix, name, raw, err)
	}
	return b, nil
}
