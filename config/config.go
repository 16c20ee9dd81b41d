package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

var (
	environments   = []any{"development", "testing", "staging", "production"}
	authModes      = []any{"simple", "advanced", "development", "test"}
	presets        = []any{"simple", "development", "production"}
	strategies     = []any{"aggressive", "balanced", "conservative", "critical"}
	selectors      = []any{"round-robin", "random", "least-conn", "least-response", "weighted"}
	logLevels      = []any{LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError}
	textOperations = []string{"summarize", "sentiment", "key_points", "questions", "qa"}
)

type ServerConfig struct {
	Address string `mapstructure:"address"`
	// Environment overrides detection when set.
	Environment     string        `mapstructure:"environment"`
	Version         string        `mapstructure:"version"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// TrustedProxies are addresses or CIDR ranges whose X-Forwarded-For
	// header is believed.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address, validation.Required, validation.By(validateHostPort)),
		validation.Field(&s.Environment, validation.In(environments...)),
		validation.Field(&s.ReadTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.WriteTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.IdleTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.ShutdownTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.MaxBodyBytes, validation.Required, validation.Min(int64(1024))),
		validation.Field(&s.TrustedProxies, validation.Each(validation.By(validateProxy))),
	)
}

type AuthConfig struct {
	Mode                 string        `mapstructure:"mode"`
	APIKey               string        `mapstructure:"api_key"`
	AdditionalKeys       []string      `mapstructure:"additional_keys"`
	EnableUserTracking   bool          `mapstructure:"enable_user_tracking"`
	EnableRequestLogging bool          `mapstructure:"enable_request_logging"`
	JWTSecret            string        `mapstructure:"jwt_secret"`
	TokenTTL             time.Duration `mapstructure:"token_ttl"`
}

func (a AuthConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Mode, validation.Required, validation.In(authModes...)),
		validation.Field(&a.JWTSecret, validation.Length(32, 0)),
		validation.Field(&a.TokenTTL, validation.Min(time.Second), validation.Max(24*time.Hour)),
	)
}

type CacheConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	RedisURL             string        `mapstructure:"redis_url"`
	KeyPrefix            string        `mapstructure:"key_prefix"`
	DefaultTTL           time.Duration `mapstructure:"default_ttl"`
	MemorySize           int           `mapstructure:"memory_size"`
	CompressionThreshold int           `mapstructure:"compression_threshold"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
}

func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.RedisURL, validation.By(validateRedisURL)),
		validation.Field(&c.DefaultTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MemorySize, validation.Required, validation.Min(1)),
		validation.Field(&c.CompressionThreshold, validation.Min(0)),
		validation.Field(&c.ConnectTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.SweepInterval, validation.Required, validation.Min(time.Second)),
	)
}

type ResilienceConfig struct {
	Preset string `mapstructure:"preset"`
	// Operations maps an operation name to a strategy, overriding the preset.
	Operations map[string]string `mapstructure:"operations"`
}

func (r ResilienceConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Preset, validation.Required, validation.In(presets...)),
		validation.Field(&r.Operations,
			validation.Each(validation.In(strategies...)),
			validation.By(validateOperationKeys),
		),
	)
}

type HealthCheckConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryCount    int           `mapstructure:"retry_count"`
	Backoff       time.Duration `mapstructure:"backoff"`
	Interval      time.Duration `mapstructure:"interval"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

func (h HealthCheckConfig) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&h.RetryCount, validation.Min(0), validation.Max(5)),
		validation.Field(&h.Backoff, validation.Min(time.Duration(0))),
		validation.Field(&h.Interval, validation.Required, validation.Min(time.Second)),
		validation.Field(&h.ProbeInterval, validation.Required, validation.Min(time.Second)),
	)
}

type EndpointConfig struct {
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

func (e EndpointConfig) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.URL, validation.Required, validation.By(validateServerURL)),
		validation.Field(&e.Weight, validation.Min(0)),
	)
}

type LLMConfig struct {
	// BaseURL is used when Endpoints is empty.
	BaseURL         string           `mapstructure:"base_url"`
	Endpoints       []EndpointConfig `mapstructure:"endpoints"`
	APIKey          string           `mapstructure:"api_key"`
	Model           string           `mapstructure:"model"`
	Timeout         time.Duration    `mapstructure:"timeout"`
	Strategy        string           `mapstructure:"strategy"`
	RecheckInterval time.Duration    `mapstructure:"recheck_interval"`
}

func (l LLMConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.BaseURL, validation.By(validateServerURL)),
		validation.Field(&l.Endpoints),
		validation.Field(&l.Model, validation.Required),
		validation.Field(&l.Timeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&l.Strategy, validation.Required, validation.In(selectors...)),
		validation.Field(&l.RecheckInterval, validation.Min(time.Duration(0))),
	)
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

func (r RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RPS, validation.When(r.Enabled, validation.Required, validation.Min(0.01))),
		validation.Field(&r.Burst, validation.When(r.Enabled, validation.Required, validation.Min(1))),
	)
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.Required, validation.In(logLevels...)),
	)
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.BufferSize, validation.Required, validation.Min(1)),
	)
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Resilience  ResilienceConfig  `mapstructure:"resilience"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	LLM         LLMConfig         `mapstructure:"llm"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// Validate checks every section.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Auth),
		validation.Field(&c.Cache),
		validation.Field(&c.Resilience),
		validation.Field(&c.HealthCheck),
		validation.Field(&c.LLM),
		validation.Field(&c.RateLimit),
		validation.Field(&c.Logging),
		validation.Field(&c.Metrics),
	)
}

// LoadOptions carries command line overrides. Empty fields are ignored.
type LoadOptions struct {
	ConfigFile string
	EnvFile    string
	Address    string
}

// flatEnv binds the short variable names used by earlier deployments in
// addition to the SECTION_KEY names AutomaticEnv derives.
var flatEnv = map[string][]string{
	"auth.api_key":                {"API_KEY"},
	"auth.additional_keys":        {"ADDITIONAL_API_KEYS"},
	"auth.mode":                   {"AUTH_MODE"},
	"auth.enable_user_tracking":   {"ENABLE_USER_TRACKING"},
	"auth.enable_request_logging": {"ENABLE_REQUEST_LOGGING"},
	"auth.jwt_secret":             {"JWT_SECRET"},
	"cache.redis_url":             {"REDIS_URL"},
	"server.environment":          {"ENVIRONMENT"},
	"server.trusted_proxies":      {"TRUSTED_PROXIES"},
	"resilience.preset":           {"RESILIENCE_PRESET"},
	"llm.api_key":                 {"LLM_API_KEY", "GEMINI_API_KEY"},
	"llm.base_url":                {"LLM_BASE_URL"},
	"llm.model":                   {"AI_MODEL"},
	"logging.level":               {"LOG_LEVEL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.environment", "")
	v.SetDefault("server.version", "1.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("auth.mode", "simple")
	v.SetDefault("auth.additional_keys", []string{})
	v.SetDefault("auth.enable_user_tracking", false)
	v.SetDefault("auth.enable_request_logging", false)
	v.SetDefault("auth.token_ttl", "1h")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.key_prefix", "ai:")
	v.SetDefault("cache.default_ttl", "1h")
	v.SetDefault("cache.memory_size", 100)
	v.SetDefault("cache.compression_threshold", 1000)
	v.SetDefault("cache.connect_timeout", "2s")
	v.SetDefault("cache.sweep_interval", "1m")

	v.SetDefault("resilience.preset", "simple")

	v.SetDefault("health_check.timeout", "2s")
	v.SetDefault("health_check.retry_count", 1)
	v.SetDefault("health_check.backoff", "100ms")
	v.SetDefault("health_check.interval", "30s")
	v.SetDefault("health_check.probe_interval", "30s")

	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.strategy", "round-robin")
	v.SetDefault("llm.recheck_interval", "30s")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 10)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", false)

	v.SetDefault("metrics.buffer_size", 1000)
}

// Load reads the configuration. Precedence, lowest first: defaults, config
// file, .env file, environment, command line.
func Load(opts LoadOptions) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range flatEnv {
		automatic := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, automatic}, names...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Debug("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	if opts.Address != "" {
		v.Set("server.address", opts.Address)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

// loadEnvFile reads path, or .env when path is empty. Variables already set
// in the environment win. A missing default .env is not an error.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// normalize trims list values that arrive as comma separated strings.
func (c *Config) normalize() {
	c.Auth.AdditionalKeys = trimAll(c.Auth.AdditionalKeys)
	c.Server.CORSOrigins = trimAll(c.Server.CORSOrigins)
	c.Server.TrustedProxies = trimAll(c.Server.TrustedProxies)
	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	c.Server.Environment = strings.ToLower(strings.TrimSpace(c.Server.Environment))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	if len(c.LLM.Endpoints) == 0 && c.LLM.BaseURL != "" {
		c.LLM.Endpoints = []EndpointConfig{{URL: c.LLM.BaseURL, Weight: 1}}
	}
	for i := range c.LLM.Endpoints {
		if c.LLM.Endpoints[i].Weight == 0 {
			c.LLM.Endpoints[i].Weight = 1
		}
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return nil
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validateProxy(value interface{}) error {
	proxy, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if strings.Contains(proxy, "/") {
		if _, err := netip.ParsePrefix(proxy); err != nil {
			return validation.NewError("validation_invalid_cidr", "must be a valid CIDR range")
		}
		return nil
	}
	if _, err := netip.ParseAddr(proxy); err != nil {
		return validation.NewError("validation_invalid_ip", "must be a valid IP address or CIDR range")
	}
	return nil
}

func validateRedisURL(value interface{}) error {
	redisURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if redisURL == "" {
		return nil
	}

	parsedURL, err := url.Parse(redisURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}
	if parsedURL.Scheme != "redis" && parsedURL.Scheme != "rediss" && parsedURL.Scheme != "unix" {
		return validation.NewError("validation_invalid_scheme", "URL must use redis, rediss or unix scheme")
	}
	return nil
}

func validateOperationKeys(value interface{}) error {
	ops, ok := value.(map[string]string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a map")
	}
	for name := range ops {
		if !slices.Contains(textOperations, name) {
			return validation.NewError("validation_unknown_operation", fmt.Sprintf("unknown operation %q", name))
		}
	}
	return nil
}

// IsProduction reports whether the configured environment is production.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

