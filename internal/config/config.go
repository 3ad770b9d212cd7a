package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "TALENTHUB"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "talenthub.db"
	defaultLogLevel         = "info"
	defaultCookieName       = "access_token"
	defaultIssuer           = "talenthub-auth"
	defaultAudience         = "talenthub-api"
	defaultTokenTTL         = 12 * time.Hour
	defaultRedisAddress     = "127.0.0.1:6379"
	defaultSecretsBackend   = SecretsBackendRedis
	defaultSecretsKeyPrefix = "talenthub"
	defaultSecretsTimeout   = 2 * time.Second
	defaultMaxAttempts      = 5
	defaultIdentityTimeout  = 5 * time.Second
	defaultSMTPPort         = 465
	defaultMailWorkers      = 2
	defaultMailQueueSize    = 64
	defaultMailSendTimeout  = 15 * time.Second
	defaultFrontendURL      = "http://localhost:5173"
	defaultRealtimeChannel  = "talenthub:realtime"

	// SecretsBackendRedis keeps verification secrets in Redis.
	SecretsBackendRedis = "redis"
	// SecretsBackendMemory keeps verification secrets in process. Development only.
	SecretsBackendMemory = "memory"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	SigningSecret string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	CookieName    string
	CookieSecure  bool

	RedisAddress  string
	RedisPassword string
	RedisDB       int

	SecretsBackend          string
	SecretsKeyPrefix        string
	SecretsOperationTimeout time.Duration
	SecretsMaxAttempts      int

	IdentityOperationTimeout time.Duration

	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFromAddress string
	SMTPFromName    string

	MailWorkers     int
	MailQueueSize   int
	MailSendTimeout time.Duration

	FrontendURL        string
	CORSAllowedOrigins []string

	RealtimeRelay   bool
	RealtimeChannel string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.cookie_secure", false)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("secrets.backend", defaultSecretsBackend)
	configViper.SetDefault("secrets.key_prefix", defaultSecretsKeyPrefix)
	configViper.SetDefault("secrets.operation_timeout", defaultSecretsTimeout)
	configViper.SetDefault("secrets.max_attempts", defaultMaxAttempts)
	configViper.SetDefault("identity.operation_timeout", defaultIdentityTimeout)
	configViper.SetDefault("smtp.port", defaultSMTPPort)
	configViper.SetDefault("mail.workers", defaultMailWorkers)
	configViper.SetDefault("mail.queue_size", defaultMailQueueSize)
	configViper.SetDefault("mail.send_timeout", defaultMailSendTimeout)
	configViper.SetDefault("frontend.url", defaultFrontendURL)
	configViper.SetDefault("cors.allowed_origins", []string{defaultFrontendURL})
	configViper.SetDefault("realtime.relay", false)
	configViper.SetDefault("realtime.channel", defaultRealtimeChannel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:              configViper.GetString("http.address"),
		DatabasePath:             configViper.GetString("database.path"),
		LogLevel:                 configViper.GetString("log.level"),
		SigningSecret:            configViper.GetString("auth.signing_secret"),
		Issuer:                   configViper.GetString("auth.issuer"),
		Audience:                 configViper.GetString("auth.audience"),
		TokenTTL:                 configViper.GetDuration("auth.token_ttl"),
		CookieName:               strings.TrimSpace(configViper.GetString("auth.cookie_name")),
		CookieSecure:             configViper.GetBool("auth.cookie_secure"),
		RedisAddress:             configViper.GetString("redis.address"),
		RedisPassword:            configViper.GetString("redis.password"),
		RedisDB:                  configViper.GetInt("redis.db"),
		SecretsBackend:           strings.ToLower(strings.TrimSpace(configViper.GetString("secrets.backend"))),
		SecretsKeyPrefix:         configViper.GetString("secrets.key_prefix"),
		SecretsOperationTimeout:  configViper.GetDuration("secrets.operation_timeout"),
		SecretsMaxAttempts:       configViper.GetInt("secrets.max_attempts"),
		IdentityOperationTimeout: configViper.GetDuration("identity.operation_timeout"),
		SMTPHost:                 configViper.GetString("smtp.host"),
		SMTPPort:                 configViper.GetInt("smtp.port"),
		SMTPUsername:             configViper.GetString("smtp.username"),
		SMTPPassword:             configViper.GetString("smtp.password"),
		SMTPFromAddress:          configViper.GetString("smtp.from_address"),
		SMTPFromName:             configViper.GetString("smtp.from_name"),
		MailWorkers:              configViper.GetInt("mail.workers"),
		MailQueueSize:            configViper.GetInt("mail.queue_size"),
		MailSendTimeout:          configViper.GetDuration("mail.send_timeout"),
		FrontendURL:              strings.TrimRight(configViper.GetString("frontend.url"), "/"),
		CORSAllowedOrigins:       splitList(configViper.GetStringSlice("cors.allowed_origins")),
		RealtimeRelay:            configViper.GetBool("realtime.relay"),
		RealtimeChannel:          configViper.GetString("realtime.channel"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// NeedsRedis reports whether any component requires a Redis connection.
func (c AppConfig) NeedsRedis() bool {
	return c.SecretsBackend == SecretsBackendRedis || c.RealtimeRelay
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.Issuer) == "" || strings.TrimSpace(c.Audience) == "" {
		return fmt.Errorf("auth.issuer and auth.audience are required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	switch c.SecretsBackend {
	case SecretsBackendRedis, SecretsBackendMemory:
	default:
		return fmt.Errorf("secrets.backend must be %q or %q, got %q", SecretsBackendRedis, SecretsBackendMemory, c.SecretsBackend)
	}
	if c.NeedsRedis() && strings.TrimSpace(c.RedisAddress) == "" {
		return fmt.Errorf("redis.address is required")
	}
	if strings.TrimSpace(c.FrontendURL) == "" {
		return fmt.Errorf("frontend.url is required")
	}
	return nil
}

// Env values arrive as one comma separated string.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
