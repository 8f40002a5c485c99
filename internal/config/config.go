package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App         AppConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Telephony   TelephonyConfig
	Summarizer  SummarizerConfig
	Queue       QueueConfig
	Transcripts TranscriptsConfig
	MQTT        MQTTConfig

	// PolicyFile is an optional YAML call policy (see LoadPolicy).
	PolicyFile string
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// MaxConns caps the pool. Zero takes the pool default.
	MaxConns int
}

// RedisConfig is optional. Without a host the status cache stays in process
// and no cross-replica dial slot is used.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

const (
	ProviderPlivo  = "plivo"
	ProviderTwilio = "twilio"
)

type TelephonyConfig struct {
	// Provider is plivo or twilio. Empty disables dialing (local only).
	Provider   string
	FromNumber string
	// PublicURL is where the provider reaches the webhooks and stream.
	PublicURL        string
	GreetingAudioURL string

	PlivoAuthID    string
	PlivoAuthToken string
	CallsPerSecond float64

	TwilioAccountSID string
	TwilioAuthToken  string
}

// SummarizerConfig configures the OpenAI-compatible summary endpoint.
// Without an API key every call gets the template summary.
type SummarizerConfig struct {
	APIKey        string
	Model         string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
}

type QueueConfig struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	DialGap      time.Duration
	SlotKey      string
}

type TranscriptsConfig struct {
	Dir string
}

// MQTTConfig is optional; an empty broker disables event publishing.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := intOr("DB_PORT", 5432)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	{
		n, err := intOr("DB_MAX_CONNS", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.MaxConns = n
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := intOr("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := intOr("REDIS_DB", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Telephony.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("TELEPHONY_PROVIDER")))
	c.Telephony.FromNumber = strings.TrimSpace(os.Getenv("TELEPHONY_FROM_NUMBER"))
	c.Telephony.PublicURL = strings.TrimSpace(os.Getenv("PUBLIC_URL"))
	c.Telephony.GreetingAudioURL = strings.TrimSpace(os.Getenv("GREETING_AUDIO_URL"))
	c.Telephony.PlivoAuthID = strings.TrimSpace(os.Getenv("PLIVO_AUTH_ID"))
	c.Telephony.PlivoAuthToken = os.Getenv("PLIVO_AUTH_TOKEN")
	{
		f, err := floatOr("PLIVO_CPS", 0)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Telephony.CallsPerSecond = f
	}
	c.Telephony.TwilioAccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Telephony.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")

	c.Summarizer.APIKey = os.Getenv("OPENAI_API_KEY")
	c.Summarizer.Model = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	c.Summarizer.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	c.Summarizer.Timeout = mustDuration("SUMMARY_TIMEOUT")
	{
		f, err := floatOr("SUMMARY_RPS", 0)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Summarizer.RatePerSecond = f
	}

	c.Queue.PollInterval = mustDuration("QUEUE_POLL_INTERVAL")
	c.Queue.MaxWait = mustDuration("QUEUE_MAX_WAIT")
	c.Queue.DialGap = mustDuration("QUEUE_DIAL_GAP")
	c.Queue.SlotKey = strings.TrimSpace(os.Getenv("QUEUE_SLOT_KEY"))

	c.Transcripts.Dir = strings.TrimSpace(os.Getenv("TRANSCRIPTS_DIR"))

	c.MQTT.Broker = strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	c.MQTT.ClientID = strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	c.MQTT.Username = strings.TrimSpace(os.Getenv("MQTT_USERNAME"))
	c.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	c.MQTT.TopicPrefix = strings.TrimSpace(os.Getenv("MQTT_TOPIC_PREFIX"))
	{
		n, err := intOr("MQTT_QOS", 1)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.MQTT.QoS = n
	}

	c.PolicyFile = strings.TrimSpace(os.Getenv("CALL_POLICY_FILE"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	// Local runs may use the in-memory call store.
	if c.DB.Host != "" || c.App.Env != "local" {
		if c.DB.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required"))
		}
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	errs = append(errs, c.validateTelephony()...)

	if c.Summarizer.Timeout <= 0 {
		c.Summarizer.Timeout = 60 * time.Second
	}
	if c.Summarizer.RatePerSecond < 0 {
		errs = append(errs, errors.New("SUMMARY_RPS must not be negative"))
	}

	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = 2 * time.Second
	}
	if c.Queue.MaxWait <= 0 {
		c.Queue.MaxWait = 600 * time.Second
	}
	if c.Queue.DialGap <= 0 {
		c.Queue.DialGap = time.Second
	}
	if c.Queue.MaxWait < c.Queue.PollInterval {
		errs = append(errs, errors.New("QUEUE_MAX_WAIT must not be shorter than QUEUE_POLL_INTERVAL"))
	}

	if c.Transcripts.Dir == "" {
		c.Transcripts.Dir = "transcripts"
	}

	if c.MQTT.Broker != "" {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS))
		}
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = "reminder-voice"
		}
		if c.MQTT.TopicPrefix == "" {
			c.MQTT.TopicPrefix = "reminders"
		}
	}

	return joinErrors(errs)
}

func (c *Config) validateTelephony() []error {
	var errs []error
	t := c.Telephony
	switch t.Provider {
	case "":
		if c.App.Env != "local" {
			errs = append(errs, errors.New("TELEPHONY_PROVIDER is required outside local"))
		}
		return errs
	case ProviderPlivo:
		if t.PlivoAuthID == "" || t.PlivoAuthToken == "" {
			errs = append(errs, errors.New("PLIVO_AUTH_ID and PLIVO_AUTH_TOKEN are required for plivo"))
		}
		if t.CallsPerSecond < 0 {
			errs = append(errs, errors.New("PLIVO_CPS must not be negative"))
		}
	case ProviderTwilio:
		if t.TwilioAccountSID == "" || t.TwilioAuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required for twilio"))
		}
	default:
		errs = append(errs, fmt.Errorf("TELEPHONY_PROVIDER must be plivo or twilio, got %q", t.Provider))
	}
	if t.FromNumber == "" {
		errs = append(errs, errors.New("TELEPHONY_FROM_NUMBER is required"))
	}
	if !strings.HasPrefix(t.PublicURL, "http://") && !strings.HasPrefix(t.PublicURL, "https://") {
		errs = append(errs, fmt.Errorf("PUBLIC_URL must be an http(s) URL, got %q", t.PublicURL))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// UsesPostgres reports whether call records live in Postgres.
func (c Config) UsesPostgres() bool {
	return c.DB.Host != ""
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func intOr(key string, def int) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, nil
	}
	return mustInt(key)
}

func floatOr(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
