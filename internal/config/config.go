package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the dialer process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	Dialer   DialerConfig
	RateCard RateCardConfig
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
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// PublicBaseURL is the externally reachable origin Twilio calls back into.
	// Webhook signatures are computed over it.
	PublicBaseURL string
	// APIBaseURL overrides the REST endpoint; empty uses Twilio's default.
	APIBaseURL string
	// StreamURL is the agent media stream (wss://) answered calls connect to.
	StreamURL   string
	CountryISO2 string
}

type DialerConfig struct {
	// Provider selects the telephony backend: "twilio" or "sandbox".
	Provider string

	TickInterval    time.Duration
	MaxConcurrent   int
	MaxCallDuration time.Duration
	DispatchTimeout time.Duration

	RetryBackoff time.Duration
	MaxRetries   int

	RecencyWindow     time.Duration
	CallingHoursStart int
	CallingHoursEnd   int
	Timezone          string

	BudgetWarningPct float64

	MinActiveDIDs    int
	RotationInterval time.Duration

	// CampaignSlotLimit caps concurrent calls per campaign across instances; 0 disables.
	CampaignSlotLimit int
}

type RateCardConfig struct {
	Currency                string
	InitiationFeeMinor      int64
	PerMinuteMinor          int64
	BillingIncrementSeconds int
	MinimumBillableSeconds  int
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
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.PublicBaseURL = strings.TrimSpace(os.Getenv("TWILIO_PUBLIC_BASE_URL"))
	c.Twilio.APIBaseURL = strings.TrimSpace(os.Getenv("TWILIO_API_BASE_URL"))
	c.Twilio.StreamURL = strings.TrimSpace(os.Getenv("TWILIO_STREAM_URL"))
	c.Twilio.CountryISO2 = strings.ToUpper(strings.TrimSpace(os.Getenv("TWILIO_COUNTRY")))

	c.Dialer.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("DIALER_PROVIDER")))
	c.Dialer.TickInterval = mustDuration("DIALER_TICK_INTERVAL")
	c.Dialer.MaxCallDuration = mustDuration("DIALER_MAX_CALL_DURATION")
	c.Dialer.DispatchTimeout = mustDuration("DIALER_DISPATCH_TIMEOUT")
	c.Dialer.RetryBackoff = mustDuration("DIALER_RETRY_BACKOFF")
	c.Dialer.RecencyWindow = mustDuration("DIALER_RECENCY_WINDOW")
	c.Dialer.RotationInterval = mustDuration("DIALER_ROTATION_INTERVAL")
	c.Dialer.Timezone = strings.TrimSpace(os.Getenv("DIALER_TIMEZONE"))
	c.Dialer.CallingHoursStart, parseErrs = optionalInt(parseErrs, "DIALER_CALLING_HOURS_START", 9)
	c.Dialer.CallingHoursEnd, parseErrs = optionalInt(parseErrs, "DIALER_CALLING_HOURS_END", 20)
	c.Dialer.MaxConcurrent, parseErrs = optionalInt(parseErrs, "DIALER_MAX_CONCURRENT", 0)
	c.Dialer.MaxRetries, parseErrs = optionalInt(parseErrs, "DIALER_MAX_RETRIES", 3)
	c.Dialer.MinActiveDIDs, parseErrs = optionalInt(parseErrs, "DIALER_MIN_ACTIVE_DIDS", 0)
	c.Dialer.CampaignSlotLimit, parseErrs = optionalInt(parseErrs, "DIALER_CAMPAIGN_SLOT_LIMIT", 0)
	{
		v := strings.TrimSpace(os.Getenv("DIALER_BUDGET_WARNING_PCT"))
		if v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				parseErrs = append(parseErrs, fmt.Errorf("DIALER_BUDGET_WARNING_PCT must be a number, got %q", v))
			}
			c.Dialer.BudgetWarningPct = f
		}
	}

	c.RateCard.Currency = strings.ToUpper(strings.TrimSpace(os.Getenv("RATE_CURRENCY")))
	{
		var n int
		n, parseErrs = optionalInt(parseErrs, "RATE_INITIATION_FEE_MINOR", 0)
		c.RateCard.InitiationFeeMinor = int64(n)
		n, parseErrs = optionalInt(parseErrs, "RATE_PER_MINUTE_MINOR", 0)
		c.RateCard.PerMinuteMinor = int64(n)
	}
	c.RateCard.BillingIncrementSeconds, parseErrs = optionalInt(parseErrs, "RATE_BILLING_INCREMENT_SECONDS", 60)
	c.RateCard.MinimumBillableSeconds, parseErrs = optionalInt(parseErrs, "RATE_MINIMUM_BILLABLE_SECONDS", 0)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration and fills defaults for optional values.
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

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
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
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	errs = append(errs, c.validateDialer()...)
	errs = append(errs, c.validateTwilio()...)
	errs = append(errs, c.validateRateCard()...)

	return joinErrors(errs)
}

func (c *Config) validateDialer() []error {
	var errs []error
	d := &c.Dialer

	if d.Provider == "" {
		d.Provider = "twilio"
	}
	switch d.Provider {
	case "twilio":
	case "sandbox":
		if c.IsProduction() {
			errs = append(errs, errors.New("DIALER_PROVIDER=sandbox is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("DIALER_PROVIDER must be one of twilio, sandbox, got %q", d.Provider))
	}

	if d.TickInterval <= 0 {
		d.TickInterval = time.Second
	}
	if d.MaxConcurrent <= 0 {
		d.MaxConcurrent = 10
	}
	if d.MaxCallDuration <= 0 {
		d.MaxCallDuration = 300 * time.Second
	}
	if d.DispatchTimeout <= 0 {
		d.DispatchTimeout = 10 * time.Second
	}
	if d.RetryBackoff <= 0 {
		d.RetryBackoff = 5 * time.Minute
	}
	if d.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("DIALER_MAX_RETRIES must not be negative, got %d", d.MaxRetries))
	}
	if d.RecencyWindow <= 0 {
		d.RecencyWindow = 24 * time.Hour
	}
	if d.RotationInterval <= 0 {
		d.RotationInterval = time.Hour
	}
	if d.MinActiveDIDs <= 0 {
		d.MinActiveDIDs = 5
	}
	if d.CampaignSlotLimit < 0 {
		errs = append(errs, fmt.Errorf("DIALER_CAMPAIGN_SLOT_LIMIT must not be negative, got %d", d.CampaignSlotLimit))
	}
	if d.BudgetWarningPct <= 0 {
		d.BudgetWarningPct = 80
	} else if d.BudgetWarningPct >= 100 {
		errs = append(errs, fmt.Errorf("DIALER_BUDGET_WARNING_PCT must be below 100, got %v", d.BudgetWarningPct))
	}

	if d.CallingHoursStart < 0 || d.CallingHoursEnd > 24 || d.CallingHoursStart >= d.CallingHoursEnd {
		errs = append(errs, fmt.Errorf("calling hours must satisfy 0 <= start < end <= 24, got %d-%d", d.CallingHoursStart, d.CallingHoursEnd))
	}
	if d.Timezone == "" {
		d.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(d.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("DIALER_TIMEZONE is not a valid IANA zone: %q", d.Timezone))
	}
	return errs
}

func (c *Config) validateTwilio() []error {
	if c.Twilio.CountryISO2 == "" {
		c.Twilio.CountryISO2 = "US"
	}
	c.Twilio.PublicBaseURL = strings.TrimRight(c.Twilio.PublicBaseURL, "/")
	if c.Dialer.Provider != "twilio" {
		return nil
	}

	var errs []error
	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.PublicBaseURL == "" {
		errs = append(errs, errors.New("TWILIO_PUBLIC_BASE_URL is required"))
	} else if c.IsProduction() && !strings.HasPrefix(c.Twilio.PublicBaseURL, "https://") {
		errs = append(errs, errors.New("TWILIO_PUBLIC_BASE_URL must be https in production"))
	}
	if c.Twilio.StreamURL != "" && !strings.HasPrefix(c.Twilio.StreamURL, "wss://") && !strings.HasPrefix(c.Twilio.StreamURL, "ws://") {
		errs = append(errs, fmt.Errorf("TWILIO_STREAM_URL must be a websocket url, got %q", c.Twilio.StreamURL))
	}
	return errs
}

func (c *Config) validateRateCard() []error {
	var errs []error
	if c.RateCard.Currency == "" {
		c.RateCard.Currency = "USD"
	}
	if c.RateCard.InitiationFeeMinor < 0 || c.RateCard.PerMinuteMinor < 0 {
		errs = append(errs, errors.New("RATE_INITIATION_FEE_MINOR and RATE_PER_MINUTE_MINOR must not be negative"))
	}
	if c.RateCard.BillingIncrementSeconds < 0 || c.RateCard.MinimumBillableSeconds < 0 {
		errs = append(errs, errors.New("RATE_BILLING_INCREMENT_SECONDS and RATE_MINIMUM_BILLABLE_SECONDS must not be negative"))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
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
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// TwilioAnswerURL is the webhook serving TwiML for answered calls.
func (c Config) TwilioAnswerURL() string {
	return c.Twilio.PublicBaseURL + "/webhooks/twilio/answer"
}

// TwilioStatusURL is the call progress webhook.
func (c Config) TwilioStatusURL() string {
	return c.Twilio.PublicBaseURL + "/webhooks/twilio/status"
}

// DialerLocation is the fallback zone for calling hours and the budget day.
// Validate has already rejected unknown zones.
func (c Config) DialerLocation() *time.Location {
	loc, err := time.LoadLocation(c.Dialer.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

func optionalInt(errs []error, key string, def int) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
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
