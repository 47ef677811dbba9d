package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"
)

// Database drivers.
const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Config holds everything the bot reads from the environment.
type Config struct {
	BotToken     string  `env:"BOT_TOKEN"`
	AdminIDs     []int64 `env:"ADMIN_IDS" envSeparator:","`
	AuthCodeHash string  `env:"ADMIN_AUTH_CODE_HASH"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"mongo"`
	MongoURI       string `env:"MONGODB_URI"`
	MongoDatabase  string `env:"MONGODB_DATABASE" envDefault:"numbershop"`

	CurrencySymbol string   `env:"CURRENCY_SYMBOL" envDefault:"₹"`
	DefaultPrice   float64  `env:"DEFAULT_PRICE" envDefault:"140"`
	SeedCountries  []string `env:"SEED_COUNTRIES" envSeparator:"," envDefault:"USA,India,China,Indonesia,Chile"`
	MaxPerOrder    int      `env:"MAX_PER_ORDER" envDefault:"10"`

	SupportHandle   string `env:"SUPPORT_HANDLE" envDefault:"@YourSupportHandle"`
	TermsURL        string `env:"TERMS_URL"`
	RequiredChannel string `env:"REQUIRED_CHANNEL"`
	LogChatID       int64  `env:"LOG_CHAT_ID"`

	UPIID        string `env:"UPI_ID"`
	UPIPayeeName string `env:"UPI_PAYEE_NAME"`

	IMAP IMAPConfig

	ReviewSchedule      string        `env:"REVIEW_SCHEDULE" envDefault:"@every 10m"`
	ReviewReminderAfter time.Duration `env:"REVIEW_REMINDER_AFTER" envDefault:"24h"`

	HealthAddr string `env:"HEALTH_ADDR" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	Workers    int    `env:"WORKERS" envDefault:"4"`
}

// IMAPConfig configures the payment mailbox. The mailbox is disabled when
// Host is empty.
type IMAPConfig struct {
	Host     string        `env:"IMAP_HOST"`
	Port     int           `env:"IMAP_PORT" envDefault:"993"`
	Username string        `env:"IMAP_USERNAME"`
	Password string        `env:"IMAP_PASSWORD"`
	Sender   string        `env:"IMAP_SENDER" envDefault:"no-reply@famapp.in"`
	Lookback time.Duration `env:"IMAP_LOOKBACK" envDefault:"72h"`
}

// Enabled reports whether a mailbox is configured.
func (c IMAPConfig) Enabled() bool {
	return c.Host != ""
}

// Parse reads and validates the configuration from the environment.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN must be set")
	}

	switch c.DatabaseDriver {
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI must be set when DATABASE_DRIVER=%s", DriverMongo)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	if c.DefaultPrice <= 0 {
		return fmt.Errorf("DEFAULT_PRICE must be positive")
	}
	if c.MaxPerOrder < 1 {
		return fmt.Errorf("MAX_PER_ORDER must be at least 1")
	}
	if c.Workers < 1 {
		c.Workers = 1
	}

	if c.IMAP.Enabled() && (c.IMAP.Username == "" || c.IMAP.Password == "") {
		return fmt.Errorf("IMAP_USERNAME and IMAP_PASSWORD must be set when IMAP_HOST is set")
	}
	if c.AuthCodeHash != "" {
		if _, err := bcrypt.Cost([]byte(c.AuthCodeHash)); err != nil {
			return fmt.Errorf("ADMIN_AUTH_CODE_HASH is not a bcrypt hash: %w", err)
		}
	}

	c.RequiredChannel = strings.TrimSpace(c.RequiredChannel)
	if c.RequiredChannel != "" && !strings.HasPrefix(c.RequiredChannel, "@") {
		c.RequiredChannel = "@" + c.RequiredChannel
	}
	return nil
}

// HashAuthCode returns the bcrypt hash to put in ADMIN_AUTH_CODE_HASH.
func HashAuthCode(code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("auth code cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash auth code: %w", err)
	}
	return string(hash), nil
}

// CheckAuthCode compares a code against ADMIN_AUTH_CODE_HASH.
func (c *Config) CheckAuthCode(code string) bool {
	if c.AuthCodeHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.AuthCodeHash), []byte(code)) == nil
}

// IsAdminID reports whether id is listed in ADMIN_IDS.
func (c *Config) IsAdminID(id int64) bool {
	for _, admin := range c.AdminIDs {
		if admin == id {
			return true
		}
	}
	return false
}
