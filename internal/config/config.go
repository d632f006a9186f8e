package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/salon-concierge/internal/calendar"
	"github.com/wolfman30/salon-concierge/internal/catalog"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	BusinessName  string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	SeedFile      string

	// Conversation sessions
	SessionBackend       string
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration

	// Scheduling rules
	BusinessTimezone   string
	BusinessOpen       string
	BusinessClose      string
	ClosedDays         []string
	SlotBufferMinutes  int
	DefaultSlotMinutes int

	PendingBookingTTL     time.Duration
	BookingExpiryInterval time.Duration

	// HTTP surface
	AdminJWTSecret     string
	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		BusinessName:  getEnv("BUSINESS_NAME", "Salon Concierge"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		SeedFile:      getEnv("SEED_FILE", ""),

		SessionBackend:       strings.ToLower(strings.TrimSpace(getEnv("SESSION_BACKEND", "memory"))),
		SessionTTL:           getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		SessionSweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),

		BusinessTimezone:   getEnv("BUSINESS_TIMEZONE", "Local"),
		BusinessOpen:       getEnv("BUSINESS_OPEN", "09:00"),
		BusinessClose:      getEnv("BUSINESS_CLOSE", "18:00"),
		ClosedDays:         getEnvAsList("CLOSED_DAYS", []string{"sunday"}),
		SlotBufferMinutes:  getEnvAsInt("SLOT_BUFFER_MINUTES", 15),
		DefaultSlotMinutes: getEnvAsInt("DEFAULT_SLOT_MINUTES", 30),

		PendingBookingTTL:     getEnvAsDuration("PENDING_BOOKING_TTL", 24*time.Hour),
		BookingExpiryInterval: getEnvAsDuration("BOOKING_EXPIRY_INTERVAL", 15*time.Minute),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Salon Concierge"),
	}
}

// Location resolves BusinessTimezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return nil, fmt.Errorf("config: BUSINESS_TIMEZONE %q: %w", c.BusinessTimezone, err)
	}
	return loc, nil
}

// BusinessHours builds the salon-wide scheduling rules.
func (c *Config) BusinessHours() (catalog.BusinessHours, error) {
	var hours catalog.BusinessHours
	open, err := calendar.ParseClock(c.BusinessOpen)
	if err != nil {
		return hours, fmt.Errorf("config: BUSINESS_OPEN: %w", err)
	}
	closing, err := calendar.ParseClock(c.BusinessClose)
	if err != nil {
		return hours, fmt.Errorf("config: BUSINESS_CLOSE: %w", err)
	}
	if closing <= open {
		return hours, fmt.Errorf("config: BUSINESS_CLOSE %s must be after BUSINESS_OPEN %s", closing, open)
	}
	if c.DefaultSlotMinutes <= 0 {
		return hours, fmt.Errorf("config: DEFAULT_SLOT_MINUTES must be positive")
	}
	if c.SlotBufferMinutes < 0 {
		return hours, fmt.Errorf("config: SLOT_BUFFER_MINUTES must not be negative")
	}

	hours = catalog.BusinessHours{
		Open:               open,
		Close:              closing,
		DefaultSlotMinutes: c.DefaultSlotMinutes,
		BufferMinutes:      c.SlotBufferMinutes,
	}
	for _, name := range c.ClosedDays {
		d, ok := calendar.ParseWeekday(name)
		if !ok {
			return hours, fmt.Errorf("config: CLOSED_DAYS: unknown weekday %q", name)
		}
		hours.ClosedDays = append(hours.ClosedDays, d)
	}
	return hours, nil
}

// UseRedisSessions reports whether conversation state lives in Redis.
func (c *Config) UseRedisSessions() bool {
	return c.SessionBackend == "redis"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
