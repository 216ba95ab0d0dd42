package config

import "time"

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = "5000"

	// DefaultDatabaseURL is empty; must be provided via flag or environment.
	DefaultDatabaseURL = ""

	// DefaultJWTTTL is how long issued access tokens stay valid.
	DefaultJWTTTL = 7 * 24 * time.Hour

	// DefaultRateLimit is the number of requests allowed per window and client.
	DefaultRateLimit = 100

	// DefaultRateWindow is the fixed rate limiting window.
	DefaultRateWindow = 15 * time.Minute

	// DefaultAuthRateLimit is the number of register and login attempts
	// allowed per window and client address.
	DefaultAuthRateLimit = 5

	// DefaultAuthRateWindow is the window of the register and login limit.
	DefaultAuthRateWindow = 15 * time.Minute
)

// Pagination bounds shared by all list endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Config holds the settings needed to run the HTTP server.
type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string
	JWTTTL      time.Duration
	RedisURL    string
	RateLimit   int
	RateWindow  time.Duration

	AuthRateLimit  int
	AuthRateWindow time.Duration
	TrustedProxies []string
}
