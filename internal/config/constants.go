package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background sweep interval (approval expiry, connection expiry, dead sessions)
const SweepJobInterval = time.Minute

// Default rate limiting for connections without an explicit limit
const DefaultRateLimitPerMin = 60

// Pairing codes
const (
	PairingCodeLength = 8
	// Excludes 0/O and 1/I/L so codes survive human transcription.
	PairingCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	// Pending codes older than this are swept regardless of owner liveness.
	PairingSessionMaxAge = 30 * time.Minute
)
