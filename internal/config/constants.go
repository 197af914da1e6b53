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

// Background job interval for the expiry sweeper
const SweeperInterval = 1 * time.Minute

// Session lifetime rules enforced by the sweeper
const (
	SessionIdleTimeout      = 30 * time.Minute
	HeartbeatStaleTimeout   = 5 * time.Minute
	ExpiredSessionRetention = 1 * time.Hour
)
