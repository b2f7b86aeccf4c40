package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	// lock duration bounds mirror the share/lock policy of the story
	// editor: requests outside the bounds are clamped, absent requests
	// get the default
	MinLockDuration     = 1 * time.Minute
	MaxLockDuration     = 120 * time.Minute
	DefaultLockDuration = 30 * time.Minute
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string

	DefaultLockDuration time.Duration
	MinLockDuration     time.Duration
	MaxLockDuration     time.Duration
	SweepInterval       time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, sweepInterval time.Duration) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if sweepInterval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:         databaseDSN,
		ServerAddr:          serverAddr,
		SigningKey:          signingKey,
		AllowedOrigins:      allowedOrigins,
		DefaultLockDuration: DefaultLockDuration,
		MinLockDuration:     MinLockDuration,
		MaxLockDuration:     MaxLockDuration,
		SweepInterval:       sweepInterval,
	}, nil
}
