package balance

import "time"

type Config struct {
	// Timeout on a single asset's reads
	ReadTimeout time.Duration

	// Maximum number of assets read at the same time, <= 0 means no limit
	MaxConcurrentReads int
}

func DefaultConfig() *Config {
	return &Config{
		ReadTimeout:        10 * time.Second,
		MaxConcurrentReads: 0,
	}
}
