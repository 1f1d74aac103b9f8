package approval

import "time"

type Config struct {
	// Number of approve-and-wait cycles before giving up
	MaxAttempts int

	// Pause between two cycles
	RetryDelay time.Duration

	// Timeout on waiting for an approval to be mined
	ConfirmationTimeout time.Duration

	// Frequency to poll for the receipt
	ReceiptPollInterval time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:         3,
		RetryDelay:          2 * time.Second,
		ConfirmationTimeout: 60 * time.Second,
		ReceiptPollInterval: time.Second,
	}
}
