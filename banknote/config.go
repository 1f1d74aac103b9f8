package banknote

import "time"

type Config struct {
	// Timeout on waiting for a mint, redeem or skim tx to be mined
	ConfirmationTimeout time.Duration

	// Frequency to poll for the receipt
	ReceiptPollInterval time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		ConfirmationTimeout: 60 * time.Second,
		ReceiptPollInterval: time.Second,
	}
}
