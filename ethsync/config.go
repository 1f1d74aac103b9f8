package ethsync

import "time"

type Config struct {
	// Frequency to scan new blocks for vault logs
	FrequencyToScanVaultLogs time.Duration

	// Blocks to wait before a block is scanned
	Confirmations uint64

	// Maximum number of blocks per log query
	MaxBlockRange uint64

	// First block to scan if the ledger has never been synced, usually the
	// vault's deployment block
	StartBlock uint64
}

func DefaultConfig() *Config {
	return &Config{
		FrequencyToScanVaultLogs: 15 * time.Second,
		Confirmations:            2,
		MaxBlockRange:            2000,
		StartBlock:               0,
	}
}
