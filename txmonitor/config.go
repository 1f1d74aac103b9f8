package txmonitor

import "time"

type Config struct {
	// Frequency to re-query pending, timed out and unresolved txs
	FrequencyToMonitorPendingTxs time.Duration

	// Age after which a pending tx is marked as timed out. It is still
	// queried afterwards since it may yet be mined.
	TimeoutOnMonitoringPendingTxs time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		FrequencyToMonitorPendingTxs:  10 * time.Second,
		TimeoutOnMonitoringPendingTxs: 10 * time.Minute,
	}
}
