package logconfig

import (
	"strings"

	myLogger "github.com/sirupsen/logrus"
)

// This output format is used in the test (has terminal).
func ConfigDebugLogger() {
	myLogger.SetReportCaller(true)
	myLogger.SetLevel(myLogger.DebugLevel)
	myLogger.SetFormatter(&myLogger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

func ConfigInfoLogger() {
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(&myLogger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

// This output format is used in production, where logs are shipped.
func ConfigProductionLogger() {
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(&myLogger.JSONFormatter{})
}

// ConfigLogger picks one of the presets above by name: "debug", "info" or
// "production". Anything else is treated as a logrus level name on top of
// the production preset.
func ConfigLogger(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		ConfigInfoLogger()
	case "debug":
		ConfigDebugLogger()
	case "production", "prod":
		ConfigProductionLogger()
	default:
		lvl, err := myLogger.ParseLevel(level)
		if err != nil {
			return err
		}
		ConfigProductionLogger()
		myLogger.SetLevel(lvl)
	}
	return nil
}
