package logging

import (
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
)

// LogLevelEnv names the environment variable that overrides the log level.
const LogLevelEnv = "SDBRIDGE_LOG_LEVEL"

// ParseLogLevel reads a level from the named environment variable,
// returning defaultLevel when it is unset or invalid.
func ParseLogLevel(envVarName string, defaultLevel zapcore.Level) zapcore.Level {
	value := os.Getenv(envVarName)
	if value == "" {
		return defaultLevel
	}
	return ParseLogLevelString(value, defaultLevel)
}

// ParseLogLevelString parses a zap level name case-insensitively, also
// accepting "warning". Empty or unknown names yield defaultLevel.
func ParseLogLevelString(levelStr string, defaultLevel zapcore.Level) zapcore.Level {
	name := strings.ToLower(strings.TrimSpace(levelStr))
	if name == "warning" {
		name = "warn"
	}
	if name == "" {
		return defaultLevel
	}
	level, err := zapcore.ParseLevel(name)
	if err != nil {
		return defaultLevel
	}
	return level
}
