package core

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envValue returns the trimmed value of key and whether it is non-empty.
func envValue(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// parseEnv applies parse to the value of key, falling back to def when the
// variable is unset or parse fails.
func parseEnv[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := envValue(key)
	if !ok {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

// inRange returns v, or def when v lies outside [lo, hi].
func inRange[T int | float64](v, def, lo, hi T) T {
	if v < lo || v > hi {
		return def
	}
	return v
}

// GetEnvOrDefault returns the trimmed value of key, or def when unset.
func GetEnvOrDefault(key, def string) string {
	if v, ok := envValue(key); ok {
		return v
	}
	return def
}

// ParseIntEnv reads key as an int. Unset or malformed values yield def.
func ParseIntEnv(key string, def int) int {
	return parseEnv(key, def, strconv.Atoi)
}

// ParseIntRangeEnv is ParseIntEnv restricted to [min, max]; values outside
// the range yield the default.
func ParseIntRangeEnv(key string, def, min, max int) int {
	return inRange(ParseIntEnv(key, def), def, min, max)
}

// ParseFloat64Env reads key as a float64. Unset or malformed values yield def.
func ParseFloat64Env(key string, def float64) float64 {
	return parseEnv(key, def, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// ParseFloat64RangeEnv is ParseFloat64Env restricted to [min, max].
func ParseFloat64RangeEnv(key string, def, min, max float64) float64 {
	return inRange(ParseFloat64Env(key, def), def, min, max)
}

var boolWords = map[string]bool{
	"true": true, "1": true, "yes": true, "on": true,
	"false": false, "0": false, "no": false, "off": false,
}

// ParseBoolEnv reads key as a boolean. true/1/yes/on and false/0/no/off are
// accepted in any case; anything else yields def.
func ParseBoolEnv(key string, def bool) bool {
	raw, ok := envValue(key)
	if !ok {
		return def
	}
	if b, known := boolWords[strings.ToLower(raw)]; known {
		return b
	}
	return def
}

// ParseDurationEnv parses an environment variable as a positive number of
// seconds. Unset, malformed and non-positive values yield the default.
func ParseDurationEnv(key string, defaultSeconds int) time.Duration {
	seconds := ParseIntEnv(key, defaultSeconds)
	if seconds <= 0 {
		seconds = defaultSeconds
	}
	return time.Duration(seconds) * time.Second
}
