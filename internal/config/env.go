package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envFloatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envDurationOrDefault(name string, unit time.Duration, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return time.Duration(parsed) * unit
}

// zero is meaningful for these ("never" / "disabled")
func envDurationAllowZero(name string, unit time.Duration, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * unit
}

func envSecondsOrDefault(name string, fallback time.Duration) time.Duration {
	return envDurationOrDefault(name, time.Second, fallback)
}

func envMinutesOrDefault(name string, fallback time.Duration) time.Duration {
	return envDurationOrDefault(name, time.Minute, fallback)
}

func envDaysOrDefault(name string, fallback time.Duration) time.Duration {
	return envDurationOrDefault(name, 24*time.Hour, fallback)
}

func envHoursAllowZero(name string, fallback time.Duration) time.Duration {
	return envDurationAllowZero(name, time.Hour, fallback)
}

func envMinutesAllowZero(name string, fallback time.Duration) time.Duration {
	return envDurationAllowZero(name, time.Minute, fallback)
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
