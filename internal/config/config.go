// Package config reads the small set of environment knobs the momiji CLI
// exposes: GC stress mode and growth factor, log level, and the `maybe`
// literal's random seed. There is no config file format and no live
// reload — a single-binary interpreter reads these once at startup.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-driven setting, read once in Load.
type Config struct {
	StressGC bool
	GCGrowth float64
	LogLevel string
	Seed     int64
	HasSeed  bool
}

// Load reads MOMIJI_STRESS_GC, MOMIJI_GC_HEAP_GROWTH, MOMIJI_LOG_LEVEL, and
// MOMIJI_SEED from the environment, defaulting anything unset or malformed.
func Load() Config {
	c := Config{LogLevel: "warn"}

	if v, ok := os.LookupEnv("MOMIJI_STRESS_GC"); ok {
		c.StressGC = parseBool(v)
	}
	if v, ok := os.LookupEnv("MOMIJI_GC_HEAP_GROWTH"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.GCGrowth = f
		}
	}
	if v, ok := os.LookupEnv("MOMIJI_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv("MOMIJI_SEED"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Seed = n
			c.HasSeed = true
		}
	}
	return c
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
