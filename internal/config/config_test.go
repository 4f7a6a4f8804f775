package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	c := Load()
	if c.StressGC {
		t.Errorf("StressGC should default to false")
	}
	if c.LogLevel != "warn" {
		t.Errorf("LogLevel should default to warn, got %q", c.LogLevel)
	}
	if c.HasSeed {
		t.Errorf("HasSeed should default to false")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MOMIJI_STRESS_GC", "true")
	t.Setenv("MOMIJI_GC_HEAP_GROWTH", "3.5")
	t.Setenv("MOMIJI_LOG_LEVEL", "DEBUG")
	t.Setenv("MOMIJI_SEED", "42")

	c := Load()
	if !c.StressGC {
		t.Errorf("StressGC should be true")
	}
	if c.GCGrowth != 3.5 {
		t.Errorf("GCGrowth = %v, want 3.5", c.GCGrowth)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel should be lowercased, got %q", c.LogLevel)
	}
	if !c.HasSeed || c.Seed != 42 {
		t.Errorf("Seed = %v, %v; want 42, true", c.Seed, c.HasSeed)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("MOMIJI_GC_HEAP_GROWTH", "not-a-number")
	t.Setenv("MOMIJI_SEED", "not-a-number")

	c := Load()
	if c.GCGrowth != 0 {
		t.Errorf("malformed growth factor should be ignored, got %v", c.GCGrowth)
	}
	if c.HasSeed {
		t.Errorf("malformed seed should be ignored")
	}
}
