package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadCoordinatorConfigDefaults(t *testing.T) {
	cfg := LoadCoordinatorConfig()

	if cfg.QueueTimeout != 120*time.Second {
		t.Errorf("Expected 120s queue timeout, got %v", cfg.QueueTimeout)
	}
	if cfg.StreamingFlush != 5000 {
		t.Errorf("Expected flush size 5000, got %d", cfg.StreamingFlush)
	}
	if cfg.AggregationDepth != 3 {
		t.Errorf("Expected aggregation depth 3, got %d", cfg.AggregationDepth)
	}
	if cfg.Channels.Started == "" {
		t.Error("Expected a default started channel URL")
	}
}

func TestLoadCoordinatorConfigOverrides(t *testing.T) {
	os.Setenv("COORDINATOR_QUEUE_TIMEOUT", "30s")
	os.Setenv("STREAMING_FLUSH_SIZE", "100")
	os.Setenv("AGGREGATION_DEPTH", "1")
	os.Setenv("CHANNEL_FAILED_URL", "http://events.internal/custom-failed")
	defer func() {
		os.Unsetenv("COORDINATOR_QUEUE_TIMEOUT")
		os.Unsetenv("STREAMING_FLUSH_SIZE")
		os.Unsetenv("AGGREGATION_DEPTH")
		os.Unsetenv("CHANNEL_FAILED_URL")
	}()

	cfg := LoadCoordinatorConfig()

	if cfg.QueueTimeout != 30*time.Second {
		t.Errorf("Expected 30s queue timeout, got %v", cfg.QueueTimeout)
	}
	if cfg.StreamingFlush != 100 {
		t.Errorf("Expected flush size 100, got %d", cfg.StreamingFlush)
	}
	if cfg.AggregationDepth != 1 {
		t.Errorf("Expected aggregation depth 1, got %d", cfg.AggregationDepth)
	}
	if cfg.Channels.Failed != "http://events.internal/custom-failed" {
		t.Errorf("Expected overridden failed channel, got %q", cfg.Channels.Failed)
	}
}
