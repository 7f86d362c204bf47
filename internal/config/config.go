// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the coordinator service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	StorePath         string        // path to the SQLite execution/aggregation store
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		StorePath:         GetEnv("STORE_PATH", "coordinator.db"),
	}
}

// ChannelConfig holds the concrete subscriber URL each logical channel
// (spec §4.4, §6 "channels.*") resolves to. The Event Publisher dispatches
// lifecycle events to these endpoints via the dispatcher's HTTP delivery.
type ChannelConfig struct {
	Started   string
	Progress  string
	Completed string
	Failed    string
}

// CoordinatorConfig holds the §6 configuration keys for the trigger
// coordinator, step pipeline runtime, and streaming aggregator.
type CoordinatorConfig struct {
	QueueTimeout     time.Duration // coordinator.queueTimeoutSeconds, default 120s
	StreamingFlush   int           // streaming.flushSize, default 5000
	AggregationDepth int           // aggregation.depth, default 3
	WorkerPoolSize   int           // bounded worker pool running job bodies
	Channels         ChannelConfig
}

// LoadCoordinatorConfig loads coordinator configuration from environment variables.
func LoadCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		QueueTimeout:     GetDurationEnv("COORDINATOR_QUEUE_TIMEOUT", 120*time.Second),
		StreamingFlush:   GetIntEnv("STREAMING_FLUSH_SIZE", 5000),
		AggregationDepth: GetIntEnv("AGGREGATION_DEPTH", 3),
		WorkerPoolSize:   GetIntEnv("WORKER_POOL_SIZE", 32),
		Channels: ChannelConfig{
			Started:   GetEnv("CHANNEL_STARTED_URL", "http://localhost:9100/channels/started"),
			Progress:  GetEnv("CHANNEL_PROGRESS_URL", "http://localhost:9100/channels/progress"),
			Completed: GetEnv("CHANNEL_COMPLETED_URL", "http://localhost:9100/channels/completed"),
			Failed:    GetEnv("CHANNEL_FAILED_URL", "http://localhost:9100/channels/failed"),
		},
	}
}
