// Package config provides configuration types and loading for convograph.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Store, Server, Kafka, Ingest, Routing.
type Config struct {
	Store   StoreConfig   `json:"store"`
	Server  ServerConfig  `json:"server"`
	Kafka   KafkaConfig   `json:"kafka"`
	Ingest  IngestConfig  `json:"ingest"`
	Routing RoutingConfig `json:"routing"`
}

// StoreConfig groups graph store settings.
type StoreConfig struct {
	Path             string `json:"path" envconfig:"PATH"`
	AcceptOutOfOrder bool   `json:"acceptOutOfOrder" envconfig:"ACCEPT_OUT_OF_ORDER"`
}

// ServerConfig groups HTTP server settings.
type ServerConfig struct {
	Addr            string `json:"addr" envconfig:"ADDR"`
	ShutdownSeconds int    `json:"shutdownSeconds" envconfig:"SHUTDOWN_SECONDS"`
}

// ShutdownTimeout returns the graceful shutdown window.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	if c.ShutdownSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ShutdownSeconds) * time.Second
}

// KafkaConfig configures the optional Kafka event source.
type KafkaConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers string `json:"brokers" envconfig:"BROKERS"`
	Topic   string `json:"topic" envconfig:"TOPIC"`
	GroupID string `json:"groupId" envconfig:"GROUP_ID"`
}

// IngestConfig groups event pipeline settings.
type IngestConfig struct {
	BufferSize int `json:"bufferSize" envconfig:"BUFFER_SIZE"`
}

// RoutingConfig groups routing recommendation knobs.
type RoutingConfig struct {
	HalfLifeHours float64 `json:"halfLifeHours" envconfig:"HALF_LIFE_HOURS"`
	NeutralPrior  float64 `json:"neutralPrior" envconfig:"NEUTRAL_PRIOR"`
}

// HalfLife returns the recency half-life as a duration.
func (c RoutingConfig) HalfLife() time.Duration {
	if c.HalfLifeHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.HalfLifeHours * float64(time.Hour))
}

// DefaultConfig returns a config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "~/.convograph/graph.db",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownSeconds: 10,
		},
		Kafka: KafkaConfig{
			Brokers: "localhost:9092",
			Topic:   "interaction-events",
			GroupID: "convograph",
		},
		Ingest: IngestConfig{
			BufferSize: 256,
		},
		Routing: RoutingConfig{
			HalfLifeHours: 24,
			NeutralPrior:  0.5,
		},
	}
}
