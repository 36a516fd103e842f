package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// ModelConfiguration controls the per-symbol transaction and list models
type ModelConfiguration struct {
	Symbols             []string `toml:"symbols"`
	Sources             []int    `toml:"sources"`               // Empty = all sources
	EventsBatchLimit    int      `toml:"events_batch_limit"`    // Max events per delivery
	AggregationPeriodMS int      `toml:"aggregation_period_ms"` // 0 = deliver immediately
	ListView            bool     `toml:"list_view"`             // Maintain a materialized list per symbol
	SizeLimit           int      `toml:"size_limit"`            // 0 = unbounded
	OrderBook           bool     `toml:"order_book"`            // Maintain a buy/sell order book per symbol
	LotSize             int      `toml:"lot_size"`              // Order book lot size, 0 = 1
}

// AggregationPeriod returns the configured aggregation period as a duration
func (m ModelConfiguration) AggregationPeriod() time.Duration {
	return time.Duration(m.AggregationPeriodMS) * time.Millisecond
}

// SourceConfiguration describes one inbound event feed
type SourceConfiguration struct {
	Name    string   `toml:"name"`
	Type    string   `toml:"type"` // "nats" or "kafka"
	NatsURL string   `toml:"nats_url"`
	Subject string   `toml:"subject"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"group_id"` // Kafka consumer group, generated when empty
}

// SinkConfiguration describes one outbound transaction sink
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"`   // "kafka", "nats"
	Format          string   `toml:"format"` // "json", "msgpack"
	Compress        bool     `toml:"compress"`
	NatsURL         string   `toml:"nats_url"`
	Brokers         []string `toml:"brokers"`
	TopicPrefix     string   `toml:"topic_prefix"`
	FilterSymbols   []string `toml:"filter_symbols"`
	FilterSources   []int    `toml:"filter_sources"`
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// AdminConfiguration for the admin HTTP endpoint
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Secret  string `toml:"secret"` // Pre-shared key; empty disables authentication
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Model      ModelConfiguration      `toml:"model"`
	Sources    []SourceConfiguration   `toml:"sources"`
	Sinks      []SinkConfiguration     `toml:"sinks"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Config is the active configuration
var Config = Default()

// Default returns the default configuration
func Default() *Configuration {
	return &Configuration{
		NodeID:  0, // Auto-generate
		DataDir: "./txfeed-data",

		Model: ModelConfiguration{
			EventsBatchLimit:    100,
			AggregationPeriodMS: 0,
			ListView:            true,
			SizeLimit:           0,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},

		Admin: AdminConfiguration{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    8090,
		},
	}
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if len(Config.Sinks) > 0 {
		if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("txfeed")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks the active configuration for errors
func Validate() error {
	return Config.Validate()
}

// Validate checks configuration for errors
func (c *Configuration) Validate() error {
	if c.Model.EventsBatchLimit < 0 {
		return fmt.Errorf("events batch limit must be >= 0")
	}
	if c.Model.AggregationPeriodMS < 0 {
		return fmt.Errorf("aggregation period must be >= 0")
	}
	if c.Model.SizeLimit < 0 {
		return fmt.Errorf("size limit must be >= 0")
	}
	if c.Model.LotSize < 0 {
		return fmt.Errorf("lot size must be >= 0")
	}

	seen := make(map[string]bool, len(c.Model.Symbols))
	for _, symbol := range c.Model.Symbols {
		if strings.TrimSpace(symbol) == "" {
			return fmt.Errorf("empty symbol in model configuration")
		}
		if seen[symbol] {
			return fmt.Errorf("duplicate symbol: %s", symbol)
		}
		seen[symbol] = true
	}

	for i, src := range c.Sources {
		switch src.Type {
		case "nats":
			if src.NatsURL == "" || src.Subject == "" {
				return fmt.Errorf("source %d (%s): nats source requires nats_url and subject", i, src.Name)
			}
		case "kafka":
			if len(src.Brokers) == 0 || src.Topic == "" {
				return fmt.Errorf("source %d (%s): kafka source requires brokers and topic", i, src.Name)
			}
		default:
			return fmt.Errorf("source %d (%s): unknown source type %q", i, src.Name, src.Type)
		}
	}

	sinkNames := make(map[string]bool, len(c.Sinks))
	for i, sink := range c.Sinks {
		if sink.Name == "" {
			return fmt.Errorf("sink %d: name is required", i)
		}
		if sinkNames[sink.Name] {
			return fmt.Errorf("duplicate sink name: %s", sink.Name)
		}
		sinkNames[sink.Name] = true

		if sink.Type == "" {
			return fmt.Errorf("sink %s: type is required", sink.Name)
		}
		if sink.Format == "" {
			return fmt.Errorf("sink %s: format is required", sink.Name)
		}
		if sink.RetryMultiplier < 0 {
			return fmt.Errorf("sink %s: retry multiplier must be >= 0", sink.Name)
		}
	}

	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}
