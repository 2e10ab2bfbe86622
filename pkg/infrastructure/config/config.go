// Package config provides the Flowgraph framework configuration: port and
// batching defaults, logging behavior and the monitor endpoint, loaded
// from a JSON file with environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TheEntropyCollective/flowgraph/pkg/logging"
)

// Config holds all Flowgraph configuration
type Config struct {
	// Port holds in-port queue settings. They are loaded and validated but
	// not applied: in ports keep the queue size and policy set in code.
	Port PortConfig `json:"port"`

	// Batching holds node batching settings. They are loaded and validated
	// but not applied: nodes keep the batching config set in code.
	Batching BatchingConfig `json:"batching"`

	// Logging Configuration
	Logging LoggingConfig `json:"logging"`

	// Monitor endpoint configuration
	Monitor MonitorConfig `json:"monitor"`
}

// PortConfig holds in-port queue defaults
type PortConfig struct {
	QueueSize int    `json:"queue_size"`
	Policy    string `json:"policy"`
}

// BatchingConfig holds node batching defaults
type BatchingConfig struct {
	Policy            string `json:"policy"`
	BatchSize         int    `json:"batch_size"`
	StreamNum         int    `json:"stream_num"`
	ThreadNumPerBatch int    `json:"thread_num_per_batch"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level"`
	Format    string `json:"format"`
	File      string `json:"file"`
	FileOnly  bool   `json:"file_only"`
	Profiling bool   `json:"profiling"`
}

// MonitorConfig holds the pipeline status server configuration
type MonitorConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// DefaultConfig returns a configuration with the framework defaults
func DefaultConfig() *Config {
	return &Config{
		Port: PortConfig{
			QueueSize: 1024,
			Policy:    "block",
		},
		Batching: BatchingConfig{
			Policy:            "ignoring_stream",
			BatchSize:         1,
			StreamNum:         1,
			ThreadNumPerBatch: 1,
		},
		Logging: LoggingConfig{
			Level:  "error",
			Format: "text",
		},
		Monitor: MonitorConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    8780,
		},
	}
}

// LoadConfig loads configuration from file with environment variable overrides
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a JSON file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			return nil
		}
		return err
	}

	return json.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies environment variable overrides
func (c *Config) applyEnvironmentOverrides() {
	if val := os.Getenv("FLOWGRAPH_QUEUE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			c.Port.QueueSize = size
		}
	}
	if val := os.Getenv("FLOWGRAPH_PORT_POLICY"); val != "" {
		c.Port.Policy = val
	}

	if val := os.Getenv("FLOWGRAPH_BATCHING_POLICY"); val != "" {
		c.Batching.Policy = val
	}
	if val := os.Getenv("FLOWGRAPH_BATCH_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			c.Batching.BatchSize = size
		}
	}
	if val := os.Getenv("FLOWGRAPH_STREAM_NUM"); val != "" {
		if num, err := strconv.Atoi(val); err == nil {
			c.Batching.StreamNum = num
		}
	}
	if val := os.Getenv("FLOWGRAPH_THREAD_NUM_PER_BATCH"); val != "" {
		if num, err := strconv.Atoi(val); err == nil {
			c.Batching.ThreadNumPerBatch = num
		}
	}

	if val := os.Getenv("FLOWGRAPH_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("FLOWGRAPH_LOG_FORMAT"); val != "" {
		c.Logging.Format = val
	}
	if val := os.Getenv("FLOWGRAPH_LOG_FILE"); val != "" {
		c.Logging.File = val
	}
	if val := os.Getenv("FLOWGRAPH_LOG_PROFILING"); val != "" {
		c.Logging.Profiling = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("FLOWGRAPH_MONITOR_ENABLED"); val != "" {
		c.Monitor.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("FLOWGRAPH_MONITOR_HOST"); val != "" {
		c.Monitor.Host = val
	}
	if val := os.Getenv("FLOWGRAPH_MONITOR_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Monitor.Port = port
		}
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Port.QueueSize <= 0 {
		return fmt.Errorf("port queue size must be positive, got %d", c.Port.QueueSize)
	}
	switch strings.ToLower(c.Port.Policy) {
	case "block", "discard":
	default:
		return fmt.Errorf("port policy must be block or discard, got %q", c.Port.Policy)
	}

	switch strings.ToLower(c.Batching.Policy) {
	case "ignoring_stream", "with_stream":
	default:
		return fmt.Errorf("batching policy must be ignoring_stream or with_stream, got %q", c.Batching.Policy)
	}
	if c.Batching.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.Batching.BatchSize)
	}
	if c.Batching.StreamNum <= 0 {
		return fmt.Errorf("stream num must be positive, got %d", c.Batching.StreamNum)
	}
	if c.Batching.ThreadNumPerBatch <= 0 {
		return fmt.Errorf("thread num per batch must be positive, got %d", c.Batching.ThreadNumPerBatch)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Logging.Format)
	}

	if c.Monitor.Enabled {
		if c.Monitor.Host == "" {
			return fmt.Errorf("monitor host must not be empty when the monitor is enabled")
		}
		if c.Monitor.Port <= 0 || c.Monitor.Port > 65535 {
			return fmt.Errorf("monitor port must be in (0,65535], got %d", c.Monitor.Port)
		}
	}
	return nil
}

// SaveConfig saves the configuration to a JSON file
func (c *Config) SaveConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyLogging configures the global logger from the logging section.
func (c *Config) ApplyLogging() error {
	logger := logging.GetGlobalLogger()

	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	if strings.ToLower(c.Logging.Format) == "json" {
		logger.SetFormat(logging.JSONFormat)
	} else {
		logger.SetFormat(logging.TextFormat)
	}

	if c.Logging.File != "" {
		if err := logger.DumpToFile(c.Logging.File, c.Logging.FileOnly); err != nil {
			return err
		}
	}

	if c.Logging.Profiling {
		logger.EnableProfiling()
	} else {
		logger.DisableProfiling()
	}
	return nil
}
