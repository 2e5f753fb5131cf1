package engine

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/solverlab/rtcfr/generator"
	"github.com/solverlab/rtcfr/lifecycle"
	"github.com/solverlab/rtcfr/solver"
)

// Config is the engine's on-disk configuration.
type Config struct {
	Server     *ServerSettings     `hcl:"server,block"`
	Generation *GenerationSettings `hcl:"generation,block"`
	Storage    *StorageSettings    `hcl:"storage,block"`
	Training   *TrainingSettings   `hcl:"training,block"`
}

// ServerSettings configures the websocket endpoint.
type ServerSettings struct {
	Address string `hcl:"address,optional"`
	Port    int    `hcl:"port,optional"`
}

// GenerationSettings configures the continuous generator.
type GenerationSettings struct {
	BatchSize    int      `hcl:"batch_size,optional"`
	IntervalMS   int      `hcl:"interval_ms,optional"`
	MaxQueueSize int      `hcl:"max_queue_size,optional"`
	CPULimit     float64  `hcl:"cpu_limit,optional"`
	Scenarios    []string `hcl:"scenarios,optional"`
}

// StorageSettings configures the data lifecycle manager.
type StorageSettings struct {
	Dir              string `hcl:"dir,optional"`
	MaxMemoryItems   int    `hcl:"max_memory_items,optional"`
	MaxDiskMB        int    `hcl:"max_disk_mb,optional"`
	CompressionLevel int    `hcl:"compression_level,optional"`
	RetentionDays    int    `hcl:"retention_days,optional"`
	CleanupSeconds   int    `hcl:"cleanup_seconds,optional"`
}

// TrainingSettings configures the scheduler.
type TrainingSettings struct {
	TargetIterations     int     `hcl:"target_iterations,optional"`
	BatchSize            int     `hcl:"batch_size,optional"`
	ConvergenceThreshold float64 `hcl:"convergence_threshold,optional"`
	QualityThreshold     float64 `hcl:"quality_threshold,optional"`
	CardBuckets          int     `hcl:"card_buckets,optional"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server:     &ServerSettings{Address: "localhost", Port: 8417},
		Generation: &GenerationSettings{BatchSize: 10, IntervalMS: 100, MaxQueueSize: 1000, CPULimit: 0.15},
		Storage:    &StorageSettings{Dir: "data", MaxMemoryItems: 100000, MaxDiskMB: 500, CompressionLevel: 6, RetentionDays: 7, CleanupSeconds: 180},
		Training:   &TrainingSettings{TargetIterations: 100000, BatchSize: 100, ConvergenceThreshold: 0.01, QualityThreshold: 0.85, CardBuckets: 64},
	}
}

// LoadConfig parses the HCL file, applies defaults for anything omitted,
// and validates. A missing file yields the defaults.
func LoadConfig(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse config: %s", diags.Error())
	}

	var cfg Config
	if diags = gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("decode config: %s", diags.Error())
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Server == nil {
		c.Server = def.Server
	}
	if c.Server.Address == "" {
		c.Server.Address = def.Server.Address
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}

	if c.Generation == nil {
		c.Generation = def.Generation
	}
	g := c.Generation
	if g.BatchSize == 0 {
		g.BatchSize = def.Generation.BatchSize
	}
	if g.IntervalMS == 0 {
		g.IntervalMS = def.Generation.IntervalMS
	}
	if g.MaxQueueSize == 0 {
		g.MaxQueueSize = def.Generation.MaxQueueSize
	}
	if g.CPULimit == 0 {
		g.CPULimit = def.Generation.CPULimit
	}

	if c.Storage == nil {
		c.Storage = def.Storage
	}
	s := c.Storage
	if s.Dir == "" {
		s.Dir = def.Storage.Dir
	}
	if s.MaxMemoryItems == 0 {
		s.MaxMemoryItems = def.Storage.MaxMemoryItems
	}
	if s.MaxDiskMB == 0 {
		s.MaxDiskMB = def.Storage.MaxDiskMB
	}
	if s.CompressionLevel == 0 {
		s.CompressionLevel = def.Storage.CompressionLevel
	}
	if s.RetentionDays == 0 {
		s.RetentionDays = def.Storage.RetentionDays
	}
	if s.CleanupSeconds == 0 {
		s.CleanupSeconds = def.Storage.CleanupSeconds
	}

	if c.Training == nil {
		c.Training = def.Training
	}
	t := c.Training
	if t.TargetIterations == 0 {
		t.TargetIterations = def.Training.TargetIterations
	}
	if t.BatchSize == 0 {
		t.BatchSize = def.Training.BatchSize
	}
	if t.ConvergenceThreshold == 0 {
		t.ConvergenceThreshold = def.Training.ConvergenceThreshold
	}
	if t.QualityThreshold == 0 {
		t.QualityThreshold = def.Training.QualityThreshold
	}
	if t.CardBuckets == 0 {
		t.CardBuckets = def.Training.CardBuckets
	}
}

// Validate checks the assembled configuration by materializing each
// component's settings.
func (c *Config) Validate() error {
	if c.Server == nil || c.Generation == nil || c.Storage == nil || c.Training == nil {
		return errors.New("config blocks missing, call applyDefaults first")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if err := c.GeneratorSettings().Validate(); err != nil {
		return fmt.Errorf("generation: %w", err)
	}
	if err := c.StorageSettings().Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.TrainingConfig().Validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	if err := c.AbstractionConfig().Validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	if c.Training.TargetIterations <= 0 {
		return errors.New("training: target iterations must be positive")
	}
	return nil
}

// ListenAddress is the host:port the websocket server binds.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// GeneratorSettings materializes the generator configuration.
func (c *Config) GeneratorSettings() generator.Settings {
	s := generator.DefaultSettings()
	s.BatchSize = c.Generation.BatchSize
	s.Interval = time.Duration(c.Generation.IntervalMS) * time.Millisecond
	s.MaxQueueSize = c.Generation.MaxQueueSize
	s.CPULimit = c.Generation.CPULimit
	if len(c.Generation.Scenarios) > 0 {
		s.Scenarios = make([]generator.Scenario, len(c.Generation.Scenarios))
		for i, name := range c.Generation.Scenarios {
			s.Scenarios[i] = generator.Scenario(name)
		}
	}
	return s
}

// StorageSettings materializes the lifecycle configuration.
func (c *Config) StorageSettings() lifecycle.StorageSettings {
	s := lifecycle.DefaultStorageSettings(c.Storage.Dir)
	s.MaxMemoryItems = c.Storage.MaxMemoryItems
	s.MaxDiskBytes = int64(c.Storage.MaxDiskMB) << 20
	s.CompressionLevel = c.Storage.CompressionLevel
	s.RetentionWindow = time.Duration(c.Storage.RetentionDays) * 24 * time.Hour
	s.CleanupInterval = time.Duration(c.Storage.CleanupSeconds) * time.Second
	return s
}

// TrainingConfig materializes the scheduler configuration.
func (c *Config) TrainingConfig() solver.TrainingConfig {
	cfg := solver.DefaultTrainingConfig()
	cfg.BatchSize = c.Training.BatchSize
	cfg.ConvergenceThreshold = c.Training.ConvergenceThreshold
	cfg.QualityThreshold = c.Training.QualityThreshold
	return cfg
}

// AbstractionConfig materializes the abstraction configuration.
func (c *Config) AbstractionConfig() solver.AbstractionConfig {
	cfg := solver.DefaultAbstraction()
	cfg.CardBuckets = c.Training.CardBuckets
	return cfg
}
