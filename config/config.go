// Package config loads geovet configuration from TOML files and GEOVET_*
// environment variables via Viper.
package config

// Config represents the core geovet configuration
type Config struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Geometry  GeometryConfig  `mapstructure:"geometry"`
	Resources ResourcesConfig `mapstructure:"resources"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PipelineConfig configures the validation pipeline's layered concurrency
// and failure handling.
type PipelineConfig struct {
	FileWorkers  int `mapstructure:"file_workers"`   // concurrent files in a batch (default: 1)
	TableWorkers int `mapstructure:"table_workers"`  // concurrent tables within schema/geometry stages
	RuleWorkers  int `mapstructure:"rule_workers"`   // concurrent rules within relation/attribute stages
	BatchSize    int `mapstructure:"batch_size"`     // features per cancellation-check batch
	MaxRetries   int `mapstructure:"max_retries"`    // retry count for stages with Retry failure action
	RetryDelayMs int `mapstructure:"retry_delay_ms"` // backoff between stage retries
}

// GeometryConfig configures default thresholds for geometric defect checks.
// Per-table rules may override any of these.
type GeometryConfig struct {
	Tolerance     float64 `mapstructure:"tolerance"`       // boundary slack for spatial predicates (map units)
	SliverRatio   float64 `mapstructure:"sliver_ratio"`    // area/perimeter² below this flags a sliver
	SpikeAngleDeg float64 `mapstructure:"spike_angle_deg"` // interior angle below this flags a spike
	MinLength     float64 `mapstructure:"min_length"`      // line length below this flags a short object
	MinArea       float64 `mapstructure:"min_area"`        // polygon area below this flags a small area
	MinPoints     int     `mapstructure:"min_points"`      // minimum vertex count per feature
	DetailLimit   int     `mapstructure:"detail_limit"`    // cap on per-table error details in the report
	SampleLimit   int     `mapstructure:"sample_limit"`    // cap on offending-value samples (UK/FK/domain)
}

// ResourcesConfig configures the resource monitor that governs
// degree-of-parallelism and throttling.
type ResourcesConfig struct {
	MaxMemoryPercent  float64 `mapstructure:"max_memory_percent"`  // throttle above this used-memory percent
	MaxCPUPercent     float64 `mapstructure:"max_cpu_percent"`     // throttle above this CPU percent
	MonitorIntervalMs int     `mapstructure:"monitor_interval_ms"` // sampling interval
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	JSON      bool `mapstructure:"json"`      // machine-readable JSON instead of console output
	Verbosity int  `mapstructure:"verbosity"` // 0 = info, 1+ = debug
}
