package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Pipeline defaults
	v.SetDefault("pipeline.file_workers", 1)    // sequential batch by default
	v.SetDefault("pipeline.table_workers", 4)   // concurrent tables in schema/geometry stages
	v.SetDefault("pipeline.rule_workers", 4)    // concurrent rules in relation/attribute stages
	v.SetDefault("pipeline.batch_size", 500)    // features between cancellation checks
	v.SetDefault("pipeline.max_retries", 2)     // per-stage retry budget
	v.SetDefault("pipeline.retry_delay_ms", 1000)

	// Geometry defaults. Thresholds are in dataset map units.
	v.SetDefault("geometry.tolerance", 0.001)
	v.SetDefault("geometry.sliver_ratio", 0.01)   // area/perimeter² under 1% is degenerate
	v.SetDefault("geometry.spike_angle_deg", 10.0)
	v.SetDefault("geometry.min_length", 0.01)
	v.SetDefault("geometry.min_area", 0.01)
	v.SetDefault("geometry.min_points", 2)
	v.SetDefault("geometry.detail_limit", 100) // per-table detail cap in reports
	v.SetDefault("geometry.sample_limit", 10)  // offending-value sample cap

	// Resource monitor defaults
	v.SetDefault("resources.max_memory_percent", 85.0)
	v.SetDefault("resources.max_cpu_percent", 95.0)
	v.SetDefault("resources.monitor_interval_ms", 2000)

	// Logging defaults
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.verbosity", 0)
}
