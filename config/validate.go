package config

import "github.com/cartolab/geovet/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Workers: 0 = use runtime default, negative = invalid
	if c.Pipeline.FileWorkers < 0 {
		return errors.Newf("pipeline.file_workers must be >= 0, got %d", c.Pipeline.FileWorkers)
	}
	if c.Pipeline.TableWorkers < 0 {
		return errors.Newf("pipeline.table_workers must be >= 0, got %d", c.Pipeline.TableWorkers)
	}
	if c.Pipeline.RuleWorkers < 0 {
		return errors.Newf("pipeline.rule_workers must be >= 0, got %d", c.Pipeline.RuleWorkers)
	}

	if c.Pipeline.BatchSize < 0 {
		return errors.Newf("pipeline.batch_size must be >= 0, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.MaxRetries < 0 {
		return errors.Newf("pipeline.max_retries must be >= 0, got %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.RetryDelayMs < 0 {
		return errors.Newf("pipeline.retry_delay_ms must be >= 0, got %d", c.Pipeline.RetryDelayMs)
	}

	// Geometry thresholds: 0 = check disabled, negative = invalid
	if c.Geometry.Tolerance < 0 {
		return errors.Newf("geometry.tolerance must be >= 0, got %f", c.Geometry.Tolerance)
	}
	if c.Geometry.SliverRatio < 0 {
		return errors.Newf("geometry.sliver_ratio must be >= 0, got %f", c.Geometry.SliverRatio)
	}
	if c.Geometry.SpikeAngleDeg < 0 || c.Geometry.SpikeAngleDeg >= 180 {
		return errors.Newf("geometry.spike_angle_deg must be in [0, 180), got %f", c.Geometry.SpikeAngleDeg)
	}
	if c.Geometry.MinPoints < 0 {
		return errors.Newf("geometry.min_points must be >= 0, got %d", c.Geometry.MinPoints)
	}
	if c.Geometry.DetailLimit < 0 {
		return errors.Newf("geometry.detail_limit must be >= 0, got %d", c.Geometry.DetailLimit)
	}
	if c.Geometry.SampleLimit < 0 {
		return errors.Newf("geometry.sample_limit must be >= 0, got %d", c.Geometry.SampleLimit)
	}

	// Resource thresholds are percentages
	if c.Resources.MaxMemoryPercent < 0 || c.Resources.MaxMemoryPercent > 100 {
		return errors.Newf("resources.max_memory_percent must be in [0, 100], got %f", c.Resources.MaxMemoryPercent)
	}
	if c.Resources.MaxCPUPercent < 0 || c.Resources.MaxCPUPercent > 100 {
		return errors.Newf("resources.max_cpu_percent must be in [0, 100], got %f", c.Resources.MaxCPUPercent)
	}
	if c.Resources.MonitorIntervalMs < 0 {
		return errors.Newf("resources.monitor_interval_ms must be >= 0, got %d", c.Resources.MonitorIntervalMs)
	}

	if c.Logging.Verbosity < 0 {
		return errors.Newf("logging.verbosity must be >= 0, got %d", c.Logging.Verbosity)
	}

	return nil
}
