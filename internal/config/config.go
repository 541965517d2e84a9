// Package config loads daemon settings from VIGIL_* environment variables
// with sensible defaults.
package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBPath           string
	SampleInterval   time.Duration
	SamplerTimeout   time.Duration
	EvaluateInterval time.Duration
	FlushInterval    time.Duration
	RetentionDays    int
	BufferCapacity   int
	QueueCapacity    int
	ScalingCooldown  time.Duration
	SeedDefaults     bool
}

func Load() Config {
	v := viper.New()
	v.SetEnvPrefix("VIGIL")
	v.AutomaticEnv()

	v.SetDefault("db_path", "./data/vigil.db")
	v.SetDefault("sample_interval", 5*time.Second)
	v.SetDefault("sampler_timeout", 3*time.Second)
	v.SetDefault("evaluate_interval", 30*time.Second)
	v.SetDefault("flush_interval", 5*time.Minute)
	v.SetDefault("retention_days", 14)
	v.SetDefault("buffer_capacity", 1000)
	v.SetDefault("queue_capacity", 10000)
	v.SetDefault("scaling_cooldown", 5*time.Minute)
	v.SetDefault("seed_defaults", true)

	return Config{
		DBPath:           v.GetString("db_path"),
		SampleInterval:   v.GetDuration("sample_interval"),
		SamplerTimeout:   v.GetDuration("sampler_timeout"),
		EvaluateInterval: v.GetDuration("evaluate_interval"),
		FlushInterval:    v.GetDuration("flush_interval"),
		RetentionDays:    v.GetInt("retention_days"),
		BufferCapacity:   v.GetInt("buffer_capacity"),
		QueueCapacity:    v.GetInt("queue_capacity"),
		ScalingCooldown:  v.GetDuration("scaling_cooldown"),
		SeedDefaults:     v.GetBool("seed_defaults"),
	}
}
