package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "DOCUSENSE_"

type envVar struct {
	name  string
	apply func(c *Config, v string) error
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setDuration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

var envVars = []envVar{
	{"STORAGE_BACKEND", setString(func(c *Config) *string { return &c.Storage.Backend })},
	{"STORAGE_PATH", setString(func(c *Config) *string { return &c.Storage.Path })},
	{"POSTGRES_DSN", setString(func(c *Config) *string { return &c.Storage.PostgresDSN })},
	{"AI_HOST", setString(func(c *Config) *string { return &c.AI.Host })},
	{"AI_API_KEY", setString(func(c *Config) *string { return &c.AI.APIKey })},
	{"EMBEDDING_MODEL", setString(func(c *Config) *string { return &c.AI.EmbeddingModel })},
	{"EMBEDDING_DIMENSIONS", setInt(func(c *Config) *int { return &c.AI.EmbeddingDimensions })},
	{"COMPLETION_MODEL", setString(func(c *Config) *string { return &c.AI.CompletionModel })},
	{"WORKERS", setInt(func(c *Config) *int { return &c.Ingestion.Workers })},
	{"LLM_TIMEOUT", setDuration(func(c *Config) *time.Duration { return &c.Synthesis.Timeout })},
	{"SERVER_ADDR", setString(func(c *Config) *string { return &c.Server.Addr })},
	{"LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
}

// applyEnv applies every DOCUSENSE_* variable that lookup finds.
// Empty values are ignored.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.apply(c, v); err != nil {
			return fmt.Errorf("%w: %s%s: %w", ErrInvalidConfig, EnvPrefix, ev.name, err)
		}
	}
	return nil
}
