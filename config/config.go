// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package config loads docusense settings from a YAML file, a .env file
// and DOCUSENSE_* environment variables, in increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/poiesic/docusense/ai"
	"github.com/poiesic/docusense/processing"
	"github.com/poiesic/docusense/search"
	"github.com/poiesic/docusense/synthesis"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"

	// TokenizerWords counts whitespace separated words.
	TokenizerWords = "words"
)

// Config is the root configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	AI        AIConfig        `yaml:"ai"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig selects the store.
type StorageConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=badger postgres"`
	Path        string `yaml:"path" validate:"required_if=Backend badger"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
}

// AIConfig points at the OpenAI-compatible embedding and completion servers.
// Host is used for both unless EmbeddingHost or CompletionHost is set.
type AIConfig struct {
	Host                string  `yaml:"host"`
	EmbeddingHost       string  `yaml:"embedding_host"`
	CompletionHost      string  `yaml:"completion_host"`
	APIKey              string  `yaml:"api_key"`
	EmbeddingModel      string  `yaml:"embedding_model" validate:"required"`
	CompletionModel     string  `yaml:"completion_model" validate:"required"`
	EmbeddingDimensions int     `yaml:"embedding_dimensions" validate:"gte=0"`
	Temperature         float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens           int     `yaml:"max_tokens" validate:"gte=0"`
}

// ChunkingConfig controls how documents are split.
type ChunkingConfig struct {
	Size    int    `yaml:"size" validate:"gt=0"`
	Overlap int    `yaml:"overlap" validate:"gte=0"`
	Mode    string `yaml:"mode" validate:"oneof=character sentence"`
	// Tokenizer is "words" or a tiktoken encoding such as "cl100k_base".
	Tokenizer string `yaml:"tokenizer" validate:"required"`
}

// IngestionConfig sizes the worker pool and the embedding retry policy.
type IngestionConfig struct {
	Workers          int           `yaml:"workers" validate:"gt=0"`
	QueueSize        int           `yaml:"queue_size" validate:"gt=0"`
	BatchSize        int           `yaml:"batch_size" validate:"gt=0"`
	MaxAttempts      int           `yaml:"max_attempts" validate:"gt=0"`
	BaseDelay        time.Duration `yaml:"base_delay" validate:"gte=0"`
	EmbeddingTimeout time.Duration `yaml:"embedding_timeout" validate:"gte=0"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// RetrievalConfig is the hybrid search policy.
type RetrievalConfig struct {
	VectorWeight     float64       `yaml:"vector_weight"`
	KeywordWeight    float64       `yaml:"keyword_weight"`
	IdentifierBoost  float64       `yaml:"identifier_boost"`
	TopM             int           `yaml:"top_m" validate:"gte=0"`
	DefaultK         int           `yaml:"default_k" validate:"gt=0"`
	KeywordFallback  bool          `yaml:"keyword_fallback"`
	QueryPrefix      string        `yaml:"query_prefix"`
	EmbeddingTimeout time.Duration `yaml:"embedding_timeout" validate:"gte=0"`
	SearchTimeout    time.Duration `yaml:"search_timeout" validate:"gte=0"`
}

// SynthesisConfig is the answer policy.
type SynthesisConfig struct {
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	MinRetrievalScore float64       `yaml:"min_retrieval_score" validate:"gte=0"`
	SnippetLength     int           `yaml:"snippet_length" validate:"gte=0"`
	LogAnswers        bool          `yaml:"log_answers"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	// AskTimeout bounds a question over HTTP. Zero means no bound.
	AskTimeout time.Duration `yaml:"ask_timeout" validate:"gte=0"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Default returns the documented defaults.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	searchDefaults := search.DefaultConfig()
	synthDefaults := synthesis.DefaultConfig()

	return &Config{
		Storage: StorageConfig{
			Backend: BackendBadger,
			Path:    "docusense.db",
		},
		AI: AIConfig{
			Host:                aiDefaults.EmbeddingHost,
			APIKey:              aiDefaults.APIKey,
			EmbeddingModel:      aiDefaults.EmbeddingModel,
			CompletionModel:     aiDefaults.CompletionModel,
			EmbeddingDimensions: aiDefaults.EmbeddingDimensions,
			Temperature:         aiDefaults.Temperature,
			MaxTokens:           aiDefaults.MaxTokens,
		},
		Chunking: ChunkingConfig{
			Size:      processing.DefaultChunkSize,
			Overlap:   processing.DefaultOverlap,
			Mode:      string(processing.ModeCharacter),
			Tokenizer: TokenizerWords,
		},
		Ingestion: IngestionConfig{
			Workers:          4,
			QueueSize:        1024,
			BatchSize:        32,
			MaxAttempts:      3,
			BaseDelay:        500 * time.Millisecond,
			EmbeddingTimeout: 30 * time.Second,
			FetchTimeout:     30 * time.Second,
			ShutdownTimeout:  30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			VectorWeight:     searchDefaults.VectorWeight,
			KeywordWeight:    searchDefaults.KeywordWeight,
			IdentifierBoost:  searchDefaults.IdentifierBoost,
			DefaultK:         5,
			EmbeddingTimeout: searchDefaults.EmbeddingTimeout,
			SearchTimeout:    searchDefaults.SearchTimeout,
		},
		Synthesis: SynthesisConfig{
			Timeout:       synthDefaults.Timeout,
			SnippetLength: synthDefaults.SnippetLength,
			LogAnswers:    true,
		},
		Server: ServerConfig{
			Addr:       ":8080",
			AskTimeout: 90 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// DOCUSENSE_* overrides from the environment and from a .env file in the
// working directory, if present. An empty path skips the file.
// Unknown keys in the file are an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("%w: chunking overlap %d must be smaller than size %d",
			ErrInvalidConfig, c.Chunking.Overlap, c.Chunking.Size)
	}
	if err := c.SearchConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.embeddingHost() == "" || c.completionHost() == "" {
		return fmt.Errorf("%w: ai host is required", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) embeddingHost() string {
	if c.AI.EmbeddingHost != "" {
		return c.AI.EmbeddingHost
	}
	return c.AI.Host
}

func (c *Config) completionHost() string {
	if c.AI.CompletionHost != "" {
		return c.AI.CompletionHost
	}
	return c.AI.Host
}

// AIConfig converts the ai section for the provider.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.embeddingHost()),
		ai.WithCompletionHost(c.completionHost()),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithCompletionModel(c.AI.CompletionModel),
		ai.WithEmbeddingDimensions(c.AI.EmbeddingDimensions),
		ai.WithEmbeddingBatchSize(c.Ingestion.BatchSize),
		ai.WithTemperature(c.AI.Temperature),
		ai.WithMaxTokens(c.AI.MaxTokens),
	)
}

// SearchConfig converts the retrieval section.
func (c *Config) SearchConfig() search.Config {
	return search.Config{
		VectorWeight:     c.Retrieval.VectorWeight,
		KeywordWeight:    c.Retrieval.KeywordWeight,
		IdentifierBoost:  c.Retrieval.IdentifierBoost,
		TopM:             c.Retrieval.TopM,
		KeywordFallback:  c.Retrieval.KeywordFallback,
		QueryPrefix:      c.Retrieval.QueryPrefix,
		EmbeddingTimeout: c.Retrieval.EmbeddingTimeout,
		SearchTimeout:    c.Retrieval.SearchTimeout,
	}
}

// SynthesisConfig converts the synthesis section.
func (c *Config) SynthesisConfig() synthesis.Config {
	return synthesis.Config{
		Timeout:           c.Synthesis.Timeout,
		MinRetrievalScore: c.Synthesis.MinRetrievalScore,
		SnippetLength:     c.Synthesis.SnippetLength,
	}
}

// ProcessingOptions builds the document processor options of the chunking section.
func (c *Config) ProcessingOptions() ([]processing.Option, error) {
	chunker, err := processing.NewChunker(c.Chunking.Size, c.Chunking.Overlap, processing.Mode(c.Chunking.Mode))
	if err != nil {
		return nil, err
	}
	opts := []processing.Option{
		processing.WithChunker(chunker),
		processing.WithFetcher(processing.NewHTTPFetcher(c.Ingestion.FetchTimeout)),
	}
	if c.Chunking.Tokenizer != TokenizerWords {
		counter, err := processing.NewTiktokenCounter(c.Chunking.Tokenizer)
		if err != nil {
			return nil, err
		}
		opts = append(opts, processing.WithTokenCounter(counter))
	}
	return opts, nil
}
