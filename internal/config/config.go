// Package config loads zenocr settings from defaults, an optional YAML file,
// and the environment, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/zenocr/internal/gcp"
)

// Config holds the full zenocr configuration.
type Config struct {
	ProjectID   string       `yaml:"project_id"`
	Language    string       `yaml:"language"`
	MaxUploadMB int          `yaml:"max_upload_mb"`
	OCR         OCRConfig    `yaml:"ocr"`
	Render      RenderConfig `yaml:"render"`
	Ingest      IngestConfig `yaml:"ingest"`
}

// OCRConfig selects and tunes the OCR provider.
type OCRConfig struct {
	Provider    string        `yaml:"provider"` // gemini | documentai | openai
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`

	VertexAIRegion string `yaml:"vertex_ai_region"`

	DocumentAILocation    string `yaml:"documentai_location"`
	DocumentAIProcessorID string `yaml:"documentai_processor_id"`

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
}

// RenderConfig controls page rasterization.
type RenderConfig struct {
	Scale       float64 `yaml:"scale"`
	JPEGQuality int     `yaml:"jpeg_quality"`
}

// IngestConfig configures the bucket-triggered function.
type IngestConfig struct {
	OutputBucket   string `yaml:"output_bucket"`
	CollectionName string `yaml:"collection_name"`
}

// Default returns the settings used when nothing else is configured.
func Default() *Config {
	return &Config{
		Language:    "zh-Hant",
		MaxUploadMB: 50,
		OCR: OCRConfig{
			Provider:           "gemini",
			Temperature:        0.1,
			Timeout:            2 * time.Minute,
			VertexAIRegion:     "us-central1",
			DocumentAILocation: "us",
		},
		Render: RenderConfig{
			Scale:       2,
			JPEGQuality: 80,
		},
		Ingest: IngestConfig{
			CollectionName: "zenocr_documents",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv loads the file named by ZENOCR_CONFIG (if any) plus the environment.
func FromEnv() (*Config, error) {
	return Load(gcp.GetEnv("ZENOCR_CONFIG", ""))
}

func (c *Config) applyEnv() error {
	c.ProjectID = gcp.GetEnv("PROJECT_ID", c.ProjectID)
	c.Language = gcp.GetEnv("ZENOCR_LANGUAGE", c.Language)
	c.OCR.Provider = gcp.GetEnv("OCR_PROVIDER", c.OCR.Provider)
	c.OCR.Model = gcp.GetEnv("OCR_MODEL", c.OCR.Model)
	c.OCR.VertexAIRegion = gcp.GetEnv("VERTEX_AI_REGION", c.OCR.VertexAIRegion)
	c.OCR.DocumentAILocation = gcp.GetEnv("DOCUMENTAI_LOCATION", c.OCR.DocumentAILocation)
	c.OCR.DocumentAIProcessorID = gcp.GetEnv("DOCUMENTAI_PROCESSOR_ID", c.OCR.DocumentAIProcessorID)
	c.OCR.OpenAIAPIKey = gcp.GetEnv("OPENAI_API_KEY", c.OCR.OpenAIAPIKey)
	c.OCR.OpenAIBaseURL = gcp.GetEnv("OPENAI_BASE_URL", c.OCR.OpenAIBaseURL)
	c.Ingest.OutputBucket = gcp.GetEnv("OUTPUT_BUCKET", c.Ingest.OutputBucket)
	c.Ingest.CollectionName = gcp.GetEnv("FIRESTORE_COLLECTION", c.Ingest.CollectionName)

	if v := gcp.GetEnv("MAX_UPLOAD_MB", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_MB: %w", err)
		}
		c.MaxUploadMB = n
	}
	if v := gcp.GetEnv("OCR_TEMPERATURE", ""); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("OCR_TEMPERATURE: %w", err)
		}
		c.OCR.Temperature = float32(f)
	}
	if v := gcp.GetEnv("OCR_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("OCR_TIMEOUT: %w", err)
		}
		c.OCR.Timeout = d
	}
	return nil
}

// Validate checks settings that would otherwise fail late. Credentials are
// reported per call by the OCR client.
func (c *Config) Validate() error {
	switch c.OCR.Provider {
	case "gemini", "documentai", "openai":
	default:
		return fmt.Errorf("unsupported OCR provider %q", c.OCR.Provider)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	if c.Render.Scale <= 0 {
		return fmt.Errorf("render scale must be positive, got %v", c.Render.Scale)
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be within 1..100, got %d", c.Render.JPEGQuality)
	}
	return nil
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
