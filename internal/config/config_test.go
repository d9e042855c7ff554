package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OCR.Provider != "gemini" {
		t.Errorf("provider = %q", cfg.OCR.Provider)
	}
	if cfg.Render.Scale != 2 || cfg.Render.JPEGQuality != 80 {
		t.Errorf("render = %+v", cfg.Render)
	}
	if cfg.MaxUploadBytes() != 50<<20 {
		t.Errorf("max upload bytes = %d", cfg.MaxUploadBytes())
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zenocr.yml")
	yml := `
project_id: from-file
language: en
ocr:
  provider: openai
  model: gpt-4o
  timeout: 30s
ingest:
  output_bucket: file-bucket
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OUTPUT_BUCKET", "env-bucket")
	t.Setenv("OCR_TEMPERATURE", "0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProjectID != "from-file" || cfg.Language != "en" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.OCR.Provider != "openai" || cfg.OCR.Model != "gpt-4o" || cfg.OCR.Timeout != 30*time.Second {
		t.Errorf("ocr = %+v", cfg.OCR)
	}
	if cfg.Ingest.OutputBucket != "env-bucket" {
		t.Errorf("env did not override file: %q", cfg.Ingest.OutputBucket)
	}
	if cfg.OCR.Temperature != 0 {
		t.Errorf("temperature = %v", cfg.OCR.Temperature)
	}
	if cfg.Render.JPEGQuality != 80 {
		t.Errorf("defaults lost after yaml merge: %+v", cfg.Render)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("OCR_PROVIDER", "tesseract")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestLoadBadEnvNumber(t *testing.T) {
	t.Setenv("MAX_UPLOAD_MB", "lots")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for malformed MAX_UPLOAD_MB")
	}
}
