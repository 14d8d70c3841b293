package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds everything the tool needs beyond its command line. Values
// come from built-in defaults, overlaid by an optional YAML file, overlaid
// by OPENAI_* environment variables. The API key is environment-only so it
// cannot end up committed alongside book content.
type Config struct {
	// Generation service
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	Detail         string `yaml:"detail"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	APIKey         string `yaml:"-"`

	// Longest image side in pixels sent to the generation service.
	// Larger raster images are downscaled first; 0 disables downscaling.
	MaxImageDimension int `yaml:"max_image_dimension"`

	// Asciidoc conversion
	AsciidoctorCommand string `yaml:"asciidoctor_command"`
	TemplatesDir       string `yaml:"templates_dir"`

	// Chapter files skipped when their base name contains any of these.
	SkipFiles []string `yaml:"skip_files"`
}

func Default() Config {
	return Config{
		BaseURL:            "https://api.openai.com/v1",
		Model:              "gpt-4o",
		Detail:             "high",
		TimeoutSeconds:     120,
		MaxImageDimension:  2048,
		AsciidoctorCommand: "asciidoctor",
		SkipFiles:          []string{"cover.html"},
	}
}

// Load returns the default configuration overlaid with the YAML file at
// path (when non-empty) and the environment. Unknown YAML keys are an
// error so typos surface instead of silently using defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.BaseURL = envOr("OPENAI_BASE_URL", cfg.BaseURL)
	cfg.Model = envOr("OPENAI_MODEL", cfg.Model)
	cfg.APIKey = os.Getenv("OPENAI_API_KEY")

	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 120
	}
	if cfg.MaxImageDimension < 0 {
		cfg.MaxImageDimension = 0
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Detail {
	case "low", "high", "auto":
	default:
		return fmt.Errorf("detail must be low, high, or auto, got %q", c.Detail)
	}
	if c.AsciidoctorCommand == "" {
		return fmt.Errorf("asciidoctor_command must not be empty")
	}
	return nil
}

// CheckAPIKey verifies the generation credential is present. Separate from
// Validate so runs that never call the service (review merge, dry run) do
// not require a key.
func (c Config) CheckAPIKey() error {
	if c.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required (set it in the environment or a .env file)")
	}
	return nil
}

// Dump writes the configuration as YAML. The API key is excluded from
// serialization.
func (c Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
