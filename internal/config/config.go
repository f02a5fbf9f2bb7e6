package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file configuration
const (
	EnvAPIKey           = "GOOGLE_CLOUD_VISION_API_KEY"
	EnvUploadURL        = "LORISCAN_UPLOAD_URL"
	EnvAnnotateEndpoint = "LORISCAN_ANNOTATE_ENDPOINT"
	EnvBackend          = "LORISCAN_BACKEND"
	EnvLogLevel         = "LORISCAN_LOG_LEVEL"
	EnvCameraCommand    = "LORISCAN_CAMERA_COMMAND"
	EnvMaxResults       = "LORISCAN_MAX_RESULTS"
)

// Annotation backends
const (
	BackendREST      = "rest"
	BackendGoogleAPI = "googleapi"
	BackendOllama    = "ollama"
	BackendLlamaCpp  = "llamacpp"
)

// Config holds the application configuration
type Config struct {
	Annotation AnnotationConfig `yaml:"annotation"`
	Upload     UploadConfig     `yaml:"upload"`
	Picker     PickerConfig     `yaml:"picker"`
	Model      ModelConfig      `yaml:"model"`
	Share      ShareConfig      `yaml:"share"`
	LogLevel   string           `yaml:"log_level"`
}

// AnnotationConfig configures the annotation service
type AnnotationConfig struct {
	Backend    string        `yaml:"backend"`
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	MaxResults int           `yaml:"max_results"`
	Timeout    time.Duration `yaml:"timeout"`
}

// UploadConfig configures the upload endpoint
type UploadConfig struct {
	URL       string        `yaml:"url"`
	FieldName string        `yaml:"field_name"`
	Timeout   time.Duration `yaml:"timeout"`
}

// PickerConfig configures the gallery and camera pickers and the editing step
type PickerConfig struct {
	GalleryDir    string `yaml:"gallery_dir"`
	CameraCommand string `yaml:"camera_command"`
	AspectWidth   int    `yaml:"aspect_width"`
	AspectHeight  int    `yaml:"aspect_height"`
	MaxDimension  int    `yaml:"max_dimension"`
	Format        string `yaml:"format"`
	Quality       int    `yaml:"quality"`
	Editing       bool   `yaml:"editing"`
}

// ModelConfig configures the local vision model backends
type ModelConfig struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	SendSize int    `yaml:"send_size"`
	SendQ    int    `yaml:"send_quality"`
}

// ShareConfig configures where shared messages go
type ShareConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Annotation: AnnotationConfig{
			Backend:    BackendREST,
			Endpoint:   "https://vision.googleapis.com",
			MaxResults: 15,
			Timeout:    60 * time.Second,
		},
		Upload: UploadConfig{
			FieldName: "file",
			Timeout:   2 * time.Minute,
		},
		Picker: PickerConfig{
			GalleryDir:   ".",
			AspectWidth:  4,
			AspectHeight: 3,
			MaxDimension: 2048,
			Format:       "jpg",
			Quality:      90,
			Editing:      true,
		},
		Model: ModelConfig{
			Name:     "openbmb/minicpm-v4.5",
			SendSize: 1536,
			SendQ:    85,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path (if it exists), then a .env file, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := LoadFromFile(path)
		switch {
		case err == nil:
			cfg = loaded
		case os.IsNotExist(err):
		default:
			return nil, err
		}
	}

	// .env is optional
	_ = godotenv.Load()

	cfg.ApplyEnv()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may carry the API key
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Annotation.APIKey = v
	}
	if v := os.Getenv(EnvUploadURL); v != "" {
		c.Upload.URL = v
	}
	if v := os.Getenv(EnvAnnotateEndpoint); v != "" {
		c.Annotation.Endpoint = v
	}
	if v := os.Getenv(EnvBackend); v != "" {
		c.Annotation.Backend = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvCameraCommand); v != "" {
		c.Picker.CameraCommand = v
	}
	if v := os.Getenv(EnvMaxResults); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Annotation.MaxResults = n
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Annotation.Backend {
	case BackendREST, BackendGoogleAPI:
		if c.Annotation.APIKey == "" {
			return fmt.Errorf("annotation.api_key is required (set %s)", EnvAPIKey)
		}
		if err := validURL(c.Annotation.Endpoint); err != nil {
			return fmt.Errorf("annotation.endpoint: %w", err)
		}
	case BackendOllama, BackendLlamaCpp:
		if c.Model.Name == "" {
			return fmt.Errorf("model.name cannot be empty")
		}
	default:
		return fmt.Errorf("unknown annotation.backend %q", c.Annotation.Backend)
	}

	if c.Annotation.MaxResults < 1 {
		return fmt.Errorf("annotation.max_results must be positive")
	}

	if err := validURL(c.Upload.URL); err != nil {
		return fmt.Errorf("upload.url: %w (set %s)", err, EnvUploadURL)
	}

	if c.Picker.AspectWidth < 1 || c.Picker.AspectHeight < 1 {
		return fmt.Errorf("picker aspect must be positive, got %d:%d", c.Picker.AspectWidth, c.Picker.AspectHeight)
	}

	if c.Picker.Quality < 1 || c.Picker.Quality > 100 {
		return fmt.Errorf("picker.quality must be between 1 and 100")
	}

	switch c.Picker.Format {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("picker.format must be jpg, png or webp")
	}

	return nil
}

func validURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./loriscan.yaml"
	}
	return filepath.Join(home, ".config", "loriscan", "config.yaml")
}
