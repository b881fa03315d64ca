//nolint:lll
package config

// Config represents the complete configuration for docflow. It covers every
// command (process, batch, serve, cache) and is loaded from configuration
// files, environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Document library
	Explorer ExplorerConfig `mapstructure:"explorer" yaml:"explorer" json:"explorer"`

	// Content cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache" json:"cache"`

	// Convert stage defaults
	Convert ConvertConfig `mapstructure:"convert" yaml:"convert" json:"convert"`

	// OCR session
	OCR OCRConfig `mapstructure:"ocr" yaml:"ocr" json:"ocr"`

	// Postprocess stage defaults
	Postprocess PostprocessConfig `mapstructure:"postprocess" yaml:"postprocess" json:"postprocess"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// ExplorerConfig points at the local document library. Every top-level
// directory below Root is one library.
type ExplorerConfig struct {
	Root string `mapstructure:"root" yaml:"root" json:"root"`
}

// CacheConfig contains content cache settings.
type CacheConfig struct {
	Dir            string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Persist        bool   `mapstructure:"persist" yaml:"persist" json:"persist"`
	FreshnessHours int    `mapstructure:"freshness_hours" yaml:"freshness_hours" json:"freshness_hours"`
}

// ConvertConfig contains the defaults for new Convert stages.
type ConvertConfig struct {
	Engine        string  `mapstructure:"engine" yaml:"engine" json:"engine"`
	Language      string  `mapstructure:"language" yaml:"language" json:"language"`
	DPI           int     `mapstructure:"dpi" yaml:"dpi" json:"dpi"`
	Scale         float64 `mapstructure:"scale" yaml:"scale" json:"scale"`
	Width         int     `mapstructure:"width" yaml:"width" json:"width"`
	Height        int     `mapstructure:"height" yaml:"height" json:"height"`
	PageRangeMode string  `mapstructure:"page_range_mode" yaml:"page_range_mode" json:"page_range_mode"`
	SinglePage    int     `mapstructure:"single_page" yaml:"single_page" json:"single_page"`
	PageRange     string  `mapstructure:"page_range" yaml:"page_range" json:"page_range"`
	Format        string  `mapstructure:"format" yaml:"format" json:"format"`
	ColorMode     string  `mapstructure:"color_mode" yaml:"color_mode" json:"color_mode"`
	Rotation      int     `mapstructure:"rotation" yaml:"rotation" json:"rotation"`
	Alpha         bool    `mapstructure:"alpha" yaml:"alpha" json:"alpha"`
}

// OCRConfig contains OCR session settings.
type OCRConfig struct {
	Engine         string  `mapstructure:"engine" yaml:"engine" json:"engine"`
	Language       string  `mapstructure:"language" yaml:"language" json:"language"`
	PageTimeoutSec int     `mapstructure:"page_timeout_sec" yaml:"page_timeout_sec" json:"page_timeout_sec"`
	DPI            int     `mapstructure:"dpi" yaml:"dpi" json:"dpi"`
	Scale          float64 `mapstructure:"scale" yaml:"scale" json:"scale"`
}

// PostprocessConfig contains the defaults for new Postprocess stages.
type PostprocessConfig struct {
	NormalizeForm      string `mapstructure:"normalize_form" yaml:"normalize_form" json:"normalize_form"`
	CollapseWhitespace bool   `mapstructure:"collapse_whitespace" yaml:"collapse_whitespace" json:"collapse_whitespace"`
	Trim               bool   `mapstructure:"trim" yaml:"trim" json:"trim"`
	Language           string `mapstructure:"language" yaml:"language" json:"language"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// RequestsPerMinute limits work-starting requests per client; 0 disables it.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
}
