package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/docflow/internal/batch"
	"github.com/MeKo-Tech/docflow/internal/cache"
	"github.com/MeKo-Tech/docflow/internal/ocr"
	"github.com/MeKo-Tech/docflow/internal/pipeline"
	"github.com/MeKo-Tech/docflow/internal/postprocess"
	"github.com/MeKo-Tech/docflow/internal/render"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	conv := pipeline.DefaultConvertConfig()
	ocrCfg := ocr.DefaultConfig()
	post := postprocess.DefaultOptions()
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Explorer: ExplorerConfig{
			Root: ".",
		},
		Cache: CacheConfig{
			Dir:            ".docflow-cache",
			Persist:        false,
			FreshnessHours: int(cache.DefaultFreshness / time.Hour),
		},
		Convert: ConvertConfig{
			Engine:        string(conv.Engine),
			Language:      conv.Language,
			DPI:           conv.DPI,
			Scale:         conv.Scale,
			PageRangeMode: string(conv.PageRangeMode),
			SinglePage:    1,
			Format:        string(conv.Format),
			ColorMode:     string(conv.ColorMode),
		},
		OCR: OCRConfig{
			Engine:         ocrCfg.Engine.Name,
			Language:       ocrCfg.Engine.Language,
			PageTimeoutSec: 0,
			DPI:            ocrCfg.Render.DPI,
			Scale:          ocrCfg.Render.Scale,
		},
		Postprocess: PostprocessConfig{
			NormalizeForm:      post.NormalizeForm,
			CollapseWhitespace: post.CollapseWhitespace,
			Trim:               post.Trim,
		},
		Output: OutputConfig{
			Format: batch.FormatText,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Output.Format != "" && !slices.Contains(batch.Formats(), c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(batch.Formats(), ", "))
	}

	if c.Cache.FreshnessHours <= 0 {
		return fmt.Errorf("invalid cache freshness: %d hours (must be positive)", c.Cache.FreshnessHours)
	}
	if c.Cache.Persist && c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required when cache.persist is enabled")
	}

	if err := c.ToConvertConfig().Validate(); err != nil {
		return fmt.Errorf("invalid convert settings: %w", err)
	}

	if c.OCR.Engine == "" {
		return fmt.Errorf("ocr.engine must not be empty")
	}
	if err := c.ToOCRConfig().Render.Validate(); err != nil {
		return fmt.Errorf("invalid ocr settings: %w", err)
	}
	if c.OCR.PageTimeoutSec < 0 {
		return fmt.Errorf("invalid ocr page timeout: %d (must not be negative)", c.OCR.PageTimeoutSec)
	}

	validForms := []string{"NFC", "NFKC", "NFD", "NFKD", "none"}
	if c.Postprocess.NormalizeForm != "" && !slices.Contains(validForms, c.Postprocess.NormalizeForm) {
		return fmt.Errorf("invalid normalize form: %s (must be one of: %s)", c.Postprocess.NormalizeForm, strings.Join(validForms, ", "))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RequestsPerMinute < 0 {
		return fmt.Errorf("invalid requests per minute: %d (must not be negative)", c.Server.RequestsPerMinute)
	}

	return nil
}

// ToConvertConfig converts the convert section to a Convert stage config.
func (c *Config) ToConvertConfig() pipeline.ConvertConfig {
	return pipeline.ConvertConfig{
		Engine:        pipeline.ConvertEngine(c.Convert.Engine),
		Language:      c.Convert.Language,
		DPI:           c.Convert.DPI,
		Scale:         c.Convert.Scale,
		Width:         c.Convert.Width,
		Height:        c.Convert.Height,
		PageRangeMode: pipeline.PageRangeMode(c.Convert.PageRangeMode),
		SinglePage:    c.Convert.SinglePage,
		PageRange:     c.Convert.PageRange,
		Format:        render.Format(c.Convert.Format),
		ColorMode:     render.ColorMode(c.Convert.ColorMode),
		Rotation:      c.Convert.Rotation,
		Alpha:         c.Convert.Alpha,
	}
}

// ToOCRConfig converts the ocr section to the session manager config.
func (c *Config) ToOCRConfig() ocr.Config {
	cfg := ocr.DefaultConfig()
	cfg.Engine.Name = c.OCR.Engine
	cfg.Engine.Language = c.OCR.Language
	cfg.Engine.DPI = c.OCR.DPI
	cfg.Render.DPI = c.OCR.DPI
	cfg.Render.Scale = c.OCR.Scale
	cfg.PageTimeout = time.Duration(c.OCR.PageTimeoutSec) * time.Second
	return cfg
}

// ToPostprocessConfig converts the postprocess section to a Postprocess
// stage config.
func (c *Config) ToPostprocessConfig() pipeline.PostprocessConfig {
	opts := postprocess.DefaultOptions()
	opts.NormalizeForm = c.Postprocess.NormalizeForm
	opts.CollapseWhitespace = c.Postprocess.CollapseWhitespace
	opts.Trim = c.Postprocess.Trim
	opts.Language = c.Postprocess.Language
	return pipeline.PostprocessConfig{Options: opts}
}

// CacheFreshness returns the cache eligibility threshold.
func (c *Config) CacheFreshness() time.Duration {
	return time.Duration(c.Cache.FreshnessHours) * time.Hour
}
