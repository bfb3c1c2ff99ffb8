package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"go-simpler.org/env"
)

// WorkbenchConfig represents the configuration of the OCR workbench
type WorkbenchConfig struct {
	// HTTP listen address and port. Defaults to loopback only, as recognition
	// is meant to run on the user's machine. Default: '127.0.0.1:8080'
	SrvAddr string `env:"OWB_HOST_PORT" default:"127.0.0.1:8080" validate:"required,hostname_port"`
	// Add source info to log statements and lower the level to DEBUG. Default: false
	Debug bool `env:"OWB_DEBUG" default:"false"`
	// Log level (DEBUG, INFO, WARN, ERROR)
	LogLevelStr string `env:"OWB_LOG_LEVEL" default:"INFO"`
	LogLevel    slog.Level
	// Comma separated list of language codes offered in the language selector.
	// They are not checked against the installed models. Default: eng,mon
	LanguagesStr string   `env:"OWB_LANGUAGES" default:"eng,mon"`
	Languages    []string `validate:"min=1,dive,required"`
	// Language selected when a session starts. Default: eng
	DefaultLanguage string `env:"OWB_DEFAULT_LANGUAGE" default:"eng" validate:"required"`
	// Maximum size of an uploaded image. Default: 20MiB
	MaxImageSize      string `env:"OWB_MAX_IMAGE_SIZE" default:"20MiB"`
	MaxImageSizeBytes uint64 `validate:"gt=0"`
	// Name or path of the tesseract executable (CLI backend). Default: tesseract
	TesseractPath string `env:"OWB_TESSERACT_PATH" default:"tesseract"`
	// Directory of the *.traineddata files. Empty means the backend's default
	TessdataDir string `env:"OWB_TESSDATA_DIR"`
	// Tesseract page segmentation mode (0-13). Default: 3 (fully automatic, no OSD)
	PageSegMode int `env:"OWB_PAGE_SEG_MODE" default:"3" validate:"min=0,max=13"`
	// Join words hyphenated at the end of a line in recognized text. Default: false
	Dehyphenate bool `env:"OWB_DEHYPHENATE" default:"false"`
	// Replace newlines in recognized text with whitespace. Default: false
	RemoveNewlines bool `env:"OWB_REMOVE_NEWLINES" default:"false"`
}

// NewWorkbenchConfigFromEnv returns a config object
// populated with defaults and values from environment vars
func NewWorkbenchConfigFromEnv() (*WorkbenchConfig, error) {
	var cfg WorkbenchConfig
	if err := env.Load(&cfg, nil); err != nil {
		return nil, err
	}
	if err := cfg.complete(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// complete parses the string representations and validates the result
func (cfg *WorkbenchConfig) complete() error {
	if err := cfg.LogLevel.UnmarshalText([]byte(cfg.LogLevelStr)); err != nil {
		return fmt.Errorf("parsing log level from env: %w", err)
	}
	if cfg.Debug {
		cfg.LogLevel = slog.LevelDebug
	}
	maxSize, err := humanize.ParseBytes(cfg.MaxImageSize)
	if err != nil {
		return fmt.Errorf("parsing max image size from env: %w", err)
	}
	cfg.MaxImageSizeBytes = maxSize
	cfg.Languages = cfg.Languages[:0]
	for _, l := range strings.Split(cfg.LanguagesStr, ",") {
		if l = strings.TrimSpace(l); l != "" {
			cfg.Languages = append(cfg.Languages, l)
		}
	}
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Logger returns a JSON logger writing to stdout with the configured level
func (cfg *WorkbenchConfig) Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel, AddSource: cfg.Debug}))
}
