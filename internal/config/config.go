package config

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-wsi-deid/internal/imaging"
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
)

// Config holds redaction settings
type Config struct {
	RedactMacroSquare           bool     `mapstructure:"redact_macro_square"`
	RedactMacroLongAxisPercent  int      `mapstructure:"redact_macro_long_axis_percent"`
	RedactMacroShortAxisPercent int      `mapstructure:"redact_macro_short_axis_percent"`
	AlwaysRedactLabel           bool     `mapstructure:"always_redact_label"`
	AddTitleToLabel             bool     `mapstructure:"add_title_to_label"`
	TitleMinWidth               int      `mapstructure:"title_min_width"`
	TitleBackground             string   `mapstructure:"title_background"`
	TitleForeground             string   `mapstructure:"title_foreground"`
	JPEGQuality                 int      `mapstructure:"jpeg_quality"`
	Workers                     int      `mapstructure:"workers"`
	UploadMetadataAddToImages   []string `mapstructure:"upload_metadata_add_to_images"`
	DisableRedactionForMetadata []string `mapstructure:"disable_redaction_for_metadata"`
	HideMetadata                []string `mapstructure:"hide_metadata"`

	// Per-format pattern lists keyed by format name, read from
	// disable_redaction_for_metadata_format_<name> and
	// hide_metadata_format_<name>.
	DisableRedactionForFormat map[string][]string `mapstructure:"-"`
	HideMetadataForFormat     map[string][]string `mapstructure:"-"`
}

// redactableFormats are the formats with per-format pattern keys
var redactableFormats = []types.Format{
	types.FormatAperio,
	types.FormatHamamatsu,
	types.FormatPhilips,
	types.FormatDICOM,
	types.FormatOMETIFF,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redact_macro_square", false)
	v.SetDefault("redact_macro_long_axis_percent", 0)
	v.SetDefault("redact_macro_short_axis_percent", 0)
	v.SetDefault("always_redact_label", false)
	v.SetDefault("add_title_to_label", true)
	v.SetDefault("title_min_width", 384)
	v.SetDefault("title_background", "#000000")
	v.SetDefault("title_foreground", "#ffffff")
	v.SetDefault("jpeg_quality", 90)
	v.SetDefault("workers", runtime.NumCPU())
	// openslide.comment stays redactable; it is hidden below instead.
	v.SetDefault("disable_redaction_for_metadata", []string{
		`^internal;aperio_version$`,
		`^internal;openslide;openslide\.`,
		`^internal;openslide;tiff.(ResolutionUnit|XResolution|YResolution)$`,
	})
	v.SetDefault("hide_metadata", []string{
		`^internal;openslide;openslide.level\[`,
		`^internal;openslide;hamamatsu.(AHEX|MHLN)\[`,
		`^internal;openslide;(openslide.comment|tiff.ImageDescription)$`,
	})
	for _, f := range redactableFormats {
		v.SetDefault("disable_redaction_for_metadata_format_"+f.String(), []string{})
		v.SetDefault("hide_metadata_format_"+f.String(), []string{})
	}
}

// Load reads configuration using Viper. An empty path searches the
// standard locations for wsi-deid-config.yaml; a missing file is not an
// error and leaves the defaults in place.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("wsi-deid-config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.wsi-deid")
		v.AddConfigPath("/etc/wsi-deid")
	}

	setDefaults(v)

	// Allow environment variables
	v.SetEnvPrefix("WSIDEID")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// Default returns the built-in configuration without reading files or
// the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	config, err := decode(v)
	if err != nil {
		panic(err)
	}
	return config
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.DisableRedactionForFormat = make(map[string][]string)
	config.HideMetadataForFormat = make(map[string][]string)
	for _, f := range redactableFormats {
		config.DisableRedactionForFormat[f.String()] = v.GetStringSlice("disable_redaction_for_metadata_format_" + f.String())
		config.HideMetadataForFormat[f.String()] = v.GetStringSlice("hide_metadata_format_" + f.String())
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", c.JPEGQuality)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	for name, pct := range map[string]int{
		"redact_macro_long_axis_percent":  c.RedactMacroLongAxisPercent,
		"redact_macro_short_axis_percent": c.RedactMacroShortAxisPercent,
	} {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %d", name, pct)
		}
	}
	if c.TitleMinWidth < 0 {
		return fmt.Errorf("title_min_width must not be negative, got %d", c.TitleMinWidth)
	}
	return nil
}

// Patterns compiles the audit patterns that apply to format.
func (c *Config) Patterns(format types.Format) (policy.Patterns, error) {
	hide := append(append([]string{}, c.HideMetadata...), c.HideMetadataForFormat[format.String()]...)
	never := append(append([]string{}, c.DisableRedactionForMetadata...), c.DisableRedactionForFormat[format.String()]...)
	return policy.CompilePatterns(hide, never)
}

// TitleOptions returns the label title settings.
func (c *Config) TitleOptions(previouslyTitled bool) (imaging.TitleOptions, error) {
	opts := imaging.DefaultTitleOptions()
	opts.PreviouslyTitled = previouslyTitled
	opts.MinWidth = c.TitleMinWidth
	bg, err := imaging.ParseHexColor(c.TitleBackground)
	if err != nil {
		return opts, fmt.Errorf("invalid title_background: %w", err)
	}
	fg, err := imaging.ParseHexColor(c.TitleForeground)
	if err != nil {
		return opts, fmt.Errorf("invalid title_foreground: %w", err)
	}
	opts.Background, opts.Foreground = bg, fg
	return opts, nil
}

// DeidInfo limits upload fields to upload_metadata_add_to_images when
// that key is set.
func (c *Config) DeidInfo(fields map[string]string) policy.DeidInfo {
	return policy.DeidInfo{Fields: fields, AllowList: c.UploadMetadataAddToImages}
}
