package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/marginalia/internal/capture"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/parser"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App         ApplicationConfig `yaml:"app"`
	Vault       VaultConfig       `yaml:"vault"`
	SQLite      SQLiteConfig      `yaml:"sqlite"`
	Auth        AuthConfig        `yaml:"auth"`
	Annotations AnnotationsConfig `yaml:"annotations"`
	Capture     CaptureConfig     `yaml:"capture"`
}

// Validate checks every section and reports the first invalid one by its
// YAML key.
func (c *Config) Validate() error {
	sections := []struct {
		key string
		v   validation.Validatable
	}{
		{"app", &c.App},
		{"vault", &c.Vault},
		{"sqlite", &c.SQLite},
		{"auth", &c.Auth},
		{"annotations", &c.Annotations},
		{"capture", &c.Capture},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.key, err)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig describes the Markdown vault.
type VaultConfig struct {
	Path string `yaml:"path"`
	// IgnoredFolders are vault-relative folders whose documents are never scanned.
	IgnoredFolders []string `yaml:"ignored_folders"`
	AttachmentsDir string   `yaml:"attachments_dir"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.IgnoredFolders, validation.Each(validation.Required, validation.By(relativeFolder))),
		validation.Field(&c.AttachmentsDir, validation.Required, validation.By(relativeFolder)),
	)
}

func relativeFolder(v any) error {
	s, _ := v.(string)
	if s != "" && !filepath.IsLocal(filepath.FromSlash(s)) {
		return errors.New("must be a vault-relative folder")
	}
	return nil
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// AnnotationsConfig controls how annotation text is decoded. Colour rules
// are tried in order; the first matching prefix wins.
type AnnotationsConfig struct {
	ColorRules       []models.ColorRule `yaml:"color_rules"`
	DefaultColor     string             `yaml:"default_color"`
	ImagePlaceholder string             `yaml:"image_placeholder"`
}

// Validate validates the annotation rules.
func (c *AnnotationsConfig) Validate() error {
	for i, r := range c.ColorRules {
		if err := validation.ValidateStruct(&r,
			validation.Field(&r.Prefix, validation.Required),
			validation.Field(&r.Color, validation.Required),
		); err != nil {
			return fmt.Errorf("annotations: color_rules[%d]: %w", i, err)
		}
	}
	return nil
}

// ParserOptions converts the section into parser options.
func (c *AnnotationsConfig) ParserOptions() parser.Options {
	opts := parser.DefaultOptions()
	opts.ColorRules = c.ColorRules
	if c.DefaultColor != "" {
		opts.DefaultColor = c.DefaultColor
	}
	if c.ImagePlaceholder != "" {
		opts.ImagePlaceholder = c.ImagePlaceholder
	}
	return opts
}

// CaptureConfig selects where captured annotations go.
type CaptureConfig struct {
	Inbox        string `yaml:"inbox"`
	Folder       string `yaml:"folder"`
	Zettelkasten bool   `yaml:"zettelkasten"`
	ZKFolder     string `yaml:"zk_folder"`
}

// Validate validates the capture destinations.
func (c *CaptureConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Inbox, validation.By(plainName)),
		validation.Field(&c.Folder, validation.By(relativeFolder)),
		validation.Field(&c.ZKFolder, validation.By(relativeFolder)),
	)
}

func plainName(v any) error {
	s, _ := v.(string)
	if strings.ContainsAny(s, `/\`) {
		return errors.New("must be a document name, not a path")
	}
	return nil
}

// Service converts the section into capture settings.
func (c *CaptureConfig) Service(attachmentsDir string) capture.Config {
	return capture.Config{
		Inbox:          c.Inbox,
		Folder:         c.Folder,
		Zettelkasten:   c.Zettelkasten,
		ZKFolder:       c.ZKFolder,
		AttachmentsDir: attachmentsDir,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path:           "./vault",
			AttachmentsDir: "attachments",
		},
		SQLite: SQLiteConfig{
			Path: "./marginalia.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Annotations: AnnotationsConfig{
			ColorRules: []models.ColorRule{
				{Prefix: "!", Color: "#e5484d"},
				{Prefix: "?", Color: "#f5a524"},
				{Prefix: "*", Color: "#30a46c"},
			},
			DefaultColor:     parser.DefaultColor,
			ImagePlaceholder: parser.DefaultImagePlaceholder,
		},
		Capture: CaptureConfig{
			Inbox:    capture.DefaultInbox,
			ZKFolder: "Zettelkasten",
		},
	}
}
