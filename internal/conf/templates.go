package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/reviewharvest/review-bridge/internal/biz/usecase"
)

// TemplatesConfig contains the message templates loaded from YAML
type TemplatesConfig struct {
	Messages MessageTemplatesConfig `yaml:"messages"`

	// Source is the file the templates came from, empty for defaults
	Source string `yaml:"-"`
	// LoadError is set when an explicitly configured file could not be used
	LoadError error `yaml:"-"`
}

// MessageTemplatesConfig contains the outbound messages.
// Placeholders: {name}, {product}, {link}.
type MessageTemplatesConfig struct {
	Request        string `yaml:"request"`
	Redirect       string `yaml:"redirect"`
	ThankYou       string `yaml:"thank_you"`
	DefaultProduct string `yaml:"default_product"`
}

// LoadTemplatesConfig loads message templates from a YAML file.
// With no path the usual locations are tried and defaults are used when none exists;
// an explicit path must exist and parse.
func LoadTemplatesConfig(configPath string) (*TemplatesConfig, error) {
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read templates: %w", err)
		}
		return parseTemplates(data, configPath)
	}

	// Try multiple paths
	paths := []string{
		"configs/templates.yaml",
		"/etc/review-bridge/templates.yaml",
	}
	if execPath, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "templates.yaml"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".review-bridge", "templates.yaml"))
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err == nil {
			return parseTemplates(data, p)
		}
	}
	return DefaultTemplatesConfig(), nil
}

func parseTemplates(data []byte, path string) (*TemplatesConfig, error) {
	var config TemplatesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	config.fillDefaults()
	config.Source = path
	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *TemplatesConfig) fillDefaults() {
	defaults := DefaultTemplatesConfig()

	if c.Messages.Request == "" {
		c.Messages.Request = defaults.Messages.Request
	}
	if c.Messages.Redirect == "" {
		c.Messages.Redirect = defaults.Messages.Redirect
	}
	if c.Messages.ThankYou == "" {
		c.Messages.ThankYou = defaults.Messages.ThankYou
	}
	if c.Messages.DefaultProduct == "" {
		c.Messages.DefaultProduct = defaults.Messages.DefaultProduct
	}
}

// DefaultTemplatesConfig returns the default message templates
func DefaultTemplatesConfig() *TemplatesConfig {
	d := usecase.DefaultMessageTemplates
	return &TemplatesConfig{
		Messages: MessageTemplatesConfig{
			Request:        d.Request,
			Redirect:       d.Redirect,
			ThankYou:       d.ThankYou,
			DefaultProduct: d.DefaultProduct,
		},
	}
}
