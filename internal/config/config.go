package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	fileName = "config.yaml"

	DefaultTimeout = 15 * time.Second
)

// Config is the user's connection and display settings.
type Config struct {
	URL            string        `yaml:"url,omitempty"`
	AnonKey        string        `yaml:"anon_key,omitempty"`
	ListID         string        `yaml:"list_id,omitempty"`
	HouseholdID    string        `yaml:"household_id,omitempty"`
	MemberID       string        `yaml:"member_id,omitempty"`
	Theme          string        `yaml:"theme,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

// Dir is ~/.groceries, or $GROCERIES_HOME when set.
func Dir() (string, error) {
	if d := strings.TrimSpace(os.Getenv("GROCERIES_HOME")); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home: %w", err)
	}
	return filepath.Join(home, ".groceries"), nil
}

func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// Load reads the config file and applies environment overrides.
func Load() (Config, error) {
	p, err := Path()
	if err != nil {
		return Config{}, err
	}
	c, err := LoadFile(p)
	if err != nil {
		return Config{}, err
	}
	return c.WithEnv(), nil
}

// LoadFile reads path without environment overrides. A missing file is an
// empty config.
func LoadFile(path string) (Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// WithEnv returns c with GROCERIES_* variables applied.
func (c Config) WithEnv() Config {
	c.URL = envOr("GROCERIES_URL", c.URL)
	c.AnonKey = envOr("GROCERIES_ANON_KEY", c.AnonKey)
	c.ListID = envOr("GROCERIES_LIST", c.ListID)
	c.Theme = envOr("GROCERIES_THEME", c.Theme)
	return c
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Save writes c to the default path.
func (c *Config) Save() error {
	p, err := Path()
	if err != nil {
		return err
	}
	return c.SaveFile(p)
}

// SaveFile writes c to path, assigning a member id first if none is set.
func (c *Config) SaveFile(path string) error {
	if c.MemberID == "" {
		c.MemberID = uuid.NewString()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Configured reports whether a backend URL and key are present.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.AnonKey) != ""
}

func (c Config) Timeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return DefaultTimeout
	}
	return c.RequestTimeout
}

// Keys lists the names accepted by Set.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var setters = map[string]func(*Config, string) error{
	"url": func(c *Config, v string) error {
		if v != "" && !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
			return fmt.Errorf("url must start with http:// or https://")
		}
		c.URL = strings.TrimRight(v, "/")
		return nil
	},
	"anon_key":     func(c *Config, v string) error { c.AnonKey = v; return nil },
	"list_id":      func(c *Config, v string) error { c.ListID = v; return nil },
	"household_id": func(c *Config, v string) error { c.HouseholdID = v; return nil },
	"member_id": func(c *Config, v string) error {
		if v != "" {
			if _, err := uuid.Parse(v); err != nil {
				return fmt.Errorf("member_id: %w", err)
			}
		}
		c.MemberID = v
		return nil
	},
	"theme": func(c *Config, v string) error { c.Theme = v; return nil },
	"request_timeout": func(c *Config, v string) error {
		if v == "" {
			c.RequestTimeout = 0
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("request_timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("request_timeout must be positive")
		}
		c.RequestTimeout = d
		return nil
	},
}

// Set assigns one field by its yaml name.
func (c *Config) Set(key, value string) error {
	set, ok := setters[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return fmt.Errorf("unknown key %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	return set(c, strings.TrimSpace(value))
}

// Fields returns key/value pairs for display. The key is masked.
func (c Config) Fields() [][2]string {
	timeout := ""
	if c.RequestTimeout > 0 {
		timeout = c.RequestTimeout.String()
	}
	return [][2]string{
		{"url", c.URL},
		{"anon_key", mask(c.AnonKey)},
		{"list_id", c.ListID},
		{"household_id", c.HouseholdID},
		{"member_id", c.MemberID},
		{"theme", c.Theme},
		{"request_timeout", timeout},
	}
}

func mask(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", 4) + s[len(s)-4:]
}
