package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "taskline.yml"

// Config models taskline.yml.
type Config struct {
	Auth  AuthConfig      `yaml:"auth" json:"auth"`
	Audit AuditConfig     `yaml:"audit" json:"audit"`
	Tasks TasksConfig     `yaml:"tasks" json:"tasks"`
	Roles map[string]Role `yaml:"roles" json:"roles"`
	Log   LogConfig       `yaml:"log" json:"log"`
}

type AuthConfig struct {
	// AllowAnonymousTaskRead lets unauthenticated callers read tasks.
	AllowAnonymousTaskRead bool     `yaml:"allow_anonymous_task_read" json:"allow_anonymous_task_read"`
	AllowLegacyActorHeader bool     `yaml:"allow_legacy_actor_header" json:"allow_legacy_actor_header"`
	Admins                 []string `yaml:"admins" json:"admins"`
	Issuer                 string   `yaml:"issuer" json:"issuer"`
	AccessTokenTTL         string   `yaml:"access_token_ttl" json:"access_token_ttl"`
	RefreshTokenTTL        string   `yaml:"refresh_token_ttl" json:"refresh_token_ttl"`
}

type AuditConfig struct {
	WriteRetries int `yaml:"write_retries" json:"write_retries"`
}

type TasksConfig struct {
	// AssigneeFields are the task fields an assignee may change without
	// being a project member or the creator.
	AssigneeFields []string `yaml:"assignee_fields" json:"assignee_fields"`
	DueSoonDays    int      `yaml:"due_soon_days" json:"due_soon_days"`
}

type Role struct {
	Description string `yaml:"description" json:"description"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads config from the workspace, falling back to Default when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses, schema-checks and validates config from raw YAML bytes.
// Keys missing from the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if doc != nil {
		if err := validateSchema(doc); err != nil {
			return nil, err
		}
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Validate ensures the config is internally consistent.
func (c *Config) Validate() error {
	if err := validateSchema(c); err != nil {
		return err
	}
	if _, err := c.AccessTTL(); err != nil {
		return err
	}
	if _, err := c.RefreshTTL(); err != nil {
		return err
	}
	if len(c.Roles) > 0 {
		if _, ok := c.Roles["admin"]; !ok {
			return fmt.Errorf("config.roles must include admin")
		}
	}
	for _, f := range c.Tasks.AssigneeFields {
		if !isTaskField(f) {
			return fmt.Errorf("config.tasks.assignee_fields: unknown task field %s", f)
		}
	}
	for _, id := range c.Auth.Admins {
		if id == "" {
			return fmt.Errorf("config.auth.admins contains empty actor id")
		}
	}
	return nil
}

// AccessTTL is the lifetime of issued access tokens.
func (c *Config) AccessTTL() (time.Duration, error) {
	return parseTTL("auth.access_token_ttl", c.Auth.AccessTokenTTL, 15*time.Minute)
}

// RefreshTTL is the lifetime of issued refresh tokens.
func (c *Config) RefreshTTL() (time.Duration, error) {
	return parseTTL("auth.refresh_token_ttl", c.Auth.RefreshTokenTTL, 7*24*time.Hour)
}

// IsAdmin reports whether the actor is listed as a configured administrator.
func (c *Config) IsAdmin(actorID string) bool {
	for _, id := range c.Auth.Admins {
		if id == actorID {
			return true
		}
	}
	return false
}

// HasRole reports whether role is part of the role catalog.
func (c *Config) HasRole(role string) bool {
	_, ok := c.Roles[role]
	return ok
}

func parseTTL(key, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config.%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config.%s must be positive", key)
	}
	return d, nil
}

var taskFields = []string{
	"title", "description", "status", "priority", "start_date", "due_date",
	"completion_percentage", "parent_id", "comments",
}

func isTaskField(f string) bool {
	for _, tf := range taskFields {
		if tf == f {
			return true
		}
	}
	return false
}

const defaultTemplate = `auth:
  allow_anonymous_task_read: false
  allow_legacy_actor_header: false
  admins: []
  issuer: taskline
  access_token_ttl: 15m
  refresh_token_ttl: 168h

audit:
  write_retries: 1

tasks:
  assignee_fields: [status, comments]
  due_soon_days: 3

roles:
  admin:
    description: "Full access, including audit log and role management"
  manager:
    description: "Manages projects and their members"
  developer:
    description: "Works on assigned tasks"
  client:
    description: "Read-mostly stakeholder"

log:
  level: info
  format: text
`
