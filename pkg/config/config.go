// Package config loads the single Config value built at startup and
// handed to every component.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/harrisonrobin/planhub/pkg/fault"
)

const (
	xdgAppName = "planhub"
	configFile = "config.yaml"
)

type Config struct {
	// Dir holds the config file, Google credentials and tokens.
	Dir string `mapstructure:"-" yaml:"-"`

	// Timezone is the reference zone for date phrases and reminder mail.
	Timezone string         `mapstructure:"timezone" yaml:"timezone"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Mail     MailConfig     `mapstructure:"mail" yaml:"mail"`
	Notifier NotifierConfig `mapstructure:"notifier" yaml:"notifier"`
	Calendar CalendarConfig `mapstructure:"calendar" yaml:"calendar"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port" yaml:"port"`
	SecretKey      string        `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	AllowMockLogin bool          `mapstructure:"allow_mock_login" yaml:"allow_mock_login"`
	SessionTTL     time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	// EmbedNotifier runs the notifier inside `serve`.
	EmbedNotifier bool `mapstructure:"embed_notifier" yaml:"embed_notifier"`
}

type StoreConfig struct {
	// Driver is memory, sqlite, postgres, neo4j or airtable.
	Driver   string         `mapstructure:"driver" yaml:"driver"`
	Path     string         `mapstructure:"path" yaml:"path,omitempty"`
	DSN      string         `mapstructure:"dsn" yaml:"dsn,omitempty"`
	Airtable AirtableConfig `mapstructure:"airtable" yaml:"airtable"`
	Neo4j    Neo4jConfig    `mapstructure:"neo4j" yaml:"neo4j"`
}

type AirtableConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseID string `mapstructure:"base_id" yaml:"base_id,omitempty"`
	Table  string `mapstructure:"table" yaml:"table"`
}

type Neo4jConfig struct {
	URI      string `mapstructure:"uri" yaml:"uri"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	Database string `mapstructure:"database" yaml:"database"`
}

type LLMConfig struct {
	// Provider is gemini or openai.
	Provider string        `mapstructure:"provider" yaml:"provider"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model    string        `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Attempts int           `mapstructure:"attempts" yaml:"attempts"`
}

type MailConfig struct {
	// Transport is smtp, gmail or log.
	Transport  string     `mapstructure:"transport" yaml:"transport"`
	From       string     `mapstructure:"from" yaml:"from,omitempty"`
	FallbackTo string     `mapstructure:"fallback_to" yaml:"fallback_to,omitempty"`
	SMTP       SMTPConfig `mapstructure:"smtp" yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string        `mapstructure:"host" yaml:"host,omitempty"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username,omitempty"`
	Password string        `mapstructure:"password" yaml:"password,omitempty"`
	TLS      string        `mapstructure:"tls" yaml:"tls"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type NotifierConfig struct {
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	Window    time.Duration `mapstructure:"window" yaml:"window"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	BatchSize int           `mapstructure:"batch_size" yaml:"batch_size"`
}

type CalendarConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Name    string `mapstructure:"name" yaml:"name"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

var defaults = map[string]any{
	"timezone":                "Asia/Kolkata",
	"server.port":             5000,
	"server.secret_key":       "",
	"server.allow_mock_login": false,
	"server.session_ttl":      "24h",
	"server.embed_notifier":   true,
	"store.driver":            "memory",
	"store.path":              "",
	"store.dsn":               "",
	"store.airtable.api_key":  "",
	"store.airtable.base_id":  "",
	"store.airtable.table":    "Tasks",
	"store.neo4j.uri":         "bolt://localhost:7687",
	"store.neo4j.user":        "neo4j",
	"store.neo4j.password":    "",
	"store.neo4j.database":    "neo4j",
	"llm.provider":            "gemini",
	"llm.api_key":             "",
	"llm.model":               "",
	"llm.base_url":            "",
	"llm.timeout":             "20s",
	"llm.attempts":            3,
	"mail.transport":          "smtp",
	"mail.from":               "",
	"mail.fallback_to":        "",
	"mail.smtp.host":          "",
	"mail.smtp.port":          587,
	"mail.smtp.username":      "",
	"mail.smtp.password":      "",
	"mail.smtp.tls":           "mandatory",
	"mail.smtp.timeout":       "15s",
	"notifier.interval":       "5m",
	"notifier.window":         "1m",
	"notifier.timeout":        "15s",
	"notifier.batch_size":     20,
	"calendar.enabled":        false,
	"calendar.name":           "Tasks",
	"log.level":               "info",
	"log.format":              "text",
}

// envNames are the legacy variable names accepted besides PLANHUB_<KEY>.
var envNames = map[string][]string{
	"store.airtable.api_key": {"AIRTABLE_API_KEY"},
	"store.airtable.base_id": {"AIRTABLE_BASE_ID"},
	"store.airtable.table":   {"AIRTABLE_TABLE_NAME"},
	"store.dsn":              {"DATABASE_URL"},
	"store.neo4j.uri":        {"NEO4J_URI"},
	"store.neo4j.user":       {"NEO4J_USER"},
	"store.neo4j.password":   {"NEO4J_PASSWORD"},
	"llm.api_key":            {"GEMINI_API_KEY", "OPENAI_API_KEY"},
	"mail.smtp.host":         {"SMTP_HOST"},
	"mail.smtp.port":         {"SMTP_PORT"},
	"mail.smtp.username":     {"SMTP_USER"},
	"mail.smtp.password":     {"SMTP_PASS"},
	"mail.from":              {"EMAIL_FROM"},
	"mail.fallback_to":       {"EMAIL_TO"},
	"server.secret_key":      {"SECRET_KEY"},
	"server.port":            {"PORT"},
}

// Dir returns ~/.config/planhub.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

// GetConfigPath returns the default config file path.
func GetConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("PLANHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envNames {
		args := append([]string{key, "PLANHUB_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		v.BindEnv(args...)
	}
	return v
}

// Load reads .env from the working directory, then the YAML file at path
// (the default path when empty), then the environment. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	const op = "config.load"
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fault.E(fault.Config, op, fmt.Errorf("failed to read .env: %w", err))
	}

	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, fault.E(fault.Config, op, err)
		}
		path = p
	}

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fault.E(fault.Config, op, fmt.Errorf("failed to read %s: %w", path, err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fault.E(fault.Config, op, fmt.Errorf("failed to decode config: %w", err))
	}
	cfg.Dir = filepath.Dir(path)
	return &cfg, nil
}

// Save writes cfg as YAML to path. Durations are written as "5m" rather
// than nanoseconds.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	for key, def := range defaults {
		s, ok := def.(string)
		if !ok {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			continue
		}
		node, last := walk(doc, key)
		if n, ok := node[last].(int); ok {
			node[last] = time.Duration(n).String()
		}
	}
	if data, err = yaml.Marshal(doc); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return writeFile(path, data)
}

// walk returns the map holding the last element of a dotted key,
// creating intermediate maps.
func walk(doc map[string]any, key string) (map[string]any, string) {
	parts := strings.Split(key, ".")
	node := doc
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[p] = child
		}
		node = child
	}
	return node, parts[len(parts)-1]
}

// Set changes one dotted key in the YAML file at path, leaving the rest
// of the file as written.
func Set(path, key, value string) error {
	if _, ok := defaults[key]; !ok {
		return fault.Errorf(fault.Invalid, "config.set", "unknown key %q", key)
	}

	doc := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fault.E(fault.Config, "config.set", fmt.Errorf("failed to parse %s: %w", path, err))
		}
		if doc == nil {
			doc = map[string]any{}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	node, last := walk(doc, key)
	node[last] = value

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file for writing: %w", err)
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fault.E(fault.Config, "config.timezone", err)
	}
	return loc, nil
}

// StorePath returns Store.Path, defaulting to a file in Dir for the file
// based drivers.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	switch c.Store.Driver {
	case "memory":
		return filepath.Join(c.Dir, "tasks.json")
	case "sqlite":
		return filepath.Join(c.Dir, "planhub.db")
	}
	return ""
}

// Validate reports settings no subsystem can run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres", "neo4j", "airtable":
	default:
		errs = append(errs, fault.Errorf(fault.Config, "config", "unknown store driver %q", c.Store.Driver))
	}
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		errs = append(errs, fault.Errorf(fault.Config, "config", "unknown llm provider %q", c.LLM.Provider))
	}
	switch c.Mail.Transport {
	case "smtp", "gmail", "log":
	default:
		errs = append(errs, fault.Errorf(fault.Config, "config", "unknown mail transport %q", c.Mail.Transport))
	}
	if c.Notifier.Window < time.Minute {
		errs = append(errs, fault.Errorf(fault.Config, "config", "notifier window %s is shorter than 1m", c.Notifier.Window))
	}
	if c.Notifier.Interval <= 0 {
		errs = append(errs, fault.Errorf(fault.Config, "config", "notifier interval must be positive"))
	}
	return errors.Join(errs...)
}

// Missing lists subsystems whose credentials are absent. Those
// subsystems are disabled at startup; the rest keep running.
func (c *Config) Missing() map[string]error {
	missing := map[string]error{}
	if c.LLM.APIKey == "" {
		missing["llm"] = fault.Errorf(fault.Config, "config", "llm.api_key is not set")
	}
	switch c.Mail.Transport {
	case "smtp":
		if c.Mail.SMTP.Host == "" || c.Mail.From == "" {
			missing["mail"] = fault.Errorf(fault.Config, "config", "mail.smtp.host and mail.from are required for smtp")
		}
	case "gmail":
		if c.Mail.From == "" {
			missing["mail"] = fault.Errorf(fault.Config, "config", "mail.from is required for gmail")
		}
	}
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DSN == "" {
			missing["store"] = fault.Errorf(fault.Config, "config", "store.dsn is required for postgres")
		}
	case "airtable":
		if c.Store.Airtable.APIKey == "" || c.Store.Airtable.BaseID == "" {
			missing["store"] = fault.Errorf(fault.Config, "config", "store.airtable.api_key and base_id are required")
		}
	}
	if c.Server.SecretKey == "" {
		missing["server"] = fault.Errorf(fault.Config, "config", "server.secret_key is not set")
	}
	return missing
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&c.Server.SecretKey)
	mask(&c.Store.Airtable.APIKey)
	mask(&c.Store.Neo4j.Password)
	mask(&c.LLM.APIKey)
	mask(&c.Mail.SMTP.Password)
	mask(&c.Store.DSN)
	return c
}
