// Package config loads kvq configuration: a YAML file checked against an
// embedded CUE schema, then defaults, then environment overrides.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/kvq/internal/kverr"
)

//go:embed schema.cue
var schemaSource string

// Defaults.
const (
	DefaultBaseURL      = "http://127.0.0.1:8098"
	DefaultPrefix       = "riak"
	DefaultMapredPrefix = "mapred"
	DefaultTimeout      = 30 * time.Second
	DefaultLogLevel     = "info"
)

// Config is the process configuration. No package holds it globally; it is
// passed to constructors.
type Config struct {
	BaseURL      string        `yaml:"base_url"`
	Prefix       string        `yaml:"prefix"`
	MapredPrefix string        `yaml:"mapred_prefix"`
	ClientID     string        `yaml:"client_id"`
	Timeout      time.Duration `yaml:"timeout"`
	LogLevel     string        `yaml:"log_level"`
	LogPretty    bool          `yaml:"log_pretty"`
	TraceDB      string        `yaml:"trace_db"`
	Metrics      bool          `yaml:"metrics"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	c := Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.MapredPrefix == "" {
		c.MapredPrefix = DefaultMapredPrefix
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Load reads the file at path. An empty path yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates YAML data against the schema and decodes it.
func Parse(data []byte) (Config, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, kverr.Validation("config", "invalid yaml: %v", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := Validate(raw); err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, kverr.Validation("config", "decode: %v", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Validate checks raw configuration values against the embedded schema.
func Validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	value := def.Unify(ctx.Encode(raw))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return kverr.Validation("config", "%v", err)
	}
	return nil
}

// ApplyEnv overrides fields from KVQ_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("KVQ_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := getenv("KVQ_CLIENT_ID"); v != "" {
		c.ClientID = v
	}
	if v := getenv("KVQ_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("KVQ_TRACE_DB"); v != "" {
		c.TraceDB = v
	}
	if v := getenv("KVQ_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return kverr.Validation("config", "KVQ_TIMEOUT: %v", err)
		}
		c.Timeout = d
	}
	return nil
}
