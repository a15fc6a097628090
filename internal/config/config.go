// Package config loads the expense-tracker configuration.
//
// A config file may be written in YAML or CUE. Its values are unified with
// an embedded CUE schema that supplies defaults and rejects unknown keys
// and out-of-range enums. Environment variables override the file.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Backends.
const (
	BackendDirect  = "direct"
	BackendManaged = "managed"
)

// Config is the effective configuration.
type Config struct {
	Backend   string    `json:"backend" yaml:"backend"`
	Direct    Direct    `json:"direct" yaml:"direct"`
	Managed   Managed   `json:"managed" yaml:"managed"`
	Auth      Auth      `json:"auth" yaml:"auth"`
	Sync      Sync      `json:"sync" yaml:"sync"`
	Recurring Recurring `json:"recurring" yaml:"recurring"`
}

// Direct configures the SQL adapter.
type Direct struct {
	Driver       string `json:"driver" yaml:"driver"`
	DSN          string `json:"dsn" yaml:"dsn"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns"`
}

// Managed configures the REST gateway adapter.
type Managed struct {
	URL       string  `json:"url" yaml:"url"`
	AnonKey   string  `json:"anon_key" yaml:"anon_key"`
	Timeout   string  `json:"timeout" yaml:"timeout"`
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst     int     `json:"burst" yaml:"burst"`
}

// Auth configures token verification and session upkeep.
type Auth struct {
	JWTSecret        string `json:"jwt_secret" yaml:"jwt_secret"`
	RefreshThreshold string `json:"refresh_threshold" yaml:"refresh_threshold"`
	IdleTimeout      string `json:"idle_timeout" yaml:"idle_timeout"`
}

// Sync configures mirroring of direct writes to the managed store.
type Sync struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// ServiceKey is the managed store's service credential.
	ServiceKey string `json:"service_key" yaml:"service_key"`
}

// Recurring configures materialization.
type Recurring struct {
	CatchUp bool `json:"catch_up" yaml:"catch_up"`
}

// Error reports an invalid configuration.
type Error struct {
	Path    string // config file, or "" for defaults and environment
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := "config"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// envOverrides maps environment variables to config paths.
var envOverrides = []struct {
	env  string
	path []string
}{
	{"DB_BACKEND", []string{"backend"}},
	{"DB_DRIVER", []string{"direct", "driver"}},
	{"DATABASE_URL", []string{"direct", "dsn"}},
	{"SUPABASE_URL", []string{"managed", "url"}},
	{"SUPABASE_KEY", []string{"managed", "anon_key"}},
	{"SUPABASE_JWT_SECRET", []string{"auth", "jwt_secret"}},
	{"SUPABASE_SERVICE_KEY", []string{"sync", "service_key"}},
}

// Load reads the config file at path (none when empty), applies
// environment overrides read through getenv, and validates the result.
func Load(path string, getenv func(string) string) (*Config, error) {
	data := map[string]any{}
	if path != "" {
		var err error
		if data, err = readFile(path); err != nil {
			return nil, err
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	applyEnv(data, getenv)

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, &Error{Message: "compile schema", Err: err}
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(data))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, &Error{Path: path, Message: "invalid", Err: err}
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, &Error{Path: path, Message: "decode", Err: err}
	}
	if err := cfg.check(); err != nil {
		return nil, &Error{Path: path, Message: err.Error()}
	}
	return &cfg, nil
}

// readFile parses a YAML or CUE file into plain values.
func readFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Message: "read", Err: err}
	}
	data := map[string]any{}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return nil, &Error{Path: path, Message: "parse yaml", Err: err}
		}
	case ".cue":
		v := cuecontext.New().CompileBytes(raw, cue.Filename(path))
		if err := v.Err(); err != nil {
			return nil, &Error{Path: path, Message: "parse cue", Err: err}
		}
		if err := v.Decode(&data); err != nil {
			return nil, &Error{Path: path, Message: "parse cue", Err: err}
		}
	default:
		return nil, &Error{Path: path, Message: fmt.Sprintf("unsupported extension %q: use .yaml, .yml or .cue", ext)}
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func applyEnv(data map[string]any, getenv func(string) string) {
	for _, o := range envOverrides {
		v := getenv(o.env)
		if v == "" {
			continue
		}
		set(data, o.path, v)
		if o.env == "DATABASE_URL" && getenv("DB_DRIVER") == "" &&
			(strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://")) {
			set(data, []string{"direct", "driver"}, "pgx")
		}
	}
}

// set replaces the value at path, creating intermediate maps.
func set(data map[string]any, path []string, v any) {
	m := data
	for _, k := range path[:len(path)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

// check enforces the cross-field requirements the schema leaves open.
func (c *Config) check() error {
	needManaged := c.Backend == BackendManaged || c.Sync.Enabled
	if needManaged {
		if !strings.HasPrefix(c.Managed.URL, "http://") && !strings.HasPrefix(c.Managed.URL, "https://") {
			return fmt.Errorf("managed.url must be an http(s) URL, got %q", c.Managed.URL)
		}
		if c.Managed.AnonKey == "" {
			return fmt.Errorf("managed.anon_key is required")
		}
		if c.Auth.JWTSecret == "" && c.Backend == BackendManaged {
			return fmt.Errorf("auth.jwt_secret is required for the managed backend")
		}
	}
	if c.Sync.Enabled {
		if c.Backend != BackendDirect {
			return fmt.Errorf("sync mirrors direct writes and needs backend: direct")
		}
		if c.Sync.ServiceKey == "" {
			return fmt.Errorf("sync.service_key is required when sync is enabled")
		}
	}
	return nil
}

// ManagedTimeout returns managed.timeout.
func (c *Config) ManagedTimeout() time.Duration {
	return duration(c.Managed.Timeout)
}

// RefreshThreshold returns auth.refresh_threshold.
func (c *Config) RefreshThreshold() time.Duration {
	return duration(c.Auth.RefreshThreshold)
}

// IdleTimeout returns auth.idle_timeout.
func (c *Config) IdleTimeout() time.Duration {
	return duration(c.Auth.IdleTimeout)
}

// duration parses a schema-validated duration.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.Managed.AnonKey = mask(c.Managed.AnonKey)
	c.Auth.JWTSecret = mask(c.Auth.JWTSecret)
	c.Sync.ServiceKey = mask(c.Sync.ServiceKey)
	if i := strings.Index(c.Direct.DSN, "@"); i >= 0 && strings.Contains(c.Direct.DSN, "://") {
		scheme := c.Direct.DSN[:strings.Index(c.Direct.DSN, "://")+3]
		c.Direct.DSN = scheme + "****" + c.Direct.DSN[i:]
	}
	return c
}

// YAML renders c as a YAML document.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
