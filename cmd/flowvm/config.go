package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/deepnoodle-ai/flowvm"
	"github.com/deepnoodle-ai/flowvm/postgres"
	"github.com/deepnoodle-ai/flowvm/redis"
	"github.com/deepnoodle-ai/flowvm/script"
)

// Config is the CLI configuration file
type Config struct {
	Store        StoreConfig         `yaml:"store"`
	Log          LogConfig           `yaml:"log"`
	TaskLogs     string              `yaml:"taskLogs"`
	Policy       []flowvm.PolicyRule `yaml:"policy"`
	MaskedFields map[string][]string `yaml:"maskedFields"`
	Script       string              `yaml:"script"`
	SecretPrefix string              `yaml:"secretPrefix"`
	Arguments    map[string]any      `yaml:"arguments"`
	Tracing      bool                `yaml:"tracing"` // emit a span per command to the global tracer
}

// StoreConfig selects the checkpoint and state backend
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, file, postgres or redis
	Dir     string `yaml:"dir"`
	DSN     string `yaml:"dsn"`
	Addr    string `yaml:"addr"`
	Prefix  string `yaml:"prefix"`
}

// LogConfig controls the process logger
type LogConfig struct {
	Format string `yaml:"format"` // text or json
	Level  string `yaml:"level"`
}

func defaultConfig() *Config {
	return &Config{
		Store:  StoreConfig{Backend: "file", Dir: ".flowvm"},
		Log:    LogConfig{Format: "text", Level: "warn"},
		Script: flowvm.LanguageRisor,
	}
}

// loadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "file", "postgres", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for the postgres backend")
	}
	if c.Store.Backend == "redis" && c.Store.Addr == "" {
		return fmt.Errorf("store.addr is required for the redis backend")
	}
	switch c.Script {
	case flowvm.LanguageRisor, flowvm.LanguageExpr:
	default:
		return fmt.Errorf("unknown script engine %q", c.Script)
	}
	for _, rule := range c.Policy {
		switch rule.Decision {
		case flowvm.PolicyAllow, flowvm.PolicyWarn, flowvm.PolicyDeny:
		default:
			return fmt.Errorf("unknown policy decision %q for %q", rule.Decision, rule.Task)
		}
	}
	return nil
}

func (c *Config) logger(w io.Writer) *slog.Logger {
	return flowvm.NewLoggerFor(w, c.Log.Format, c.Log.Level)
}

func (c *Config) compiler() script.Compiler {
	if c.Script == flowvm.LanguageExpr {
		return script.NewExprEngine()
	}
	return script.NewRisorScriptingEngine(script.DefaultRisorGlobals())
}

func (c *Config) policy() flowvm.PolicyChecker {
	if len(c.Policy) == 0 {
		return flowvm.AllowAll{}
	}
	return flowvm.NewRulePolicy(c.Policy...)
}

func (c *Config) listeners() []flowvm.ExecutionListener {
	if !c.Tracing {
		return nil
	}
	return []flowvm.ExecutionListener{flowvm.NewTracingListener()}
}

func (c *Config) taskLogger() flowvm.TaskCallLogger {
	if c.TaskLogs == "" {
		return flowvm.NewNullTaskCallLogger()
	}
	return flowvm.NewFileTaskCallLogger(c.TaskLogs)
}

// openStore connects the configured backend. The returned close function
// releases any connection it opened.
func (c *Config) openStore(ctx context.Context, logger *slog.Logger) (flowvm.Store, func() error, error) {
	noop := func() error { return nil }
	switch c.Store.Backend {
	case "memory":
		return flowvm.NewMemoryStore(), noop, nil
	case "file":
		s, err := flowvm.NewFileStore(c.Store.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "postgres":
		s, err := postgres.Open(ctx, c.Store.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: c.Store.Addr})
		opts := []redis.Option{redis.WithLogger(logger)}
		if c.Store.Prefix != "" {
			opts = append(opts, redis.WithPrefix(c.Store.Prefix))
		}
		s := redis.New(client, opts...)
		if err := s.Ping(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
		return s, client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
}
