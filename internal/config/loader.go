package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError reports which loading stage failed.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// FOO_SSM_PARAM=/path makes FOO resolve from the parameter at /path unless
// FOO is already set.
const ssmParamSuffix = "_SSM_PARAM"

// env abstracts the process environment so tests need not mutate it.
type env struct {
	lookup  func(string) (string, bool)
	set     func(string, string) error
	environ func() []string
}

var osEnv = env{lookup: os.LookupEnv, set: os.Setenv, environ: os.Environ}

// Load resolves secrets through provider, then populates and validates a
// Config. provider may be nil when APP_ENV is local.
func Load(provider SecretProvider) (*Config, error) {
	_ = godotenv.Load()
	return load(provider, osEnv)
}

func load(provider SecretProvider, e env) (*Config, error) {
	time.Local = time.UTC

	if appEnv, _ := e.lookup("APP_ENV"); appEnv != "local" {
		if err := resolveSSM(provider, e); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "processing environment", Err: err}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "invalid configuration", Err: err}
	}
	return &cfg, nil
}

// resolveSSM finds *_SSM_PARAM pointers whose target is unset and injects the
// resolved values into the environment.
func resolveSSM(provider SecretProvider, e env) error {
	targets := make(map[string]string) // parameter path -> env var
	for _, kv := range e.environ() {
		key, path, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := e.lookup(target); set {
			continue
		}
		targets[path] = target
	}
	if len(targets) == 0 {
		return nil
	}

	paths := make([]string, 0, len(targets))
	for p := range targets {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("no secret provider for %d parameters", len(paths)),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	values, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{Type: ErrSSMResolution, Message: "resolving parameters", Err: err}
	}

	var missing []string
	for _, p := range paths {
		v, ok := values[p]
		if !ok {
			missing = append(missing, targets[p])
			continue
		}
		if err := e.set(targets[p], v); err != nil {
			return &ConfigError{Type: ErrSSMResolution, Message: "setting " + targets[p], Err: err}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "parameters not found for " + strings.Join(missing, ", "),
		}
	}
	return nil
}
