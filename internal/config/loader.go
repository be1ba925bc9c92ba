package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by Load and LoadWorker.
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

func (e *ConfigError) Unwrap() error {
	return e.Err
}

const (
	// ssmParamSuffix marks pointer variables: DATABASE_URL_SSM_PARAM holds
	// the SSM path whose value becomes DATABASE_URL.
	ssmParamSuffix = "_SSM_PARAM"
	localEnv       = "local"
	ssmTimeout     = 30 * time.Second
)

// env abstracts the process environment so tests need not mutate it.
type env struct {
	lookup  func(string) (string, bool)
	set     func(string, string) error
	list    func() []string
	dotenv  func() error
	process func(prefix string, spec any) error
}

func osEnv() env {
	return env{
		lookup: os.LookupEnv,
		set:    os.Setenv,
		list:   os.Environ,
		// godotenv never overrides variables that are already set.
		dotenv:  func() error { return godotenv.Load() },
		process: envconfig.Process,
	}
}

// Load reads and validates the API server configuration.
//
// provider resolves _SSM_PARAM pointers and may be nil when APP_ENV=local
// or when no pointers are present.
func Load(provider SecretProvider) (*Config, error) {
	return loadAPI(provider, osEnv())
}

// LoadWorker reads and validates the categorization worker configuration.
func LoadWorker(provider SecretProvider) (*WorkerConfig, error) {
	return loadWorker(provider, osEnv())
}

func loadAPI(provider SecretProvider, e env) (*Config, error) {
	var cfg Config
	if err := populate(provider, e, &cfg); err != nil {
		return nil, err
	}
	if cfg.Auth.JWKSURL == "" && !cfg.Auth.JWTSecret.IsSet() {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "one of AUTH_JWKS_URL or AUTH_JWT_SECRET is required",
		}
	}
	cfg.Server.DashboardURL = strings.TrimSuffix(cfg.Server.DashboardURL, "/")
	cfg.Build = NewBuildInfo()
	return &cfg, nil
}

func loadWorker(provider SecretProvider, e env) (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := populate(provider, e, &cfg); err != nil {
		return nil, err
	}
	if cfg.AWS.CategorizeQueueURL == "" {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "SQS_CATEGORIZE is required for the worker",
		}
	}
	cfg.Build = NewBuildInfo()
	return &cfg, nil
}

// populate runs the shared loading sequence: UTC, .env, SSM resolution
// outside local, envconfig, then struct validation.
func populate(provider SecretProvider, e env, spec any) error {
	time.Local = time.UTC

	if err := e.dotenv(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &ConfigError{Type: ErrParsing, Message: "failed to read .env", Err: err}
	}

	if appEnv, _ := e.lookup("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, e); err != nil {
			return err
		}
	}

	if err := e.process("", spec); err != nil {
		return &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	if err := validator.New().Struct(spec); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return nil
}

// resolveSSMParams fetches every NAME_SSM_PARAM target that is not already
// set and exports the value as NAME. Variables set directly win over SSM.
func resolveSSMParams(provider SecretProvider, e env) error {
	targets := make(map[string]string) // ssm path -> env var
	for _, kv := range e.list() {
		key, path, ok := strings.Cut(kv, "=")
		if !ok || path == "" || !strings.HasSuffix(key, ssmParamSuffix) {
			continue
		}
		name := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := e.lookup(name); set {
			continue
		}
		targets[path] = name
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
		names := make([]string, 0, len(paths))
		for _, p := range paths {
			names = append(names, targets[p])
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "a SecretProvider is required to resolve " + strings.Join(names, ", "),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmTimeout)
	defer cancel()

	values, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, p := range paths {
		v, ok := values[p]
		if !ok {
			missing = append(missing, targets[p])
			continue
		}
		if err := e.set(targets[p], v); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: "failed to export " + targets[p],
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SSM parameters not found for: " + strings.Join(missing, ", "),
		}
	}
	return nil
}
