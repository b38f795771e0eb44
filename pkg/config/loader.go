package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AgentRunYAMLConfig represents the complete agentrun.yaml file structure
type AgentRunYAMLConfig struct {
	Queue          *QueueConfig          `yaml:"queue"`
	Worker         *WorkerConfig         `yaml:"worker"`
	Step           *StepConfig           `yaml:"step"`
	Gateway        *GatewayConfig        `yaml:"gateway"`
	RateLimit      *RateLimitConfig      `yaml:"rate_limit"`
	Budget         *BudgetConfig         `yaml:"budget"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker"`
	ControlPlane   *ControlPlaneConfig   `yaml:"control_plane"`
}

// ProvidersYAMLConfig represents the complete llm-providers.yaml file structure
type ProvidersYAMLConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	Pricing   map[string]ModelPricing   `yaml:"pricing"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir (both files are optional)
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user sections over built-in defaults
//  5. Merge built-in + user-defined providers and pricing
//  6. Apply environment variable overrides
//  7. Build the provider registry
//  8. Validate all configuration
//  9. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	// 1. Load configuration files
	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Validate all configuration
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"providers", stats.Providers,
		"priced_models", stats.PricedModels)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load agentrun.yaml (contains queue, worker, gateway, budget sections)
	mainConfig, err := loader.loadAgentRunYAML()
	if err != nil {
		return nil, NewLoadError("agentrun.yaml", err)
	}

	// 2. Load llm-providers.yaml
	providersConfig, err := loader.loadProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge built-in + user-defined components (user overrides built-in)
	providers := mergeProviders(builtin.Providers, providersConfig.Providers)
	pricing := mergePricing(builtin.Pricing, providersConfig.Pricing)

	// 5. Resolve sections (merge user YAML with built-in defaults).
	// Start with defaults, then merge user config on top to preserve
	// unset defaults.
	queueCfg, err := resolveSection("queue", DefaultQueueConfig(), mainConfig.Queue)
	if err != nil {
		return nil, err
	}
	workerCfg, err := resolveSection("worker", DefaultWorkerConfig(), mainConfig.Worker)
	if err != nil {
		return nil, err
	}
	stepCfg, err := resolveSection("step", DefaultStepConfig(), mainConfig.Step)
	if err != nil {
		return nil, err
	}
	gatewayCfg, err := resolveSection("gateway", DefaultGatewayConfig(), mainConfig.Gateway)
	if err != nil {
		return nil, err
	}
	rateLimitCfg, err := resolveSection("rate_limit", DefaultRateLimitConfig(), mainConfig.RateLimit)
	if err != nil {
		return nil, err
	}
	budgetCfg, err := resolveSection("budget", DefaultBudgetConfig(), mainConfig.Budget)
	if err != nil {
		return nil, err
	}
	breakerCfg, err := resolveSection("circuit_breaker", DefaultCircuitBreakerConfig(), mainConfig.CircuitBreaker)
	if err != nil {
		return nil, err
	}
	controlPlaneCfg, err := resolveSection("control_plane", DefaultControlPlaneConfig(), mainConfig.ControlPlane)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		configDir:      configDir,
		Queue:          queueCfg,
		Worker:         workerCfg,
		Step:           stepCfg,
		Gateway:        gatewayCfg,
		RateLimit:      rateLimitCfg,
		Budget:         budgetCfg,
		CircuitBreaker: breakerCfg,
		ControlPlane:   controlPlaneCfg,
		Providers:      NewProviderRegistry(providers),
		Pricing:        pricing,
	}

	// 6. Environment variables override file values
	applyEnvOverrides(cfg)

	return cfg, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

// resolveSection merges a user-provided section into its defaults.
// Non-zero user values override defaults; a nil section keeps defaults as-is.
func resolveSection[T any](name string, defaults *T, user *T) (*T, error) {
	if user == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge %s config: %w", name, err)
	}
	return defaults, nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

// loadAgentRunYAML loads agentrun.yaml. A missing file is not an error:
// every section has built-in defaults and environment overrides, so the
// processes run config-less in containers.
func (l *configLoader) loadAgentRunYAML() (*AgentRunYAMLConfig, error) {
	var config AgentRunYAMLConfig

	if err := l.loadYAML("agentrun.yaml", &config); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			slog.Debug("agentrun.yaml not found, using built-in defaults")
			return &AgentRunYAMLConfig{}, nil
		}
		return nil, err
	}

	return &config, nil
}

// loadProvidersYAML loads llm-providers.yaml. A missing file is not an
// error: the built-in providers and pricing table apply.
func (l *configLoader) loadProvidersYAML() (*ProvidersYAMLConfig, error) {
	var config ProvidersYAMLConfig

	// Initialize maps to avoid nil maps
	config.Providers = make(map[string]ProviderConfig)
	config.Pricing = make(map[string]ModelPricing)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			slog.Debug("llm-providers.yaml not found, using built-in providers")
			return &config, nil
		}
		return nil, err
	}

	return &config, nil
}

// applyEnvOverrides applies environment variable overrides on top of file
// configuration. Names follow the deployment convention: SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	overrideInt("WORKER_CONCURRENCY", &cfg.Worker.Concurrency)
	overrideSeconds("WORKER_POLL_INTERVAL", &cfg.Worker.PollInterval)
	overrideString("LLM_GATEWAY_URL", &cfg.Worker.GatewayURL)
	overrideSeconds("LLM_GATEWAY_TIMEOUT", &cfg.Worker.GatewayTimeout)
	overrideInt("MAX_CONCURRENT_LLM_CALLS", &cfg.Worker.LLMCallLimit)

	overrideString("QUEUE_NAME", &cfg.Queue.Name)
	overrideString("QUEUE_DLQ_NAME", &cfg.Queue.DLQName)
	overrideSeconds("QUEUE_VISIBILITY_TIMEOUT", &cfg.Queue.VisibilityTimeout)
	overrideSeconds("QUEUE_WAIT_TIME_SECONDS", &cfg.Queue.WaitTime)
	overrideInt("QUEUE_MAX_MESSAGES", &cfg.Queue.MaxMessages)

	overrideSeconds("STEP_DEFAULT_TIMEOUT", &cfg.Step.DefaultTimeout)
	overrideInt("STEP_MAX_RETRIES", &cfg.Step.MaxRetries)
	overrideSeconds("STEP_RETRY_DELAY_BASE", &cfg.Step.RetryBase)
	overrideSeconds("STEP_RETRY_DELAY_MAX", &cfg.Step.RetryMax)

	overrideString("GATEWAY_LISTEN_ADDR", &cfg.Gateway.ListenAddr)
	overrideString("CONTROL_PLANE_LISTEN_ADDR", &cfg.ControlPlane.ListenAddr)
	overrideString("WORKER_HEALTH_LISTEN_ADDR", &cfg.Worker.HealthListenAddr)

	overrideInt("RATE_LIMIT_REQUESTS_PER_MINUTE", &cfg.RateLimit.RequestsPerMinute)
	overrideSeconds("RATE_LIMIT_WINDOW_SECONDS", &cfg.RateLimit.Window)

	overrideInt("BUDGET_SOFT_LIMIT_PERCENT", &cfg.Budget.SoftLimitPercent)
	overrideSeconds("BUDGET_CACHE_TTL", &cfg.Budget.CacheTTL)
	overrideSeconds("BUDGET_RECONCILE_INTERVAL", &cfg.Budget.ReconcileInterval)

	overrideInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", &cfg.CircuitBreaker.FailMax)
	overrideSeconds("CIRCUIT_BREAKER_TIMEOUT", &cfg.CircuitBreaker.Timeout)

	if v := os.Getenv("PROVIDER_PRIORITY"); v != "" {
		var priority []string
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				priority = append(priority, name)
			}
		}
		if len(priority) > 0 {
			cfg.Gateway.ProviderPriority = priority
		}
	}
}

func overrideString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func overrideInt(key string, target *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer environment override", "key", key, "value", v)
		return
	}
	*target = n
}

// overrideSeconds parses an override as a duration, accepting either a bare
// integer second count ("300") or a Go duration string ("5m").
func overrideSeconds(key string, target *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*target = time.Duration(n) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Ignoring unparseable duration environment override", "key", key, "value", v)
		return
	}
	*target = d
}
