// Package config loads agent configuration from YAML, the environment and .env.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hiepyeuh/nevron/internal/agent"
	"github.com/hiepyeuh/nevron/internal/feedback"
	"github.com/hiepyeuh/nevron/internal/logging"
	"github.com/hiepyeuh/nevron/internal/memory"
	"github.com/hiepyeuh/nevron/internal/policy"
	"github.com/hiepyeuh/nevron/internal/signals"
	"github.com/hiepyeuh/nevron/internal/telemetry"
)

// DefaultEnvPrefix prefixes every environment variable, e.g. NEVRON_PLANNING_EPSILON.
const DefaultEnvPrefix = "NEVRON"

// #region types

// Config captures runtime configuration for the agent.
type Config struct {
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent" json:"agent"`
	Planning  PlanningConfig  `mapstructure:"planning" yaml:"planning" json:"planning"`
	Feedback  FeedbackConfig  `mapstructure:"feedback" yaml:"feedback" json:"feedback"`
	Memory    MemoryConfig    `mapstructure:"memory" yaml:"memory" json:"memory"`
	Signal    SignalConfig    `mapstructure:"signal" yaml:"signal" json:"signal"`
	Log       LogConfig       `mapstructure:"log" yaml:"log" json:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`
	Health    HealthConfig    `mapstructure:"health" yaml:"health" json:"health"`
}

// AgentConfig defines the action set, the state machine and the tick rate.
type AgentConfig struct {
	Actions      []string          `mapstructure:"actions" yaml:"actions" json:"actions"`
	RestInterval time.Duration     `mapstructure:"rest_interval" yaml:"rest_interval" json:"rest_interval"`
	Transitions  map[string]string `mapstructure:"transitions" yaml:"transitions" json:"transitions"`
}

// PlanningConfig holds the learning parameters and where the policy lives.
type PlanningConfig struct {
	Alpha        float64 `mapstructure:"alpha" yaml:"alpha" json:"alpha"`
	Gamma        float64 `mapstructure:"gamma" yaml:"gamma" json:"gamma"`
	Epsilon      float64 `mapstructure:"epsilon" yaml:"epsilon" json:"epsilon"`
	Store        string  `mapstructure:"store" yaml:"store" json:"store"`
	QTablePath   string  `mapstructure:"q_table_path" yaml:"q_table_path" json:"q_table_path"`
	DBPath       string  `mapstructure:"db_path" yaml:"db_path" json:"db_path"`
	KeepVersions int     `mapstructure:"keep_versions" yaml:"keep_versions" json:"keep_versions"`
}

// FeedbackConfig is the reward contract.
type FeedbackConfig struct {
	HistorySize   int                `mapstructure:"history_size" yaml:"history_size" json:"history_size"`
	FailureReward float64            `mapstructure:"failure_reward" yaml:"failure_reward" json:"failure_reward"`
	SuccessReward float64            `mapstructure:"success_reward" yaml:"success_reward" json:"success_reward"`
	ActionRewards map[string]float64 `mapstructure:"action_rewards" yaml:"action_rewards" json:"action_rewards"`
}

// MemoryConfig selects the memory backend.
type MemoryConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`
}

// SignalConfig locates the perception endpoint. An empty URL disables it.
type SignalConfig struct {
	URL     string            `mapstructure:"url" yaml:"url" json:"url"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty" json:"headers"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
	File  string `mapstructure:"file" yaml:"file" json:"file"`
}

// TelemetryConfig controls OTLP trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string            `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Protocol    string            `mapstructure:"protocol" yaml:"protocol" json:"protocol"`
	Insecure    bool              `mapstructure:"insecure" yaml:"insecure" json:"insecure"`
	ServiceName string            `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	Headers     map[string]string `mapstructure:"headers" yaml:"headers" json:"headers"`
}

// HealthConfig controls the gRPC health endpoint. An empty address disables it.
type HealthConfig struct {
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address" json:"listen_address"`
}

// Options customises how configuration should be loaded.
type Options struct {
	Path      string
	EnvPrefix string
}

// #endregion types

// #region defaults

// Default returns the configuration used when nothing is set.
func Default() Config {
	actions := make([]string, 0, len(agent.DefaultActions()))
	for _, a := range agent.DefaultActions() {
		actions = append(actions, string(a))
	}
	transitions := make(map[string]string)
	for a, s := range agent.DefaultTransitions() {
		transitions[string(a)] = string(s)
	}
	params := policy.DefaultParams()
	fb := feedback.DefaultConfig()

	return Config{
		Agent: AgentConfig{
			Actions:      actions,
			RestInterval: 5 * time.Second,
			Transitions:  transitions,
		},
		Planning: PlanningConfig{
			Alpha:        params.Alpha,
			Gamma:        params.Gamma,
			Epsilon:      params.Epsilon,
			Store:        "file",
			QTablePath:   "data/q_table.json",
			DBPath:       "data/policy.db",
			KeepVersions: 100,
		},
		Feedback: FeedbackConfig{
			HistorySize:   fb.HistorySize,
			FailureReward: fb.FailureReward,
			SuccessReward: fb.SuccessReward,
			ActionRewards: map[string]float64{},
		},
		Memory: MemoryConfig{
			Backend: string(memory.BackendSQLite),
			Path:    "data/memory.db",
		},
		Signal: SignalConfig{
			Timeout: signals.DefaultConfig().Timeout,
			Headers: map[string]string{},
		},
		Log: LogConfig{
			Level: "info",
			File:  "logs/debug.log",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "nevron",
			Headers:     map[string]string{},
		},
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("agent.actions", d.Agent.Actions)
	v.SetDefault("agent.rest_interval", d.Agent.RestInterval)
	v.SetDefault("agent.transitions", d.Agent.Transitions)
	v.SetDefault("planning.alpha", d.Planning.Alpha)
	v.SetDefault("planning.gamma", d.Planning.Gamma)
	v.SetDefault("planning.epsilon", d.Planning.Epsilon)
	v.SetDefault("planning.store", d.Planning.Store)
	v.SetDefault("planning.q_table_path", d.Planning.QTablePath)
	v.SetDefault("planning.db_path", d.Planning.DBPath)
	v.SetDefault("planning.keep_versions", d.Planning.KeepVersions)
	v.SetDefault("feedback.history_size", d.Feedback.HistorySize)
	v.SetDefault("feedback.failure_reward", d.Feedback.FailureReward)
	v.SetDefault("feedback.success_reward", d.Feedback.SuccessReward)
	v.SetDefault("memory.backend", d.Memory.Backend)
	v.SetDefault("memory.path", d.Memory.Path)
	v.SetDefault("signal.timeout", d.Signal.Timeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("telemetry.protocol", d.Telemetry.Protocol)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
}

// #endregion defaults

// #region load

// Load parses configuration from an optional YAML file and NEVRON_* variables.
func Load(path string) (*Config, error) {
	return LoadWithOptions(Options{Path: path, EnvPrefix: DefaultEnvPrefix})
}

// LoadWithOptions provides additional control for tests.
func LoadWithOptions(opts Options) (*Config, error) {
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = DefaultEnvPrefix
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, binding := range []struct {
		key  string
		envs []string
	}{
		{key: "agent.actions"},
		{key: "agent.rest_interval"},
		{key: "planning.alpha"},
		{key: "planning.gamma"},
		{key: "planning.epsilon"},
		{key: "planning.store"},
		{
			key:  "planning.q_table_path",
			envs: []string{opts.EnvPrefix + "_PLANNING_Q_TABLE_PATH", "PERSISTENT_Q_TABLE_PATH"},
		},
		{key: "planning.db_path"},
		{key: "planning.keep_versions"},
		{key: "feedback.history_size"},
		{key: "feedback.failure_reward"},
		{key: "feedback.success_reward"},
		{key: "memory.backend"},
		{key: "memory.path"},
		{key: "signal.url"},
		{key: "signal.timeout"},
		{key: "log.level"},
		{key: "log.file"},
		{key: "telemetry.endpoint"},
		{key: "telemetry.protocol"},
		{key: "telemetry.insecure"},
		{key: "telemetry.service_name"},
		{key: "health.listen_address"},
	} {
		if len(binding.envs) == 0 {
			if err := v.BindEnv(binding.key); err != nil {
				return nil, fmt.Errorf("bind env %s: %w", binding.key, err)
			}
			continue
		}
		args := append([]string{binding.key}, binding.envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", binding.key, err)
		}
	}

	if opts.Path != "" {
		v.SetConfigFile(opts.Path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &agent.ConfigError{Err: fmt.Errorf("load configuration: %w", err)}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &agent.ConfigError{Err: fmt.Errorf("decode configuration: %w", err)}
	}

	normaliseConfig(&cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func normaliseConfig(cfg *Config) {
	for i, a := range cfg.Agent.Actions {
		cfg.Agent.Actions[i] = strings.ToLower(strings.TrimSpace(a))
	}
	if cfg.Agent.Transitions == nil {
		cfg.Agent.Transitions = map[string]string{}
	}
	if cfg.Feedback.ActionRewards == nil {
		cfg.Feedback.ActionRewards = map[string]float64{}
	}
	if cfg.Signal.Headers == nil {
		cfg.Signal.Headers = map[string]string{}
	}
	if cfg.Telemetry.Headers == nil {
		cfg.Telemetry.Headers = map[string]string{}
	}
	cfg.Planning.Store = strings.ToLower(strings.TrimSpace(cfg.Planning.Store))
	cfg.Memory.Backend = strings.ToLower(strings.TrimSpace(cfg.Memory.Backend))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Telemetry.Protocol = strings.ToLower(strings.TrimSpace(cfg.Telemetry.Protocol))
}

// #endregion load

// #region validate

// Validate checks cfg against the schema and the known action and state sets.
func Validate(cfg Config) error {
	if err := validateSchema(cfg); err != nil {
		return &agent.ConfigError{Err: err}
	}

	var errs []string
	seen := map[string]bool{}
	for _, a := range cfg.Agent.Actions {
		if _, ok := agent.ParseAction(a); !ok {
			errs = append(errs, fmt.Sprintf("agent.actions: unknown action %q", a))
		}
		if seen[a] {
			errs = append(errs, fmt.Sprintf("agent.actions: duplicate action %q", a))
		}
		seen[a] = true
	}
	for a, s := range cfg.Agent.Transitions {
		if _, ok := agent.ParseAction(a); !ok {
			errs = append(errs, fmt.Sprintf("agent.transitions: unknown action %q", a))
		}
		if _, ok := agent.ParseState(s); !ok {
			errs = append(errs, fmt.Sprintf("agent.transitions: unknown state %q", s))
		}
	}
	for a := range cfg.Feedback.ActionRewards {
		if !seen[a] {
			errs = append(errs, fmt.Sprintf("feedback.action_rewards: action %q is not configured", a))
		}
	}
	if cfg.Planning.Store == "file" && cfg.Planning.QTablePath == "" {
		errs = append(errs, "planning.q_table_path is required for the file store")
	}
	if cfg.Planning.Store == "sqlite" && cfg.Planning.DBPath == "" {
		errs = append(errs, "planning.db_path is required for the sqlite store")
	}
	if cfg.Memory.Backend != string(memory.BackendNone) && cfg.Memory.Path == "" {
		errs = append(errs, "memory.path is required unless memory.backend is none")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return &agent.ConfigError{Err: errors.New(strings.Join(errs, "; "))}
	}
	return nil
}

// #endregion validate

// #region component-configs

// Actions returns the configured action list in order.
func (c Config) Actions() []agent.Action {
	out := make([]agent.Action, len(c.Agent.Actions))
	for i, a := range c.Agent.Actions {
		out[i] = agent.Action(a)
	}
	return out
}

// Transitions returns the state machine table.
func (c Config) Transitions() map[agent.Action]agent.State {
	out := make(map[agent.Action]agent.State, len(c.Agent.Transitions))
	for a, s := range c.Agent.Transitions {
		out[agent.Action(a)] = agent.State(s)
	}
	return out
}

func (c Config) PolicyParams() policy.Params {
	return policy.Params{Alpha: c.Planning.Alpha, Gamma: c.Planning.Gamma, Epsilon: c.Planning.Epsilon}
}

func (c Config) FeedbackConfig() feedback.Config {
	rewards := make(map[agent.Action]float64, len(c.Feedback.ActionRewards))
	for a, r := range c.Feedback.ActionRewards {
		rewards[agent.Action(a)] = r
	}
	return feedback.Config{
		FailureReward: c.Feedback.FailureReward,
		SuccessReward: c.Feedback.SuccessReward,
		ActionRewards: rewards,
		HistorySize:   c.Feedback.HistorySize,
	}
}

func (c Config) MemoryConfig() memory.Config {
	return memory.Config{Backend: memory.Backend(c.Memory.Backend), Path: c.Memory.Path}
}

func (c Config) SignalConfig() signals.Config {
	return signals.Config{URL: c.Signal.URL, Timeout: c.Signal.Timeout, Headers: c.Signal.Headers}
}

func (c Config) LogOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, File: c.Log.File}
}

func (c Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Endpoint:    c.Telemetry.Endpoint,
		Protocol:    c.Telemetry.Protocol,
		Insecure:    c.Telemetry.Insecure,
		ServiceName: c.Telemetry.ServiceName,
		Headers:     c.Telemetry.Headers,
	}
}

// #endregion component-configs

// #region render

// LogValue renders the settings dump logged at startup. Header values are hidden.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("actions", c.Agent.Actions),
		slog.Duration("rest_interval", c.Agent.RestInterval),
		slog.Float64("alpha", c.Planning.Alpha),
		slog.Float64("gamma", c.Planning.Gamma),
		slog.Float64("epsilon", c.Planning.Epsilon),
		slog.String("policy_store", c.Planning.Store),
		slog.String("q_table_path", c.Planning.QTablePath),
		slog.Int("keep_versions", c.Planning.KeepVersions),
		slog.String("memory_backend", c.Memory.Backend),
		slog.String("signal_url", c.Signal.URL),
		slog.Int("signal_headers", len(c.Signal.Headers)),
		slog.String("log_level", c.Log.Level),
		slog.String("telemetry_endpoint", c.Telemetry.Endpoint),
		slog.Int("telemetry_headers", len(c.Telemetry.Headers)),
		slog.String("health_address", c.Health.ListenAddress),
	)
}

// Render encodes cfg as YAML, suitable for a config file.
func Render(cfg Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("render configuration: %w", err)
	}
	return out, nil
}

func toJSON(cfg Config) ([]byte, error) {
	return json.Marshal(cfg)
}

// #endregion render
