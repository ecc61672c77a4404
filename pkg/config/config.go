// Package config loads the YAML description of an agency: its agents, the
// flows between them, the completion backend and the serving surfaces.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aixgo-dev/agency/pkg/llm"
	"github.com/aixgo-dev/agency/pkg/security"
)

// Defaults applied to agents that leave generation parameters unset.
const (
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 4000
	DefaultPort        = 8080
	DefaultToolSteps   = 5
	DefaultOutputDir   = "reports"
)

// History backends.
const (
	HistoryMemory = "memory"
	HistoryRedis  = "redis"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the root of an agency configuration file.
type Config struct {
	Name string `yaml:"name"`
	// Entry names the agent that receives unaddressed messages. Defaults to
	// the first agent.
	Entry              string        `yaml:"entry"`
	SharedInstructions string        `yaml:"shared_instructions"`
	Agents             []AgentConfig `yaml:"agents"`
	Flows              []FlowConfig  `yaml:"flows"`

	LLM       LLMConfig        `yaml:"llm"`
	History   HistoryConfig    `yaml:"history"`
	Server    ServerConfig     `yaml:"server"`
	Tools     ToolsConfig      `yaml:"tools"`
	Routing   RoutingConfig    `yaml:"routing"`
	Logging   LoggingConfig    `yaml:"logging"`
	Schedules []ScheduleConfig `yaml:"schedules"`
}

// AgentConfig describes one agent.
type AgentConfig struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Instructions string   `yaml:"instructions"`
	Model        string   `yaml:"model"`
	Temperature  float64  `yaml:"temperature"`
	MaxTokens    int      `yaml:"max_tokens"`
	Tools        []string `yaml:"tools"`
}

// FlowConfig allows From to relay messages to To.
type FlowConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// LLMConfig selects the completion backend.
type LLMConfig struct {
	Provider          string            `yaml:"provider"`
	Model             string            `yaml:"model"`
	APIKey            string            `yaml:"api_key"`
	BaseURL           string            `yaml:"base_url"`
	Region            string            `yaml:"region"`
	Timeout           time.Duration     `yaml:"timeout"`
	MaxRetries        int               `yaml:"max_retries"`
	RequestsPerSecond float64           `yaml:"requests_per_second"`
	Burst             int               `yaml:"burst"`
	CircuitBreaker    llm.BreakerConfig `yaml:"circuit_breaker"`
	Temperature       float64           `yaml:"temperature"`
	MaxTokens         int               `yaml:"max_tokens"`
}

// Backend converts the section into the llm package configuration.
func (c LLMConfig) Backend() llm.Config {
	return llm.Config{
		Provider:          c.Provider,
		Model:             c.Model,
		APIKey:            c.APIKey,
		BaseURL:           c.BaseURL,
		Region:            c.Region,
		Timeout:           c.Timeout,
		MaxRetries:        c.MaxRetries,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		CircuitBreaker:    c.CircuitBreaker,
	}
}

// HistoryConfig selects where the conversation log lives.
type HistoryConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig mirrors history.RedisConfig.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Prefix       string        `yaml:"prefix"`
	Conversation string        `yaml:"conversation"`
	TTL          time.Duration `yaml:"ttl"`
	MaxEntries   int           `yaml:"max_entries"`
	PoolSize     int           `yaml:"pool_size"`
}

// ServerConfig configures the HTTP and WebSocket surface.
type ServerConfig struct {
	Port              int           `yaml:"port"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins lists WebSocket origins besides the serving host.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ToolsConfig carries settings shared by the built-in tools.
type ToolsConfig struct {
	OutputDir     string        `yaml:"output_dir"`
	SerpAPIKey    string        `yaml:"serpapi_key"`
	NewsAPIKey    string        `yaml:"news_api_key"`
	Location      string        `yaml:"location"`
	Language      string        `yaml:"language"`
	BrowsingAgent string        `yaml:"browsing_agent"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	// AllowPrivateHosts lets web_scraper fetch loopback and private addresses.
	AllowPrivateHosts bool `yaml:"allow_private_hosts"`
}

// RoutingConfig tunes the router.
type RoutingConfig struct {
	MaxRelayDepth   *int          `yaml:"max_relay_depth"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
	// ToolSteps bounds tool executions per invocation. Zero uses the default,
	// a negative value disables tool execution.
	ToolSteps int `yaml:"tool_steps"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is stdout, stderr or a file path. Defaults to stderr.
	Output string `yaml:"output"`
}

// ScheduleConfig routes Message to Agent on a cron spec.
type ScheduleConfig struct {
	Name    string `yaml:"name"`
	Spec    string `yaml:"spec"`
	Agent   string `yaml:"agent"`
	Message string `yaml:"message"`
}

// FileReader reads configuration files.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader implements FileReader using os.ReadFile.
type OSFileReader struct{}

func (OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 - path is operator supplied
}

// Loader reads, decodes and validates configuration files.
type Loader struct {
	reader FileReader
	limits security.YAMLLimits
	getenv func(string) string
	strict bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLimits overrides the YAML resource limits.
func WithLimits(limits security.YAMLLimits) LoaderOption {
	return func(l *Loader) { l.limits = limits }
}

// WithEnv overrides the environment lookup.
func WithEnv(getenv func(string) string) LoaderOption {
	return func(l *Loader) { l.getenv = getenv }
}

// WithStrict rejects unknown keys.
func WithStrict(strict bool) LoaderOption {
	return func(l *Loader) { l.strict = strict }
}

// NewLoader creates a loader reading through fr.
func NewLoader(fr FileReader, opts ...LoaderOption) *Loader {
	l := &Loader{
		reader: fr,
		limits: security.DefaultYAMLLimits(),
		getenv: os.Getenv,
		strict: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the file at path, applies environment overrides and defaults,
// and validates the result.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := l.reader.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return l.Parse(data)
}

// Parse decodes data as a configuration document.
func (l *Loader) Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := security.DecodeYAML(data, &cfg, l.limits, l.strict); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv(l.getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads path with the default loader after loading a .env file from the
// working directory, when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	return NewLoader(OSFileReader{}).Load(path)
}

func (c *Config) applyEnv(getenv func(string) string) {
	setString(&c.LLM.APIKey, getenv("OPENAI_API_KEY"))
	setString(&c.LLM.Model, getenv("OPENAI_MODEL"))
	setString(&c.Tools.SerpAPIKey, getenv("SERPAPI_API_KEY"))
	setString(&c.Tools.NewsAPIKey, getenv("NEWS_API_KEY"))
	setString(&c.Tools.Location, getenv("DEFAULT_LOCATION"))
	setString(&c.Tools.Language, getenv("DEFAULT_LANGUAGE"))
	setString(&c.Logging.Level, getenv("LOG_LEVEL"))

	if addr := getenv("REDIS_ADDR"); addr != "" {
		c.History.Redis.Addr = addr
		if c.History.Backend == "" {
			c.History.Backend = HistoryRedis
		}
	}
	if v, err := strconv.ParseFloat(getenv("TEMPERATURE"), 64); err == nil {
		c.LLM.Temperature = v
	}
	if v, err := strconv.Atoi(getenv("MAX_TOKENS")); err == nil {
		c.LLM.MaxTokens = v
	}
	if v, err := strconv.Atoi(getenv("PORT")); err == nil {
		c.Server.Port = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "agency"
	}
	if c.Entry == "" && len(c.Agents) > 0 {
		c.Entry = c.Agents[0].Name
	}
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	if c.LLM.Provider == "" {
		c.LLM.Provider = llm.ProviderOpenAI
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = DefaultTemperature
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = DefaultMaxTokens
	}
	if c.History.Backend == "" {
		c.History.Backend = HistoryMemory
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.RequestsPerSecond == 0 {
		c.Server.RequestsPerSecond = 5
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = 10
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Tools.OutputDir == "" {
		c.Tools.OutputDir = DefaultOutputDir
	}
	if c.Tools.HTTPTimeout == 0 {
		c.Tools.HTTPTimeout = 30 * time.Second
	}
	if c.Routing.ToolSteps == 0 {
		c.Routing.ToolSteps = DefaultToolSteps
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the agency chart and the sections that reference it.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("%w: at least one agent is required", ErrInvalid)
	}

	names := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("%w: agents[%d]: name is required", ErrInvalid, i)
		}
		if names[a.Name] {
			return fmt.Errorf("%w: duplicate agent %q", ErrInvalid, a.Name)
		}
		names[a.Name] = true
		if a.Temperature < 0 || a.Temperature > 2 {
			return fmt.Errorf("%w: agent %q: temperature must be in [0, 2]", ErrInvalid, a.Name)
		}
	}

	known := func(field, name string) error {
		if name != "" && !names[name] {
			return fmt.Errorf("%w: %s refers to unknown agent %q", ErrInvalid, field, name)
		}
		return nil
	}
	if err := known("entry", c.Entry); err != nil {
		return err
	}
	if err := known("tools.browsing_agent", c.Tools.BrowsingAgent); err != nil {
		return err
	}
	for i, f := range c.Flows {
		if f.From == "" || f.To == "" {
			return fmt.Errorf("%w: flows[%d]: from and to are required", ErrInvalid, i)
		}
		if err := known(fmt.Sprintf("flows[%d].from", i), f.From); err != nil {
			return err
		}
		if err := known(fmt.Sprintf("flows[%d].to", i), f.To); err != nil {
			return err
		}
	}
	for i, s := range c.Schedules {
		if s.Spec == "" || s.Message == "" {
			return fmt.Errorf("%w: schedules[%d]: spec and message are required", ErrInvalid, i)
		}
		if err := known(fmt.Sprintf("schedules[%d].agent", i), s.Agent); err != nil {
			return err
		}
	}

	switch c.LLM.Provider {
	case llm.ProviderOpenAI, llm.ProviderBedrock, llm.ProviderEcho:
	default:
		return fmt.Errorf("%w: unknown llm provider %q", ErrInvalid, c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("%w: llm.temperature must be in [0, 2]", ErrInvalid)
	}

	switch c.History.Backend {
	case HistoryMemory:
	case HistoryRedis:
		if c.History.Redis.Addr == "" {
			return fmt.Errorf("%w: history.redis.addr is required for the redis backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown history backend %q", ErrInvalid, c.History.Backend)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalid, c.Server.Port)
	}
	return nil
}

// MaxRelayDepth returns the configured relay depth and whether it was set.
func (c *Config) MaxRelayDepth() (int, bool) {
	if c.Routing.MaxRelayDepth == nil {
		return 0, false
	}
	return *c.Routing.MaxRelayDepth, true
}

// String summarizes the configuration with secrets masked.
func (c *Config) String() string {
	return fmt.Sprintf("agency=%s agents=%d flows=%d provider=%s model=%s api_key=%s history=%s port=%d",
		c.Name, len(c.Agents), len(c.Flows), c.LLM.Provider, c.LLM.Model,
		security.MaskSecret(c.LLM.APIKey), c.History.Backend, c.Server.Port)
}
