package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "Rivalz-Swarm/internal/errors"
)

// DefaultPathEnv 指定配置文件路径所使用的环境变量。
const DefaultPathEnv = "RIVALZ_CONFIG"

// Config 描述了 rivalzd 在启动阶段需要加载的全部配置。
type Config struct {
	Server         ServerConfig         `json:"server" yaml:"server"`
	KnowledgeStore KnowledgeStoreConfig `json:"knowledge_store" yaml:"knowledge_store"`
	Setup          SetupConfig          `json:"setup" yaml:"setup"`
	LLM            LLMConfig            `json:"llm" yaml:"llm"`
	Agents         AgentsConfig         `json:"agents" yaml:"agents"`
	Tools          ToolsConfig          `json:"tools" yaml:"tools"`
	Storage        StorageConfig        `json:"storage" yaml:"storage"`
	TaskQueue      TaskQueueConfig      `json:"task_queue" yaml:"task_queue"`
	Web3           Web3Config           `json:"web3" yaml:"web3"`
	Alerting       AlertingConfig       `json:"alerting" yaml:"alerting"`
	Logging        LoggingConfig        `json:"logging" yaml:"logging"`
	Metrics        MetricsConfig        `json:"metrics" yaml:"metrics"`
	Runtime        RuntimeConfig        `json:"runtime" yaml:"runtime"`
}

// ServerConfig 控制 HTTP 服务的监听地址与限流参数。
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
	// ChatRatePerSecond 为 /chat 接口的令牌桶速率，0 表示不限流。
	ChatRatePerSecond  float64 `json:"chat_rate_per_second" yaml:"chat_rate_per_second"`
	ChatBurst          int     `json:"chat_burst" yaml:"chat_burst"`
	SessionIdleMinutes int     `json:"session_idle_minutes" yaml:"session_idle_minutes"`
	// AdminKeys 保护 /api/v1/ 下的管理接口，为空表示不校验。
	AdminKeys []AdminKeyConfig `json:"admin_keys" yaml:"admin_keys"`
}

// AdminKeyConfig 描述一把管理接口密钥。
type AdminKeyConfig struct {
	Name      string `json:"name" yaml:"name"`
	Secret    string `json:"secret" yaml:"secret"`
	SecretEnv string `json:"secret_env" yaml:"secret_env"`
}

// Value 返回最终生效的密钥，内联配置优先于环境变量。
func (k AdminKeyConfig) Value() string {
	if secret := strings.TrimSpace(k.Secret); secret != "" {
		return secret
	}
	if k.SecretEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(k.SecretEnv))
}

// KnowledgeStoreConfig 描述外部知识库服务的访问方式。
type KnowledgeStoreConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	SecretToken    string `json:"secret_token" yaml:"secret_token"`
	SecretTokenEnv string `json:"secret_token_env" yaml:"secret_token_env"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Token 返回最终生效的密钥，内联配置优先于环境变量。
func (c KnowledgeStoreConfig) Token() string {
	if token := strings.TrimSpace(c.SecretToken); token != "" {
		return token
	}
	if c.SecretTokenEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.SecretTokenEnv))
}

// Timeout 返回单次请求的超时时间。
func (c KnowledgeStoreConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SetupConfig 控制启动时的知识库构建流程。
type SetupConfig struct {
	Enabled           bool   `json:"enabled" yaml:"enabled"`
	DocumentsDir      string `json:"documents_dir" yaml:"documents_dir"`
	KnowledgeBaseName string `json:"knowledge_base_name" yaml:"knowledge_base_name"`
	PollIntervalMS    int    `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	ReadyTimeoutSecs  int    `json:"ready_timeout_seconds" yaml:"ready_timeout_seconds"`
	// UnboundedWait 显式选择无截止时间的轮询。
	UnboundedWait bool `json:"unbounded_wait" yaml:"unbounded_wait"`
	MaxRetries    int  `json:"max_retries" yaml:"max_retries"`
}

// PollInterval 返回就绪轮询的间隔。
func (c SetupConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// ReadyTimeout 返回就绪轮询的截止时长。
func (c SetupConfig) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutSecs) * time.Second
}

// LLMConfig 用于配置函数调用模型的提供方。
type LLMConfig struct {
	Provider  string         `json:"provider" yaml:"provider"`
	OpenAI    ProviderConfig `json:"openai" yaml:"openai"`
	Anthropic ProviderConfig `json:"anthropic" yaml:"anthropic"`
}

// ProviderConfig 描述单个模型提供方的访问参数。
type ProviderConfig struct {
	APIKey         string  `json:"api_key" yaml:"api_key"`
	APIKeyEnv      string  `json:"api_key_env" yaml:"api_key_env"`
	BaseURL        string  `json:"base_url" yaml:"base_url"`
	Model          string  `json:"model" yaml:"model"`
	Temperature    float64 `json:"temperature" yaml:"temperature"`
	MaxTokens      int     `json:"max_tokens" yaml:"max_tokens"`
	TimeoutSeconds int     `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Key 返回最终生效的 API Key。
func (p ProviderConfig) Key() string {
	if key := strings.TrimSpace(p.APIKey); key != "" {
		return key
	}
	if p.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(p.APIKeyEnv))
}

// Timeout 返回单次推理的超时时间。
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// AgentsConfig 控制调度器行为。
type AgentsConfig struct {
	MaxTurns int `json:"max_turns" yaml:"max_turns"`
	// ExtendedTools 为分诊与链上智能体额外挂载建库与通知工具。
	ExtendedTools bool `json:"extended_tools" yaml:"extended_tools"`
}

// ToolsConfig 描述各工具访问的外部服务。
type ToolsConfig struct {
	TopicPhrase string       `json:"topic_phrase" yaml:"topic_phrase"`
	TVLURL      string       `json:"tvl_url" yaml:"tvl_url"`
	TVLRetries  int          `json:"tvl_retries" yaml:"tvl_retries"`
	PriceURL    string       `json:"price_url" yaml:"price_url"`
	HTTPTimeout int          `json:"http_timeout_seconds" yaml:"http_timeout_seconds"`
	Search      SearchConfig `json:"search" yaml:"search"`
}

// SearchConfig 描述网络信息检索后端。
type SearchConfig struct {
	Backend      string `json:"backend" yaml:"backend"`
	BaseURL      string `json:"base_url" yaml:"base_url"`
	StaticSource string `json:"static_source" yaml:"static_source"`
	// Cache 取值 memory、redis 或 none。
	Cache           string `json:"cache" yaml:"cache"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
	// CacheMaxEntries 仅对 memory 缓存生效。
	CacheMaxEntries int    `json:"cache_max_entries" yaml:"cache_max_entries"`
	BreakerFailures int    `json:"breaker_failures" yaml:"breaker_failures"`
	BreakerCooldown int    `json:"breaker_cooldown_seconds" yaml:"breaker_cooldown_seconds"`
}

// HTTPClientTimeout 返回工具访问外部 HTTP 接口的超时时间。
func (c ToolsConfig) HTTPClientTimeout() time.Duration {
	return time.Duration(c.HTTPTimeout) * time.Second
}

// StorageConfig 统一描述 MySQL、Redis 等后端的连接信息。
type StorageConfig struct {
	Transcript TranscriptConfig `json:"transcript" yaml:"transcript"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
}

// TranscriptConfig 描述会话记录归档的存储方式。
type TranscriptConfig struct {
	Driver                 string `json:"driver" yaml:"driver"`
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds" yaml:"conn_max_idle_time_seconds"`
}

// RedisConfig 描述缓存所使用的 Redis 连接。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// TaskQueueConfig 描述知识库构建任务的队列驱动。
type TaskQueueConfig struct {
	Driver   string              `json:"driver" yaml:"driver"`
	Worker   int                 `json:"worker" yaml:"worker"`
	Redis    RedisQueueConfig    `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQQueueConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisQueueConfig 描述基于 Redis 列表的队列。
type RedisQueueConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	Queue     string `json:"queue" yaml:"queue"`
	BlockWait int    `json:"block_wait_seconds" yaml:"block_wait_seconds"`
}

// RabbitMQQueueConfig 描述 RabbitMQ 队列。
type RabbitMQQueueConfig struct {
	URL        string `json:"url" yaml:"url"`
	Queue      string `json:"queue" yaml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// Web3Config 包含链上工具附带快照所需的 RPC 信息，留空表示不访问链。
type Web3Config struct {
	RPCURL       string `json:"rpc_url" yaml:"rpc_url"`
	ChainConfig  string `json:"chain_config" yaml:"chain_config"`
	DefaultChain string `json:"default_chain" yaml:"default_chain"`
}

// Enabled 判断是否配置了任何链端点。
func (c Web3Config) Enabled() bool {
	return strings.TrimSpace(c.RPCURL) != "" || strings.TrimSpace(c.ChainConfig) != ""
}

// AlertingConfig 描述构建失败时的告警渠道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string         `json:"level" yaml:"level"`
	Format      string         `json:"format" yaml:"format"`
	OutputPaths []string       `json:"output_paths" yaml:"output_paths"`
	Audit       AuditLogConfig `json:"audit" yaml:"audit"`
}

// AuditLogConfig 控制审计日志输出。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// MetricsConfig 控制 Prometheus 指标暴露。
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
	// Address 非空时在独立端口暴露 /metrics，否则挂载在 API 服务上。
	Address string `json:"address" yaml:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Load 负责解析指定路径的配置文件，扩展名为 .yaml/.yml 时按 YAML 解析。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取配置文件失败")
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("解析配置失败: %s", path))
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回未加载任何文件时的默认配置。
func Default(baseDir string) *Config {
	cfg := &Config{Setup: SetupConfig{Enabled: true}, Metrics: MetricsConfig{Enabled: true}}
	cfg.applyDefaults(baseDir)
	return cfg
}

// Validate 检查互相矛盾或取值越界的配置。
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return xerrors.Newf(xerrors.CodeConfiguration, "未知的大模型 provider: %s", c.LLM.Provider)
	}
	switch c.Storage.Transcript.Driver {
	case "memory", "mysql", "none":
	default:
		return xerrors.Newf(xerrors.CodeConfiguration, "未知的会话存储驱动: %s", c.Storage.Transcript.Driver)
	}
	switch c.TaskQueue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return xerrors.Newf(xerrors.CodeConfiguration, "未知的队列驱动: %s", c.TaskQueue.Driver)
	}
	switch c.Tools.Search.Backend {
	case "duckduckgo", "static":
	default:
		return xerrors.Newf(xerrors.CodeConfiguration, "未知的检索后端: %s", c.Tools.Search.Backend)
	}
	if c.Tools.Search.Backend == "static" && c.Tools.Search.StaticSource == "" {
		return xerrors.New(xerrors.CodeConfiguration, "static 检索后端需要配置 static_source")
	}
	if c.Tools.TVLRetries < 1 {
		return xerrors.New(xerrors.CodeConfiguration, "tvl_retries 必须大于 0")
	}
	if c.Storage.Transcript.Driver == "mysql" && c.Storage.Transcript.DSN == "" {
		return xerrors.New(xerrors.CodeConfiguration, "mysql 会话存储需要配置 dsn")
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8000"
	}
	if c.Server.ChatBurst <= 0 {
		c.Server.ChatBurst = 10
	}
	if c.Server.SessionIdleMinutes <= 0 {
		c.Server.SessionIdleMinutes = 60
	}

	if c.KnowledgeStore.BaseURL == "" {
		c.KnowledgeStore.BaseURL = "https://be.rivalz.ai/api-v2"
	}
	if c.KnowledgeStore.SecretTokenEnv == "" {
		c.KnowledgeStore.SecretTokenEnv = "RIVALZ_SECRET_TOKEN"
	}
	if c.KnowledgeStore.TimeoutSeconds <= 0 {
		c.KnowledgeStore.TimeoutSeconds = 60
	}

	c.Setup.DocumentsDir = resolve(baseDir, c.Setup.DocumentsDir, "documents")
	if c.Setup.KnowledgeBaseName == "" {
		c.Setup.KnowledgeBaseName = "Multi-Agent RAG Knowledge Base"
	}
	if c.Setup.PollIntervalMS <= 0 {
		c.Setup.PollIntervalMS = 1000
	}
	if c.Setup.ReadyTimeoutSecs <= 0 {
		c.Setup.ReadyTimeoutSecs = 60
	}
	if c.Setup.MaxRetries <= 0 {
		c.Setup.MaxRetries = 1
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.Anthropic.APIKeyEnv == "" {
		c.LLM.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.LLM.Anthropic.Model == "" {
		c.LLM.Anthropic.Model = "claude-3-5-sonnet-latest"
	}
	for _, p := range []*ProviderConfig{&c.LLM.OpenAI, &c.LLM.Anthropic} {
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = 60
		}
		if p.MaxTokens <= 0 {
			p.MaxTokens = 1024
		}
	}

	if c.Agents.MaxTurns <= 0 {
		c.Agents.MaxTurns = 10
	}

	if c.Tools.TopicPhrase == "" {
		c.Tools.TopicPhrase = "Rivalz AI"
	}
	if c.Tools.TVLURL == "" {
		c.Tools.TVLURL = "https://api.llama.fi/v2/chains"
	}
	if c.Tools.TVLRetries == 0 {
		c.Tools.TVLRetries = 3
	}
	if c.Tools.PriceURL == "" {
		c.Tools.PriceURL = "https://api.coingecko.com/api/v3/simple/price"
	}
	if c.Tools.HTTPTimeout <= 0 {
		c.Tools.HTTPTimeout = 15
	}
	if c.Tools.Search.Backend == "" {
		c.Tools.Search.Backend = "duckduckgo"
	}
	if c.Tools.Search.StaticSource != "" && !filepath.IsAbs(c.Tools.Search.StaticSource) {
		c.Tools.Search.StaticSource = filepath.Join(baseDir, c.Tools.Search.StaticSource)
	}
	if c.Tools.Search.Cache == "" {
		c.Tools.Search.Cache = "memory"
	}
	if c.Tools.Search.CacheTTLSeconds <= 0 {
		c.Tools.Search.CacheTTLSeconds = 300
	}
	if c.Tools.Search.CacheMaxEntries <= 0 {
		c.Tools.Search.CacheMaxEntries = 1024
	}
	if c.Tools.Search.BreakerFailures <= 0 {
		c.Tools.Search.BreakerFailures = 5
	}
	if c.Tools.Search.BreakerCooldown <= 0 {
		c.Tools.Search.BreakerCooldown = 30
	}

	if c.Storage.Transcript.Driver == "" {
		c.Storage.Transcript.Driver = "memory"
	}
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "rivalz:"
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 1
	}
	if c.TaskQueue.Redis.Queue == "" {
		c.TaskQueue.Redis.Queue = "rivalz:setup"
	}
	if c.TaskQueue.RabbitMQ.Queue == "" {
		c.TaskQueue.RabbitMQ.Queue = "rivalz.setup"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "rivalz"
	}

	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir, "data")
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

func resolve(baseDir, value, fallback string) string {
	if value == "" {
		return filepath.Join(baseDir, fallback)
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
