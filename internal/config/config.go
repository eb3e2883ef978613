package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/go-playground/validator/v10"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Log     LogConfig
	Session SessionConfig
	Catalog CatalogConfig
	Search  SearchConfig
}

// Load 从环境变量加载配置，并做整体校验。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	sessionCfg, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	catalog, err := loadCatalogConfig()
	if err != nil {
		return nil, err
	}

	search, err := loadSearchConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:  server,
		AI:      ai,
		Log:     loadLogConfig(),
		Session: sessionCfg,
		Catalog: catalog,
		Search:  search,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 检查字段之间的约束，例如选择 redis 时必须提供 REDIS_URL。
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

// loadServerConfig 解析服务器监听地址与跨域白名单。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ORIGINS", "*"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, CORSOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, CORSOrigins: origins}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64 `validate:"omitempty,gte=0,lte=2"`
	TopP         *float64 `validate:"omitempty,gte=0,lte=1"`
	MaxTokens    *int     `validate:"omitempty,gt=0"`
	HistoryLimit int      `validate:"gte=1"`
	// CriteriaAssist 允许在规则解析失败时调用大模型提取筛选条件。
	CriteriaAssist bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	assist, err := parseBoolEnv("AI_CRITERIA_ASSIST", true)
	if err != nil {
		return AIConfig{}, err
	}

	historyLimit := 10
	if override, err := parseOptionalIntEnv("AI_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		historyLimit = *override
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("Model")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		HistoryLimit:   historyLimit,
		CriteriaAssist: assist,
	}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=console json"`
	File   string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "console")),
		File:   strings.TrimSpace(os.Getenv("LOG_FILE")),
	}
}

// SessionConfig 描述会话存储。TTL 在每次保存时刷新，空闲超过 TTL 的会话被清理。
type SessionConfig struct {
	Backend         string        `validate:"oneof=memory redis"`
	TTL             time.Duration `validate:"gte=0"`
	CleanupInterval time.Duration `validate:"gte=0"`
	RedisURL        string        `validate:"required_if=Backend redis"`
	// LockTTL 是 redis 模式下跨进程会话锁的租期，持有者会在轮次内持续续期。
	LockTTL time.Duration `validate:"gte=0"`
}

func loadSessionConfig() (SessionConfig, error) {
	ttl, err := parseDurationEnv("SESSION_TTL", 24*time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}
	cleanup, err := parseDurationEnv("SESSION_CLEANUP_INTERVAL", 10*time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}
	lockTTL, err := parseDurationEnv("SESSION_LOCK_TTL", 30*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}
	return SessionConfig{
		Backend:         strings.ToLower(getEnvOrDefault("SESSION_BACKEND", "memory")),
		TTL:             ttl,
		CleanupInterval: cleanup,
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		LockTTL:         lockTTL,
	}, nil
}

// CatalogConfig 描述营地数据来源。
type CatalogConfig struct {
	Backend       string        `validate:"oneof=catalog postgres"`
	CatalogPath   string
	DSN           string        `validate:"required_if=Backend postgres"`
	QueryTimeout  time.Duration `validate:"gt=0"`
	RetryAttempts int           `validate:"gte=1,lte=10"`
	// SeedPostgres 在 postgres 模式下启动时迁移表结构并导入种子目录。
	SeedPostgres bool
}

func loadCatalogConfig() (CatalogConfig, error) {
	timeout, err := parseDurationEnv("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return CatalogConfig{}, err
	}
	attempts := 3
	if override, err := parseOptionalIntEnv("DB_RETRY_ATTEMPTS"); err != nil {
		return CatalogConfig{}, err
	} else if override != nil {
		attempts = *override
	}
	seed, err := parseBoolEnv("DB_SEED", false)
	if err != nil {
		return CatalogConfig{}, err
	}
	return CatalogConfig{
		Backend:       strings.ToLower(getEnvOrDefault("CAMP_DB_BACKEND", "catalog")),
		CatalogPath:   strings.TrimSpace(os.Getenv("CAMP_CATALOG_PATH")),
		DSN:           strings.TrimSpace(os.Getenv("DB_CONNECTION_STRING")),
		QueryTimeout:  timeout,
		RetryAttempts: attempts,
		SeedPostgres:  seed,
	}, nil
}

// SearchConfig 描述搜索与结果展示。
type SearchConfig struct {
	DistanceWorkers int `validate:"gte=1,lte=64"`
	DisplayLimit    int `validate:"gte=1,lte=100"`
}

func loadSearchConfig() (SearchConfig, error) {
	workers := 8
	if override, err := parseOptionalIntEnv("SEARCH_DISTANCE_WORKERS"); err != nil {
		return SearchConfig{}, err
	} else if override != nil {
		workers = *override
	}
	limit := 10
	if override, err := parseOptionalIntEnv("RESULT_DISPLAY_LIMIT"); err != nil {
		return SearchConfig{}, err
	} else if override != nil {
		limit = *override
	}
	return SearchConfig{DistanceWorkers: workers, DisplayLimit: limit}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv 接受 "90s"、"24h" 这类写法，纯数字按秒处理。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
