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
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	AI       AIConfig
	OCR      OCRConfig
	Search   SearchConfig
	History  HistoryConfig
	Speech   SpeechConfig
	LogLevel string
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	provider, err := loadProviderConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	ocr, err := loadOCRConfig()
	if err != nil {
		return nil, err
	}

	search, err := loadSearchConfig()
	if err != nil {
		return nil, err
	}

	history, err := loadHistoryConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Provider: provider,
		AI:       ai,
		OCR:      ocr,
		Search:   search,
		History:  history,
		Speech:   speech,
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// 生成服务的实现
const (
	ProviderREST  = "rest"
	ProviderGenAI = "genai"
	ProviderArk   = "ark"
)

// ProviderConfig 描述 Gemini 生成服务配置。
type ProviderConfig struct {
	Kind       string
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
	Project    string
	Location   string
	Vertex     bool
	// Timeout 为 0 表示不限制单次调用时长。
	Timeout time.Duration
}

func loadProviderConfig() (ProviderConfig, error) {
	kind := strings.ToLower(getEnvOrDefault("PROVIDER", ProviderREST))
	switch kind {
	case ProviderREST, ProviderGenAI, ProviderArk:
	default:
		return ProviderConfig{}, fmt.Errorf("invalid PROVIDER value %q: expected rest, genai or ark", kind)
	}

	vertex, err := parseBoolEnv("GEMINI_USE_VERTEX", false)
	if err != nil {
		return ProviderConfig{}, err
	}

	timeout, err := parseOptionalDurationEnv("PROVIDER_TIMEOUT")
	if err != nil {
		return ProviderConfig{}, err
	}

	cfg := ProviderConfig{
		Kind:       kind,
		APIKey:     strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		BaseURL:    strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")),
		TextModel:  strings.TrimSpace(os.Getenv("GEMINI_MODEL")),
		ImageModel: strings.TrimSpace(os.Getenv("GEMINI_IMAGE_MODEL")),
		Project:    strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT")),
		Location:   strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_LOCATION")),
		Vertex:     vertex,
	}
	if timeout != nil {
		cfg.Timeout = *timeout
	}
	return cfg, nil
}

// Enabled 表示 Gemini 凭证是否齐全。
func (c ProviderConfig) Enabled() bool {
	if c.Vertex {
		return c.Project != ""
	}
	return c.APIKey != ""
}

// AIConfig 描述 Ark 大模型相关配置，仅在 PROVIDER=ark 时使用。
type AIConfig struct {
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	SystemPrompt string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
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

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
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

	modelName := strings.TrimSpace(os.Getenv("ARK_MODEL"))
	if modelName == "" {
		// 旧的 .env 使用 Model
		modelName = strings.TrimSpace(os.Getenv("Model"))
	}

	return AIConfig{
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        modelName,
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		SystemPrompt: strings.TrimSpace(os.Getenv("ARK_SYSTEM_PROMPT")),
	}, nil
}

// OCR 引擎
const (
	OCREngineGenAI  = "genai"
	OCREngineOpenAI = "openai"
	OCREngineOff    = "off"
)

// OCRConfig 描述图片文字识别配置。
type OCRConfig struct {
	Engine   string
	Model    string
	APIKey   string
	BaseURL  string
	Language string
	// Vertex 仅对 genai 引擎生效，沿用 Gemini 的 Vertex AI 设置
	Vertex   bool
	Project  string
	Location string
}

func loadOCRConfig() (OCRConfig, error) {
	engine := strings.ToLower(getEnvOrDefault("OCR_ENGINE", OCREngineGenAI))
	switch engine {
	case OCREngineGenAI, OCREngineOpenAI, OCREngineOff:
	default:
		return OCRConfig{}, fmt.Errorf("invalid OCR_ENGINE value %q: expected genai, openai or off", engine)
	}

	apiKey := strings.TrimSpace(os.Getenv("OCR_API_KEY"))
	if apiKey == "" && engine == OCREngineGenAI {
		// 默认复用 Gemini 密钥
		apiKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	}

	cfg := OCRConfig{
		Engine:   engine,
		Model:    strings.TrimSpace(os.Getenv("OCR_MODEL")),
		APIKey:   apiKey,
		BaseURL:  strings.TrimSpace(os.Getenv("OCR_BASE_URL")),
		Language: getEnvOrDefault("OCR_LANGUAGE", "eng"),
	}
	if engine == OCREngineGenAI {
		vertex, err := parseBoolEnv("GEMINI_USE_VERTEX", false)
		if err != nil {
			return OCRConfig{}, err
		}
		cfg.Vertex = vertex
		cfg.Project = strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT"))
		cfg.Location = strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_LOCATION"))
	}
	return cfg, nil
}

// Enabled 表示是否配置了可用的 OCR 引擎。
func (c OCRConfig) Enabled() bool {
	switch {
	case c.Engine == OCREngineOff:
		return false
	case c.Engine == OCREngineGenAI && c.Vertex:
		return c.Project != ""
	default:
		return c.APIKey != ""
	}
}

// SearchConfig 描述联网搜索配置。
type SearchConfig struct {
	Enabled    bool
	BaseURL    string
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
}

func loadSearchConfig() (SearchConfig, error) {
	enabled, err := parseBoolEnv("SEARCH_ENABLED", true)
	if err != nil {
		return SearchConfig{}, err
	}

	rps, err := parseOptionalFloatEnv("SEARCH_RATE_PER_SEC")
	if err != nil {
		return SearchConfig{}, err
	}
	ratePerSec := 1.0
	if rps != nil {
		if *rps <= 0 {
			return SearchConfig{}, fmt.Errorf("invalid SEARCH_RATE_PER_SEC value %q: must be positive", os.Getenv("SEARCH_RATE_PER_SEC"))
		}
		ratePerSec = *rps
	}

	timeout, err := parseOptionalDurationEnv("SEARCH_TIMEOUT")
	if err != nil {
		return SearchConfig{}, err
	}
	searchTimeout := 10 * time.Second
	if timeout != nil {
		searchTimeout = *timeout
	}

	return SearchConfig{
		Enabled:    enabled,
		BaseURL:    strings.TrimSpace(os.Getenv("SEARCH_BASE_URL")),
		RatePerSec: ratePerSec,
		Burst:      1,
		Timeout:    searchTimeout,
	}, nil
}

// 会话历史存储
const (
	HistoryMemory = "memory"
	HistorySQLite = "sqlite"
)

// HistoryConfig 描述会话历史存储配置。
type HistoryConfig struct {
	Backend    string
	SQLitePath string
}

func loadHistoryConfig() (HistoryConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("HISTORY_BACKEND", HistoryMemory))
	switch backend {
	case HistoryMemory, HistorySQLite:
	default:
		return HistoryConfig{}, fmt.Errorf("invalid HISTORY_BACKEND value %q: expected memory or sqlite", backend)
	}
	return HistoryConfig{
		Backend:    backend,
		SQLitePath: getEnvOrDefault("HISTORY_SQLITE_PATH", "chat_history.db"),
	}, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID          string
	AccessToken    string
	ConcurrentMode bool
	ASRURL         string
	ASRLanguage    string
	TTSURL         string
	TTSVoice       string
	TTSLanguage    string
	VoiceCatalog   string
	Timeout        time.Duration
	Enabled        bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	// 解析超时设置
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	concurrent, err := parseBoolEnv("SPEECH_ASR_CONCURRENT", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	}

	return SpeechConfig{
		AppID:          appID,
		AccessToken:    accessToken,
		ConcurrentMode: concurrent,
		ASRURL:         getEnvOrDefault("SPEECH_ASR_URL", ""),
		ASRLanguage:    getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		TTSURL:         getEnvOrDefault("SPEECH_TTS_URL", ""),
		TTSVoice:       getEnvOrDefault("SPEECH_TTS_VOICE", ""),
		TTSLanguage:    getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		VoiceCatalog:   getEnvOrDefault("SPEECH_VOICE_CATALOG", ""),
		Timeout:        time.Duration(timeoutSeconds) * time.Second,
		Enabled:        appID != "" && accessToken != "",
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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

// parseOptionalDurationEnv 接受 "30s" 形式，纯数字按秒处理。
func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	if secs, err := strconv.Atoi(value); err == nil {
		d := time.Duration(secs) * time.Second
		return &d, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	if d < 0 {
		return nil, fmt.Errorf("invalid %s value %q: must not be negative", key, value)
	}
	return &d, nil
}
