package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/reviewharvest/review-bridge/internal/biz"
	"github.com/reviewharvest/review-bridge/internal/biz/usecase"
	"github.com/reviewharvest/review-bridge/internal/data"
	"github.com/reviewharvest/review-bridge/internal/infra/llm"
	"github.com/reviewharvest/review-bridge/internal/infra/whatsapp"
)

// PlaceholderReviewLink is the review link used until a real place id is configured
const PlaceholderReviewLink = "https://search.google.com/local/writereview?placeid=YOUR_PLACE_ID"

// Config represents application configuration
type Config struct {
	Channel  ChannelConfig
	Store    StoreConfig
	Campaign CampaignConfig
	Pacing   PacingConfig
	LLM      LLMConfig
	Events   EventsConfig
	API      APIConfig

	// Link sent to happy customers
	ReviewLink string

	// Message templates (loaded from YAML)
	Templates *TemplatesConfig

	Debug bool
}

// ChannelConfig contains messaging channel configuration
type ChannelConfig struct {
	Kind string // feishu or whatsapp

	FeishuAppID         string
	FeishuAppSecret     string
	FeishuReceiveIDType string
	FeishuEvents        bool

	WhatsAppProfileDir string
	WhatsAppHeadless   bool
}

// StoreConfig contains customer store configuration
type StoreConfig struct {
	Driver string // sqlite or postgres
	DBPath string
	DSN    string
}

// CampaignConfig contains campaign run configuration
type CampaignConfig struct {
	ReplyCeilingSeconds int
	PollSeconds         int
	Concurrency         int
	SendRetries         int
	MaxRequestFailures  int
	StoreRetries        int
	RecheckTimedOut     bool
	ScheduleMinutes     int // serve runs a campaign this often, 0 disables
	RunLeaseSeconds     int // store lease held by the running process
}

// PacingConfig contains send pacing configuration
type PacingConfig struct {
	MinDelaySeconds int
	MaxDelaySeconds int
	MaxPerHour      int
	MaxPerDay       int
}

// LLMConfig contains sentiment classifier configuration
type LLMConfig struct {
	Provider       string // openai, gemini or keyword
	APIKey         string
	BaseURL        string
	Model          string
	GeminiAPIKey   string
	GeminiModel    string
	GeminiBaseURL  string
	TimeoutSeconds int
}

// EventsConfig contains event publishing configuration
type EventsConfig struct {
	AMQPURL               string
	Exchange              string
	PublishTimeoutSeconds int
}

// APIConfig contains HTTP API configuration
type APIConfig struct {
	Addr      string
	BridgeURL string // Where the MCP binary finds the API
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".review-bridge")

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = filepath.Join(baseDir, "customers.db")
	}
	profileDir := os.Getenv("WHATSAPP_PROFILE_DIR")
	if profileDir == "" {
		profileDir = filepath.Join(baseDir, "whatsapp")
	}

	// Load templates from YAML
	templates, err := LoadTemplatesConfig(os.Getenv("TEMPLATES_CONFIG_PATH"))
	if err != nil {
		templates = DefaultTemplatesConfig()
		templates.LoadError = err
	}

	return &Config{
		Channel: ChannelConfig{
			Kind:                strings.ToLower(envString("CHANNEL", data.ChannelFeishu)),
			FeishuAppID:         os.Getenv("FEISHU_APP_ID"),
			FeishuAppSecret:     os.Getenv("FEISHU_APP_SECRET"),
			FeishuReceiveIDType: envString("FEISHU_RECEIVE_ID_TYPE", "open_id"),
			FeishuEvents:        envBool("FEISHU_EVENTS", true),
			WhatsAppProfileDir:  profileDir,
			WhatsAppHeadless:    envBool("WHATSAPP_HEADLESS", false),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(envString("STORE_DRIVER", data.DriverSQLite)),
			DBPath: dbPath,
			DSN:    os.Getenv("DATABASE_URL"),
		},
		Campaign: CampaignConfig{
			ReplyCeilingSeconds: envInt("REPLY_CEILING_SECONDS", 300),
			PollSeconds:         envInt("REPLY_POLL_SECONDS", 3),
			Concurrency:         envInt("CAMPAIGN_CONCURRENCY", 1),
			SendRetries:         envInt("SEND_RETRIES", 2),
			MaxRequestFailures:  envInt("MAX_REQUEST_FAILURES", 3),
			StoreRetries:        envInt("STORE_RETRIES", 3),
			RecheckTimedOut:     envBool("RECHECK_TIMED_OUT", true),
			ScheduleMinutes:     envInt("SCHEDULE_MINUTES", 0),
			RunLeaseSeconds:     envInt("RUN_LEASE_SECONDS", 120),
		},
		Pacing: PacingConfig{
			MinDelaySeconds: envInt("MIN_DELAY_SECONDS", 40),
			MaxDelaySeconds: envInt("MAX_DELAY_SECONDS", 120),
			MaxPerHour:      envInt("MAX_MESSAGES_PER_HOUR", 10),
			MaxPerDay:       envInt("MAX_MESSAGES_PER_DAY", 50),
		},
		LLM: LLMConfig{
			Provider:       strings.ToLower(envString("LLM_PROVIDER", data.ProviderOpenAI)),
			APIKey:         os.Getenv("OPENROUTER_API_KEY"),
			BaseURL:        envString("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:          envString("LLM_MODEL", "meta-llama/llama-3.2-3b-instruct:free"),
			GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
			GeminiModel:    envString("GEMINI_MODEL", "gemini-2.0-flash"),
			GeminiBaseURL:  os.Getenv("GEMINI_BASE_URL"),
			TimeoutSeconds: envInt("LLM_TIMEOUT_SECONDS", 15),
		},
		Events: EventsConfig{
			AMQPURL:               os.Getenv("AMQP_URL"),
			Exchange:              envString("AMQP_EXCHANGE", "review.campaign"),
			PublishTimeoutSeconds: envInt("AMQP_PUBLISH_TIMEOUT_SECONDS", 5),
		},
		API: APIConfig{
			Addr:      envString("API_ADDR", "127.0.0.1:9876"),
			BridgeURL: envString("BRIDGE_API_URL", "http://127.0.0.1:9876"),
		},
		ReviewLink: envString("GOOGLE_REVIEW_LINK", PlaceholderReviewLink),
		Templates:  templates,
		Debug:      os.Getenv("DEBUG") == "true",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Channel.Kind {
	case data.ChannelFeishu:
		if c.Channel.FeishuAppID == "" || c.Channel.FeishuAppSecret == "" {
			return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "required for the feishu channel"}
		}
	case data.ChannelWhatsApp:
	default:
		return &ConfigError{Field: "CHANNEL", Message: "must be feishu or whatsapp, got " + strconv.Quote(c.Channel.Kind)}
	}

	if err := c.ValidateStore(); err != nil {
		return err
	}

	switch c.LLM.Provider {
	case data.ProviderOpenAI, data.ProviderKeyword:
	case data.ProviderGemini:
		if c.LLM.GeminiAPIKey == "" {
			return &ConfigError{Field: "GEMINI_API_KEY", Message: "required for the gemini provider"}
		}
	default:
		return &ConfigError{Field: "LLM_PROVIDER", Message: "must be openai, gemini or keyword, got " + strconv.Quote(c.LLM.Provider)}
	}

	if c.Campaign.ReplyCeilingSeconds <= 0 {
		return &ConfigError{Field: "REPLY_CEILING_SECONDS", Message: "must be positive"}
	}
	if c.Campaign.PollSeconds <= 0 {
		return &ConfigError{Field: "REPLY_POLL_SECONDS", Message: "must be positive"}
	}
	if c.Campaign.Concurrency < 1 {
		return &ConfigError{Field: "CAMPAIGN_CONCURRENCY", Message: "must be at least 1"}
	}
	if c.Pacing.MinDelaySeconds < 0 || c.Pacing.MaxDelaySeconds < c.Pacing.MinDelaySeconds {
		return &ConfigError{Field: "MIN_DELAY_SECONDS/MAX_DELAY_SECONDS", Message: "need 0 <= min <= max"}
	}
	if c.Templates != nil && c.Templates.LoadError != nil {
		return &ConfigError{Field: "TEMPLATES_CONFIG_PATH", Message: c.Templates.LoadError.Error()}
	}
	return nil
}

// ValidateStore validates only the customer store settings,
// enough for the customer administration commands
func (c *Config) ValidateStore() error {
	switch c.Store.Driver {
	case data.DriverSQLite:
		if c.Store.DBPath == "" {
			return &ConfigError{Field: "DB_PATH", Message: "required"}
		}
	case data.DriverPostgres:
		if c.Store.DSN == "" {
			return &ConfigError{Field: "DATABASE_URL", Message: "required for the postgres store"}
		}
	default:
		return &ConfigError{Field: "STORE_DRIVER", Message: "must be sqlite or postgres, got " + strconv.Quote(c.Store.Driver)}
	}
	return nil
}

// Warnings lists settings that work but are probably not what was meant
func (c *Config) Warnings() []string {
	var warnings []string
	if c.LLM.Provider == data.ProviderOpenAI && c.LLM.APIKey == "" {
		warnings = append(warnings, "OPENROUTER_API_KEY not set, sentiment analysis uses keyword heuristics")
	}
	if c.ReviewLink == "" || strings.Contains(c.ReviewLink, "YOUR_PLACE_ID") {
		warnings = append(warnings, "GOOGLE_REVIEW_LINK contains a placeholder, set your Google place id")
	}
	if c.Channel.Kind == data.ChannelWhatsApp && c.Channel.WhatsAppHeadless {
		warnings = append(warnings, "WHATSAPP_HEADLESS is on, the QR login cannot be scanned on first use")
	}
	return warnings
}

// ToRepositoryOptions converts to repository options
func (c *Config) ToRepositoryOptions() data.Options {
	timeout := time.Duration(c.LLM.TimeoutSeconds) * time.Second
	return data.Options{
		Store: data.StoreOptions{
			Driver: c.Store.Driver,
			Path:   c.Store.DBPath,
			DSN:    c.Store.DSN,
		},
		Channel: data.ChannelOptions{
			Kind:            c.Channel.Kind,
			FeishuAppID:     c.Channel.FeishuAppID,
			FeishuAppSecret: c.Channel.FeishuAppSecret,
			Feishu: data.FeishuOptions{
				ReceiveIDType: c.Channel.FeishuReceiveIDType,
				Events:        c.Channel.FeishuEvents,
			},
			WhatsApp: whatsapp.Options{
				ProfileDir: c.Channel.WhatsAppProfileDir,
				Headless:   c.Channel.WhatsAppHeadless,
			},
		},
		Classifier: data.ClassifierOptions{
			Provider: c.LLM.Provider,
			LLM: llm.Config{
				APIKey:  c.LLM.APIKey,
				BaseURL: c.LLM.BaseURL,
				Model:   c.LLM.Model,
				Timeout: timeout,
			},
			Gemini: data.GeminiOptions{
				APIKey:  c.LLM.GeminiAPIKey,
				Model:   c.LLM.GeminiModel,
				BaseURL: c.LLM.GeminiBaseURL,
				Timeout: timeout,
			},
		},
		Events: data.AMQPOptions{
			URL:            c.Events.AMQPURL,
			Exchange:       c.Events.Exchange,
			PublishTimeout: time.Duration(c.Events.PublishTimeoutSeconds) * time.Second,
		},
	}
}

// ToOrchestratorConfig converts to orchestrator configuration
func (c *Config) ToOrchestratorConfig() usecase.OrchestratorConfig {
	cfg := usecase.DefaultOrchestratorConfig()
	cfg.ReplyCeiling = time.Duration(c.Campaign.ReplyCeilingSeconds) * time.Second
	cfg.MaxRequestFailures = c.Campaign.MaxRequestFailures
	cfg.RecheckTimedOut = c.Campaign.RecheckTimedOut
	cfg.SendRetry.Retries = c.Campaign.SendRetries
	cfg.StoreRetry.Retries = c.Campaign.StoreRetries
	return cfg
}

// ToBizOptions converts to the usecase layer options
func (c *Config) ToBizOptions() biz.Options {
	return biz.Options{
		Orchestrator: c.ToOrchestratorConfig(),
		Runner:       c.ToRunnerConfig(),
		Gate:         c.ToGateConfig(),
		Templates:    c.ToMessageTemplates(),
		PollInterval: c.PollInterval(),
	}
}

// ToRunnerConfig converts to runner configuration
func (c *Config) ToRunnerConfig() usecase.RunnerConfig {
	return usecase.RunnerConfig{
		Concurrency:     c.Campaign.Concurrency,
		RecheckTimedOut: c.Campaign.RecheckTimedOut,
		LeaseTTL:        time.Duration(c.Campaign.RunLeaseSeconds) * time.Second,
	}
}

// ToGateConfig converts to send pacing configuration
func (c *Config) ToGateConfig() usecase.GateConfig {
	return usecase.GateConfig{
		MinDelay:   time.Duration(c.Pacing.MinDelaySeconds) * time.Second,
		MaxDelay:   time.Duration(c.Pacing.MaxDelaySeconds) * time.Second,
		MaxPerHour: c.Pacing.MaxPerHour,
		MaxPerDay:  c.Pacing.MaxPerDay,
	}
}

// PollInterval is the reply poll interval
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Campaign.PollSeconds) * time.Second
}

// ScheduleInterval is the serve-mode campaign interval, 0 when disabled
func (c *Config) ScheduleInterval() time.Duration {
	if c.Campaign.ScheduleMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Campaign.ScheduleMinutes) * time.Minute
}

// ToMessageTemplates converts to the outbound message templates
func (c *Config) ToMessageTemplates() usecase.MessageTemplates {
	t := usecase.DefaultMessageTemplates
	if c.Templates != nil {
		t.Request = c.Templates.Messages.Request
		t.Redirect = c.Templates.Messages.Redirect
		t.ThankYou = c.Templates.Messages.ThankYou
		t.DefaultProduct = c.Templates.Messages.DefaultProduct
	}
	t.ReviewLink = c.ReviewLink
	return t
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func envString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}
