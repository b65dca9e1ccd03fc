package conf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/data"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CHANNEL", "")
	t.Setenv("DB_PATH", "")
	t.Setenv("GOOGLE_REVIEW_LINK", "")
	t.Setenv("TEMPLATES_CONFIG_PATH", "")

	cfg := LoadFromEnv()
	assert.Equal(t, data.ChannelFeishu, cfg.Channel.Kind)
	assert.Equal(t, data.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "customers.db", filepath.Base(cfg.Store.DBPath))
	assert.Equal(t, 300, cfg.Campaign.ReplyCeilingSeconds)
	assert.True(t, cfg.Campaign.RecheckTimedOut)
	assert.Equal(t, PlaceholderReviewLink, cfg.ReviewLink)

	gate := cfg.ToGateConfig()
	assert.Equal(t, 40*time.Second, gate.MinDelay)
	assert.Equal(t, 120*time.Second, gate.MaxDelay)
	assert.Equal(t, 10, gate.MaxPerHour)
	assert.Equal(t, 50, gate.MaxPerDay)

	orch := cfg.ToOrchestratorConfig()
	assert.Equal(t, 5*time.Minute, orch.ReplyCeiling)
	assert.Equal(t, 3, orch.MaxRequestFailures)
	assert.Equal(t, 2, orch.SendRetry.Retries)

	assert.Equal(t, 3*time.Second, cfg.PollInterval())
	assert.Zero(t, cfg.ScheduleInterval())
	assert.Equal(t, 2*time.Minute, cfg.ToRunnerConfig().LeaseTTL)
	assert.Equal(t, 5*time.Second, cfg.ToRepositoryOptions().Events.PublishTimeout)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("CHANNEL", "WhatsApp")
	t.Setenv("REPLY_CEILING_SECONDS", "60")
	t.Setenv("CAMPAIGN_CONCURRENCY", "4")
	t.Setenv("RECHECK_TIMED_OUT", "false")
	t.Setenv("MAX_MESSAGES_PER_HOUR", "not-a-number")
	t.Setenv("SCHEDULE_MINUTES", "30")
	t.Setenv("RUN_LEASE_SECONDS", "45")
	t.Setenv("GOOGLE_REVIEW_LINK", "https://g.page/r/abc/review")

	cfg := LoadFromEnv()
	assert.Equal(t, data.ChannelWhatsApp, cfg.Channel.Kind)
	assert.Equal(t, time.Minute, cfg.ToOrchestratorConfig().ReplyCeiling)
	assert.Equal(t, 4, cfg.ToRunnerConfig().Concurrency)
	assert.False(t, cfg.ToRunnerConfig().RecheckTimedOut)
	assert.Equal(t, 10, cfg.Pacing.MaxPerHour, "unparsable values keep the default")
	assert.Equal(t, 30*time.Minute, cfg.ScheduleInterval())
	assert.Equal(t, 45*time.Second, cfg.ToRunnerConfig().LeaseTTL)

	templates := cfg.ToMessageTemplates()
	assert.Equal(t, "https://g.page/r/abc/review", templates.ReviewLink)
	assert.NotContains(t, cfg.Warnings(), "GOOGLE_REVIEW_LINK contains a placeholder, set your Google place id")
}

func validConfig() *Config {
	return &Config{
		Channel:   ChannelConfig{Kind: data.ChannelWhatsApp},
		Store:     StoreConfig{Driver: data.DriverSQLite, DBPath: "customers.db"},
		Campaign:  CampaignConfig{ReplyCeilingSeconds: 300, PollSeconds: 3, Concurrency: 1},
		Pacing:    PacingConfig{MinDelaySeconds: 40, MaxDelaySeconds: 120},
		LLM:       LLMConfig{Provider: data.ProviderKeyword},
		Templates: DefaultTemplatesConfig(),
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"feishu without credentials", func(c *Config) { c.Channel.Kind = data.ChannelFeishu }, "FEISHU_APP_ID/FEISHU_APP_SECRET"},
		{"unknown channel", func(c *Config) { c.Channel.Kind = "sms" }, "CHANNEL"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = data.DriverPostgres }, "DATABASE_URL"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "STORE_DRIVER"},
		{"gemini without key", func(c *Config) { c.LLM.Provider = data.ProviderGemini }, "GEMINI_API_KEY"},
		{"zero ceiling", func(c *Config) { c.Campaign.ReplyCeilingSeconds = 0 }, "REPLY_CEILING_SECONDS"},
		{"no concurrency", func(c *Config) { c.Campaign.Concurrency = 0 }, "CAMPAIGN_CONCURRENCY"},
		{"min above max", func(c *Config) { c.Pacing.MinDelaySeconds = 200 }, "MIN_DELAY_SECONDS/MAX_DELAY_SECONDS"},
		{"bad template file", func(c *Config) { c.Templates.LoadError = errors.New("boom") }, "TEMPLATES_CONFIG_PATH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestWarnings(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Provider = data.ProviderOpenAI
	cfg.ReviewLink = PlaceholderReviewLink
	cfg.Channel.WhatsAppHeadless = true
	assert.Len(t, cfg.Warnings(), 3)

	cfg.LLM.APIKey = "key"
	cfg.ReviewLink = "https://g.page/r/abc/review"
	cfg.Channel.WhatsAppHeadless = false
	assert.Empty(t, cfg.Warnings())
}

func TestLoadTemplatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("messages:\n  request: \"Hey {name}, how is the {product}?\"\n"), 0644))

	tpl, err := LoadTemplatesConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, tpl.Source)
	assert.Equal(t, "Hey {name}, how is the {product}?", tpl.Messages.Request)
	assert.Equal(t, DefaultTemplatesConfig().Messages.ThankYou, tpl.Messages.ThankYou, "empty keys get defaults")

	cfg := validConfig()
	cfg.Templates = tpl
	cfg.ReviewLink = "https://g.page/r/abc/review"
	rendered := cfg.ToMessageTemplates().RenderRequest(&domain.Customer{Name: "Amira", Product: "desk lamp"})
	assert.Equal(t, "Hey Amira, how is the desk lamp?", rendered)

	_, err = LoadTemplatesConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("messages: [unterminated"), 0644))
	_, err = LoadTemplatesConfig(broken)
	assert.Error(t, err)
}
