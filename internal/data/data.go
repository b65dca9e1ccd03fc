package data

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/biz/repo"
	"github.com/reviewharvest/review-bridge/internal/infra/feishu"
	"github.com/reviewharvest/review-bridge/internal/infra/llm"
	"github.com/reviewharvest/review-bridge/internal/infra/whatsapp"
)

// Store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Channel kinds
const (
	ChannelFeishu   = "feishu"
	ChannelWhatsApp = "whatsapp"
)

// Classifier providers
const (
	ProviderOpenAI  = "openai"
	ProviderGemini  = "gemini"
	ProviderKeyword = "keyword"
)

// StoreOptions selects the customer store
type StoreOptions struct {
	Driver string
	Path   string // sqlite file
	DSN    string // postgres connection string
}

// ChannelOptions selects the messaging channel
type ChannelOptions struct {
	Kind            string
	FeishuAppID     string
	FeishuAppSecret string
	Feishu          FeishuOptions
	WhatsApp        whatsapp.Options
}

// ClassifierOptions selects the sentiment classifier
type ClassifierOptions struct {
	Provider string
	LLM      llm.Config
	Gemini   GeminiOptions
}

// Options configures every repository
type Options struct {
	Store      StoreOptions
	Channel    ChannelOptions
	Classifier ClassifierOptions
	Events     AMQPOptions // URL empty disables publishing
}

// Repositories contains all repositories
type Repositories struct {
	Customers  repo.CustomerRepo
	Channel    repo.Channel
	Classifier repo.Classifier
	Events     repo.EventPublisher // nil when publishing is off
}

// NewRepositories creates all repositories
func NewRepositories(ctx context.Context, opts Options, log *zap.Logger) (*Repositories, error) {
	if log == nil {
		log = zap.NewNop()
	}

	customers, err := NewCustomerStore(ctx, opts.Store)
	if err != nil {
		return nil, err
	}

	channel, err := NewChannel(opts.Channel, log)
	if err != nil {
		customers.Close()
		return nil, err
	}

	classifier, err := NewClassifier(ctx, opts.Classifier, log)
	if err != nil {
		customers.Close()
		return nil, err
	}

	repos := &Repositories{
		Customers:  customers,
		Channel:    channel,
		Classifier: classifier,
	}

	// Events are best effort; the campaign runs without them
	if opts.Events.URL != "" {
		events, err := NewAMQPPublisher(ctx, opts.Events, log)
		if err != nil {
			log.Warn("event publishing disabled", zap.Error(err))
		} else {
			repos.Events = events
		}
	}
	return repos, nil
}

// NewCustomerStore opens the configured customer store
func NewCustomerStore(ctx context.Context, opts StoreOptions) (repo.CustomerRepo, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return NewSQLiteCustomerRepo(opts.Path)
	case DriverPostgres:
		return NewPostgresCustomerRepo(ctx, opts.DSN)
	}
	return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
}

// NewChannel builds the configured channel; nothing connects until Open
func NewChannel(opts ChannelOptions, log *zap.Logger) (repo.Channel, error) {
	switch opts.Kind {
	case ChannelFeishu, "":
		if opts.FeishuAppID == "" || opts.FeishuAppSecret == "" {
			return nil, errors.New("feishu channel needs an app id and secret")
		}
		client := feishu.NewClient(opts.FeishuAppID, opts.FeishuAppSecret, log)
		return NewFeishuChannel(client, opts.Feishu, log), nil
	case ChannelWhatsApp:
		return NewWhatsAppChannel(opts.WhatsApp, log), nil
	}
	return nil, fmt.Errorf("unknown channel %q", opts.Kind)
}

// NewClassifier builds the configured classifier.
// The OpenAI-compatible provider without a key falls back to keywords.
func NewClassifier(ctx context.Context, opts ClassifierOptions, log *zap.Logger) (repo.Classifier, error) {
	switch opts.Provider {
	case ProviderOpenAI, "":
		if opts.LLM.APIKey == "" {
			log.Warn("no LLM API key set, sentiment uses keyword heuristics")
			return NewKeywordClassifier(), nil
		}
		return NewOpenAIClassifier(llm.NewClient(opts.LLM), log), nil
	case ProviderGemini:
		return NewGeminiClassifier(ctx, opts.Gemini, log)
	case ProviderKeyword:
		return NewKeywordClassifier(), nil
	}
	return nil, fmt.Errorf("unknown classifier provider %q", opts.Provider)
}

// Close releases the store and the event connection
func (r *Repositories) Close() error {
	var errs []error
	if r.Events != nil {
		errs = append(errs, r.Events.Close())
	}
	if r.Customers != nil {
		errs = append(errs, r.Customers.Close())
	}
	return errors.Join(errs...)
}
