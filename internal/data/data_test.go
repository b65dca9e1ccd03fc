package data

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/infra/llm"
)

func TestNewClassifierSelection(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	c, err := NewClassifier(ctx, ClassifierOptions{Provider: ProviderOpenAI}, log)
	require.NoError(t, err)
	assert.IsType(t, keywordClassifier{}, c, "no key falls back to keywords")

	c, err = NewClassifier(ctx, ClassifierOptions{Provider: ProviderOpenAI, LLM: llm.Config{APIKey: "k"}}, log)
	require.NoError(t, err)
	assert.IsType(t, &openAIClassifier{}, c)

	c, err = NewClassifier(ctx, ClassifierOptions{Provider: ProviderKeyword}, log)
	require.NoError(t, err)
	assert.IsType(t, keywordClassifier{}, c)

	_, err = NewClassifier(ctx, ClassifierOptions{Provider: ProviderGemini}, log)
	assert.ErrorContains(t, err, "API key is required")

	_, err = NewClassifier(ctx, ClassifierOptions{Provider: "magic"}, log)
	assert.Error(t, err)
}

func TestNewChannelSelection(t *testing.T) {
	log := zap.NewNop()

	_, err := NewChannel(ChannelOptions{Kind: ChannelFeishu}, log)
	assert.Error(t, err, "feishu needs credentials")

	ch, err := NewChannel(ChannelOptions{Kind: ChannelFeishu, FeishuAppID: "cli_a", FeishuAppSecret: "s"}, log)
	require.NoError(t, err)
	assert.Equal(t, "feishu", ch.Name())

	ch, err = NewChannel(ChannelOptions{Kind: ChannelWhatsApp}, log)
	require.NoError(t, err)
	assert.Equal(t, "whatsapp", ch.Name())

	_, err = NewChannel(ChannelOptions{Kind: "sms"}, log)
	assert.Error(t, err)
}

func TestNewRepositories_SQLiteKeyword(t *testing.T) {
	repos, err := NewRepositories(context.Background(), Options{
		Store:      StoreOptions{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "customers.db")},
		Channel:    ChannelOptions{Kind: ChannelWhatsApp},
		Classifier: ClassifierOptions{Provider: ProviderKeyword},
	}, nil)
	require.NoError(t, err)
	defer repos.Close()

	assert.NotNil(t, repos.Customers)
	assert.NotNil(t, repos.Channel)
	assert.NotNil(t, repos.Classifier)
	assert.Nil(t, repos.Events)

	_, err = NewCustomerStore(context.Background(), StoreOptions{Driver: "mongo"})
	assert.Error(t, err)
}
