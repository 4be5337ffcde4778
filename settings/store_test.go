package settings

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatui/db"
	"chatui/llm"
	"chatui/utils"
)

type fixture struct {
	store  *Store
	db     *db.DB
	logBuf *bytes.Buffer
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return newFixtureOn(t, database, secret)
}

func newFixtureOn(t *testing.T, database *db.DB, secret string) *fixture {
	t.Helper()
	cipher, err := utils.NewCipher(secret)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := utils.NewWriterLogger(&buf, "text", slog.LevelDebug)
	store := NewStore(database, cipher, logger, Defaults{
		OpenAIBaseURL:    "https://api.openai.com/v1",
		AnthropicBaseURL: "https://api.anthropic.com/v1",
		OllamaBaseURL:    llm.DefaultOllamaBaseURL,
	})
	return &fixture{store: store, db: database, logBuf: &buf}
}

func TestSaveEncryptsSecrets(t *testing.T) {
	f := newFixture(t, "secret")
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, db.Settings{
		OpenAIAPIKey:    "sk-openai",
		AnthropicAPIKey: "sk-ant",
		DefaultProvider: "anthropic",
	}))

	raw, err := f.db.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw.OpenAIAPIKey, utils.EncryptedPrefix))
	assert.True(t, strings.HasPrefix(raw.AnthropicAPIKey, utils.EncryptedPrefix))
	assert.NotContains(t, raw.OpenAIAPIKey, "sk-openai")

	got, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", got.OpenAIAPIKey)
	assert.Equal(t, "sk-ant", got.AnthropicAPIKey)
	assert.Equal(t, "anthropic", got.DefaultProvider)
}

func TestGetEmpty(t *testing.T) {
	f := newFixture(t, "secret")

	got, err := f.store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &db.Settings{}, got)
}

func TestGetWithRotatedKeyDegrades(t *testing.T) {
	f := newFixture(t, "old-secret")
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, db.Settings{OpenAIAPIKey: "sk-openai"}))

	rotated := newFixtureOn(t, f.db, "new-secret")
	got, err := rotated.store.Get(ctx)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got.OpenAIAPIKey, utils.EncryptedPrefix))
	assert.Contains(t, rotated.logBuf.String(), "field=openai_api_key")
}

func TestSaveRejectsUnknownDefaultProvider(t *testing.T) {
	f := newFixture(t, "secret")

	err := f.store.Save(context.Background(), db.Settings{DefaultProvider: "gemini"})
	var validationErr *utils.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestCredentials(t *testing.T) {
	f := newFixture(t, "secret")
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, db.Settings{
		OpenAIAPIKey:  "sk-openai",
		OpenAIBaseURL: "http://proxy.local/v1",
	}))

	openai, err := f.store.Credentials(ctx, llm.OpenAI)
	require.NoError(t, err)
	assert.Equal(t, llm.Credentials{APIKey: "sk-openai", BaseURL: "http://proxy.local/v1"}, openai)

	anthropic, err := f.store.Credentials(ctx, llm.Anthropic)
	require.NoError(t, err)
	assert.Equal(t, llm.Credentials{BaseURL: "https://api.anthropic.com/v1"}, anthropic)

	all, err := f.store.AllCredentials(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, llm.DefaultOllamaBaseURL, all[llm.Ollama].BaseURL)
}

func TestDefaultSelection(t *testing.T) {
	f := newFixture(t, "secret")
	ctx := context.Background()

	provider, model, err := f.store.DefaultSelection(ctx)
	require.NoError(t, err)
	assert.Equal(t, "openai", provider)
	assert.Equal(t, "gpt-3.5-turbo", model)

	require.NoError(t, f.store.Save(ctx, db.Settings{DefaultProvider: "ollama"}))
	provider, model, err = f.store.DefaultSelection(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ollama", provider)
	assert.Equal(t, "llama2", model)
}

func TestLegacyCredentialsAreDecryptedAndUpgraded(t *testing.T) {
	f := newFixture(t, "test-secret")
	ctx := context.Background()

	// As written by CryptoJS.AES.encrypt(key, "test-secret") in earlier releases
	require.NoError(t, f.db.SaveSettings(ctx, &db.Settings{
		OpenAIAPIKey:    "U2FsdGVkX18BAgMEBQYHCDBOt2B9vRH6wIenayiFP8gTAfYQf74ejVodibKjli41",
		AnthropicAPIKey: "U2FsdGVkX18REhMUFRYXGGw6DDQTImdD9b65ZTKVjSk=",
		DefaultProvider: "openai",
	}))

	creds, err := f.store.Credentials(ctx, llm.OpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-legacy-openai-key", creds.APIKey)

	got, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-legacy-openai-key", got.OpenAIAPIKey)
	assert.Equal(t, "sk-ant-legacy", got.AnthropicAPIKey)
	assert.Contains(t, f.logBuf.String(), "legacy format")
	assert.NotContains(t, f.logBuf.String(), "failed to decrypt")

	require.NoError(t, f.store.Save(ctx, *got))
	raw, err := f.db.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw.OpenAIAPIKey, utils.EncryptedPrefix))
	assert.True(t, strings.HasPrefix(raw.AnthropicAPIKey, utils.EncryptedPrefix))

	again, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-legacy-openai-key", again.OpenAIAPIKey)
}

func TestLegacyCredentialWithWrongSecretDegrades(t *testing.T) {
	f := newFixture(t, "other-secret")
	ctx := context.Background()
	stored := "U2FsdGVkX18BAgMEBQYHCDBOt2B9vRH6wIenayiFP8gTAfYQf74ejVodibKjli41"
	require.NoError(t, f.db.SaveSettings(ctx, &db.Settings{OpenAIAPIKey: stored}))

	got, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, stored, got.OpenAIAPIKey)
	assert.Contains(t, f.logBuf.String(), "field=openai_api_key")
	assert.Contains(t, f.logBuf.String(), "failed to decrypt")
}
