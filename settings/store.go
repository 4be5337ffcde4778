// Package settings keeps provider credentials and defaults, encrypting
// secrets before they reach the database.
package settings

import (
	"context"

	"chatui/db"
	"chatui/llm"
	"chatui/utils"
)

// Defaults are the provider endpoints used when the stored settings leave
// a base URL empty
type Defaults struct {
	OpenAIBaseURL    string
	AnthropicBaseURL string
	OllamaBaseURL    string
}

// Store is the credential store
type Store struct {
	db       *db.DB
	cipher   *utils.Cipher
	logger   *utils.Logger
	defaults Defaults
}

// NewStore creates a credential store over database
func NewStore(database *db.DB, cipher *utils.Cipher, logger *utils.Logger, defaults Defaults) *Store {
	return &Store{
		db:       database,
		cipher:   cipher,
		logger:   logger,
		defaults: defaults,
	}
}

// Get returns the settings with secrets decrypted. Secrets that cannot be
// decrypted are returned as stored and logged.
func (s *Store) Get(ctx context.Context) (*db.Settings, error) {
	stored, err := s.db.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	stored.OpenAIAPIKey = s.reveal("openai_api_key", stored.OpenAIAPIKey)
	stored.AnthropicAPIKey = s.reveal("anthropic_api_key", stored.AnthropicAPIKey)
	return stored, nil
}

func (s *Store) reveal(field, stored string) string {
	r := s.cipher.Reveal(stored)
	if r.Degraded {
		s.logger.Warn("failed to decrypt stored credential, returning it unchanged",
			"field", field,
			"error", r.Err,
		)
	}
	if r.Legacy {
		s.logger.Info("decrypted credential in legacy format, it is re-encrypted on the next save", "field", field)
	}
	return r.Value
}

// Save overwrites the settings. Every field is replaced; secrets are
// encrypted first.
func (s *Store) Save(ctx context.Context, in db.Settings) error {
	if in.DefaultProvider != "" {
		if _, err := llm.ParseProviderKind(in.DefaultProvider); err != nil {
			return utils.NewValidationError("default_provider", "%v", err)
		}
	}

	var err error
	if in.OpenAIAPIKey, err = s.cipher.Encrypt(in.OpenAIAPIKey); err != nil {
		return utils.WrapError(err, "failed to encrypt openai_api_key")
	}
	if in.AnthropicAPIKey, err = s.cipher.Encrypt(in.AnthropicAPIKey); err != nil {
		return utils.WrapError(err, "failed to encrypt anthropic_api_key")
	}

	return s.db.SaveSettings(ctx, &in)
}

// Credentials returns the decrypted view a provider needs for one call
func (s *Store) Credentials(ctx context.Context, kind llm.ProviderKind) (llm.Credentials, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return llm.Credentials{}, err
	}
	return s.credentialsFrom(current, kind), nil
}

// AllCredentials returns credentials for every supported provider from a
// single settings read
func (s *Store) AllCredentials(ctx context.Context) (map[llm.ProviderKind]llm.Credentials, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	creds := make(map[llm.ProviderKind]llm.Credentials, len(llm.Kinds()))
	for _, kind := range llm.Kinds() {
		creds[kind] = s.credentialsFrom(current, kind)
	}
	return creds, nil
}

func (s *Store) credentialsFrom(current *db.Settings, kind llm.ProviderKind) llm.Credentials {
	switch kind {
	case llm.OpenAI:
		return llm.Credentials{APIKey: current.OpenAIAPIKey, BaseURL: orDefault(current.OpenAIBaseURL, s.defaults.OpenAIBaseURL)}
	case llm.Anthropic:
		return llm.Credentials{APIKey: current.AnthropicAPIKey, BaseURL: orDefault(current.AnthropicBaseURL, s.defaults.AnthropicBaseURL)}
	case llm.Ollama:
		return llm.Credentials{BaseURL: orDefault(current.OllamaBaseURL, s.defaults.OllamaBaseURL)}
	}
	return llm.Credentials{}
}

// DefaultSelection returns the provider and model new conversations use
// when the caller names none
func (s *Store) DefaultSelection(ctx context.Context) (provider, model string, err error) {
	current, err := s.db.GetSettings(ctx)
	if err != nil {
		return "", "", err
	}

	provider = orDefault(current.DefaultProvider, db.DefaultProvider)
	model = current.DefaultModel
	if model == "" {
		if kind, err := llm.ParseProviderKind(provider); err == nil {
			model = llm.DefaultModel(kind)
		} else {
			model = db.DefaultModel
		}
	}
	return provider, model, nil
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
