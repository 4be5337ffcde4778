// Package chat sequences chat turns: it persists the user's message, calls
// the conversation's provider with the full history, and persists the reply.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"chatui/db"
	"chatui/llm"
	"chatui/metrics"
	"chatui/settings"
	"chatui/utils"
)

// Options bound outbound provider calls
type Options struct {
	Timeout        time.Duration // per completion, 0 = no extra deadline
	CatalogTimeout time.Duration // per model listing, 0 = no extra deadline
	RateLimit      float64       // completions per second, 0 = unlimited
	RateBurst      int
}

// Service is the chat orchestrator
type Service struct {
	db       *db.DB
	settings *settings.Store
	registry *llm.Registry
	metrics  *metrics.Metrics
	logger   *utils.Logger
	limiter  *rate.Limiter
	opts     Options
}

// NewService creates a chat orchestrator. m may be nil.
func NewService(database *db.DB, store *settings.Store, registry *llm.Registry, m *metrics.Metrics, logger *utils.Logger, opts Options) *Service {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Service{
		db:       database,
		settings: store,
		registry: registry,
		metrics:  m,
		logger:   logger,
		limiter:  limiter,
		opts:     opts,
	}
}

// Turn is the pair of messages persisted by one successful Send
type Turn struct {
	UserMessage      *db.Message `json:"user_message"`
	AssistantMessage *db.Message `json:"assistant_message"`
}

// Send runs one chat turn in the conversation. The user message stays
// persisted when a later step fails.
func (s *Service) Send(ctx context.Context, conversationID int64, content string) (*Turn, error) {
	if strings.TrimSpace(content) == "" {
		return nil, utils.NewValidationError("content", "must not be empty")
	}

	conv, err := s.db.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	userTokens := utils.CountTokens(content)
	userMsg, err := s.db.CreateMessage(ctx, db.NewMessage{
		ConversationID: conv.ID,
		Role:           llm.RoleUser,
		Content:        content,
		TokensUsed:     userTokens,
	})
	if err != nil {
		return nil, stepError(StepPersistUserMessage, err)
	}
	s.metrics.AddTokens(conv.Provider, llm.RoleUser, userTokens)

	history, err := s.db.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, stepError(StepCallProvider, err)
	}

	reply, err := s.complete(ctx, conv.Provider, conv.Model, toLLMMessages(history))
	if err != nil {
		s.logger.Error("chat turn failed",
			"conversation_id", conv.ID,
			"step", StepCallProvider,
			"provider", conv.Provider,
			"model", conv.Model,
			"error", err,
		)
		return nil, stepError(StepCallProvider, err)
	}

	replyTokens := utils.CountTokens(reply)
	assistantMsg, err := s.db.CreateMessage(ctx, db.NewMessage{
		ConversationID: conv.ID,
		Role:           llm.RoleAssistant,
		Content:        reply,
		Provider:       conv.Provider,
		Model:          conv.Model,
		TokensUsed:     replyTokens,
	})
	if err != nil {
		s.logger.Error("chat turn failed",
			"conversation_id", conv.ID,
			"step", StepPersistAssistantMessage,
			"error", err,
		)
		return nil, stepError(StepPersistAssistantMessage, err)
	}
	s.metrics.AddTokens(conv.Provider, llm.RoleAssistant, replyTokens)

	s.logger.Info("chat turn completed",
		"conversation_id", conv.ID,
		"provider", conv.Provider,
		"model", conv.Model,
		"history", len(history),
		"reply_tokens", replyTokens,
	)

	return &Turn{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// Complete sends messages to provider without touching any conversation
func (s *Service) Complete(ctx context.Context, provider, model string, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", utils.NewValidationError("messages", "must not be empty")
	}
	for i, msg := range messages {
		if err := validateRole(msg.Role); err != nil {
			err.Field = fmt.Sprintf("messages[%d].role", i)
			return "", err
		}
	}

	return s.complete(ctx, provider, model, messages)
}

// complete makes one completion call and records it
func (s *Service) complete(ctx context.Context, provider, model string, messages []llm.Message) (string, error) {
	var reply string
	err := s.withProvider(ctx, provider, func(ctx context.Context, p llm.Provider) error {
		start := time.Now()
		var err error
		reply, err = p.Complete(ctx, messages, model)
		s.metrics.ObserveCompletion(string(p.Kind()), err, time.Since(start))
		return err
	})
	return reply, err
}

// withProvider resolves provider with fresh credentials and runs fn under
// the rate limiter and the completion timeout
func (s *Service) withProvider(ctx context.Context, provider string, fn func(ctx context.Context, p llm.Provider) error) error {
	kind, err := llm.ParseProviderKind(provider)
	if err != nil {
		return err
	}
	creds, err := s.settings.Credentials(ctx, kind)
	if err != nil {
		return err
	}
	p, err := s.registry.Provider(string(kind), creds)
	if err != nil {
		return err
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return &llm.ProviderError{Provider: p.Kind(), Message: "rate limit wait aborted", Err: err}
	}

	return fn(ctx, p)
}

// GenerateTitle asks the conversation's provider for a title and stores it
func (s *Service) GenerateTitle(ctx context.Context, conversationID int64) (*db.Conversation, error) {
	conv, err := s.db.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	history, err := s.db.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, utils.NewValidationError("messages", "conversation has no messages to title")
	}

	var title string
	err = s.withProvider(ctx, conv.Provider, func(ctx context.Context, p llm.Provider) error {
		var err error
		title, err = llm.GenerateTitle(ctx, p, toLLMMessages(history), conv.Model)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.UpdateConversationTitle(ctx, conv.ID, title); err != nil {
		return nil, err
	}
	conv.Title = title
	return conv, nil
}

// ListModels lists one provider's models with the stored credentials
func (s *Service) ListModels(ctx context.Context, provider string) (llm.ModelList, error) {
	kind, err := llm.ParseProviderKind(provider)
	if err != nil {
		return llm.ModelList{}, err
	}
	creds, err := s.settings.Credentials(ctx, kind)
	if err != nil {
		return llm.ModelList{}, err
	}
	return s.listModels(ctx, string(kind), creds)
}

func (s *Service) listModels(ctx context.Context, provider string, creds llm.Credentials) (llm.ModelList, error) {
	if s.opts.CatalogTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CatalogTimeout)
		defer cancel()
	}

	list, err := s.registry.ListModels(ctx, provider, creds)
	if err != nil {
		return llm.ModelList{}, err
	}
	if list.Fallback {
		s.metrics.CatalogFallback(provider)
		s.logger.Warn("serving fallback model list", "provider", provider, "error", list.Err)
	}
	return list, nil
}

// ListAllModels lists every provider's models concurrently
func (s *Service) ListAllModels(ctx context.Context) (map[llm.ProviderKind]llm.ModelList, error) {
	creds, err := s.settings.AllCredentials(ctx)
	if err != nil {
		return nil, err
	}

	kinds := llm.Kinds()
	lists := make([]llm.ModelList, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			list, err := s.listModels(gctx, string(kind), creds[kind])
			if err != nil {
				return err
			}
			lists[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make(map[llm.ProviderKind]llm.ModelList, len(kinds))
	for i, kind := range kinds {
		result[kind] = lists[i]
	}
	return result, nil
}

// CreateConversation creates a conversation, filling an empty provider or
// model from the stored defaults
func (s *Service) CreateConversation(ctx context.Context, title, provider, model string) (*db.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, utils.NewValidationError("title", "must not be empty")
	}

	provider, model, err := s.selection(ctx, provider, model)
	if err != nil {
		return nil, err
	}
	return s.db.CreateConversation(ctx, title, provider, model)
}

// UpdateConversation replaces title, provider and model of a conversation
func (s *Service) UpdateConversation(ctx context.Context, id int64, title, provider, model string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return utils.NewValidationError("title", "must not be empty")
	}

	provider, model, err := s.selection(ctx, provider, model)
	if err != nil {
		return err
	}
	return s.db.UpdateConversation(ctx, id, title, provider, model)
}

func (s *Service) selection(ctx context.Context, provider, model string) (string, string, error) {
	if provider == "" {
		defProvider, defModel, err := s.settings.DefaultSelection(ctx)
		if err != nil {
			return "", "", err
		}
		provider = defProvider
		if model == "" {
			model = defModel
		}
	}

	kind, err := llm.ParseProviderKind(provider)
	if err != nil {
		return "", "", err
	}
	if model == "" {
		model = llm.DefaultModel(kind)
	}
	return string(kind), model, nil
}

// AddMessage appends a message without calling any provider
func (s *Service) AddMessage(ctx context.Context, conversationID int64, role, content string) (*db.Message, error) {
	if err := validateRole(role); err != nil {
		return nil, err
	}
	if content == "" {
		return nil, utils.NewValidationError("content", "must not be empty")
	}

	tokens := utils.CountTokens(content)
	msg, err := s.db.CreateMessage(ctx, db.NewMessage{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		TokensUsed:     tokens,
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func validateRole(role string) *utils.ValidationError {
	switch role {
	case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		return nil
	}
	return utils.NewValidationError("role", "unknown role %q", role)
}

func toLLMMessages(messages []*db.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
