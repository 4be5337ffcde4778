package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chatui/chat"
	"chatui/db"
	"chatui/llm"
	"chatui/metrics"
	"chatui/server"
	"chatui/settings"
	"chatui/utils"
)

var (
	version = "0.1.0"

	v = viper.New()

	rootCmd = &cobra.Command{
		Use:   "chatui",
		Short: "Local chat backend for OpenAI, Anthropic and Ollama models",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is fine
			_ = godotenv.Load()
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return serve(configPath)
		},
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("chatui v%s\n", version)
		},
	}
)

func init() {
	utils.SetDefaults(v)
	if err := utils.BindEnv(v); err != nil {
		panic(err)
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to configuration file (json, yaml or toml)")
	flags.String("addr", "", "address to listen on")
	flags.Int("port", 0, "port to listen on")
	flags.String("db", "", "path to the SQLite database")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	for key, flag := range map[string]string{
		"server.addr":  "addr",
		"server.port":  "port",
		"data.db_path": "db",
		"log.level":    "log-level",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(versionCmd)
}

func serve(configPath string) error {
	config, err := utils.LoadConfig(v, configPath)
	if err != nil {
		return err
	}

	logger, err := utils.NewLogger(config.Log)
	if err != nil {
		return utils.WrapError(err, "failed to initialize logger")
	}
	defer logger.Close()

	logger.Info("starting chatui", "version", version)
	if config.UsesDefaultEncryptionKey() {
		logger.Warn("using the built-in encryption key; set ENCRYPTION_KEY to protect stored API keys")
	}

	database, err := db.New(config.Data.DBPath)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		return err
	}
	defer database.Close()
	logger.Info("database initialized", "path", config.Data.DBPath)

	cipher, err := utils.NewCipher(config.Security.EncryptionKey)
	if err != nil {
		return utils.WrapError(err, "failed to initialize cipher")
	}

	store := settings.NewStore(database, cipher, logger, settings.Defaults{
		OpenAIBaseURL:    config.Providers.OpenAIBaseURL,
		AnthropicBaseURL: config.Providers.AnthropicBaseURL,
		OllamaBaseURL:    config.Providers.OllamaBaseURL,
	})

	registry := llm.NewRegistry(llm.Config{
		MaxTokens:  config.Chat.MaxTokens,
		APIVersion: config.Providers.AnthropicVersion,
		Timeout:    config.Chat.Timeout,
	})

	m := metrics.New()
	chatService := chat.NewService(database, store, registry, m, logger, chat.Options{
		Timeout:        config.Chat.Timeout,
		CatalogTimeout: config.Chat.CatalogTimeout,
		RateLimit:      config.Chat.RateLimit,
		RateBurst:      config.Chat.RateBurst,
	})

	srv := server.NewServer(config.Server, database, chatService, store, m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	utils.SafeGoWithError(logger, "http server", func() error {
		if err := srv.Start(config.ListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(err error) {
		serverErr <- err
	})

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
