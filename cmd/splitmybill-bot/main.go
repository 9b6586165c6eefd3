package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"splitmybill/internal/llm"
	"splitmybill/internal/splitter"
	"splitmybill/internal/telegram"
	"splitmybill/pkg/logging"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("splitmybill-bot")
	var (
		token       = fs.StringLong("token", "", "Telegram bot token (or set TELEGRAM_BOT_TOKEN env var)")
		model       = fs.StringLong("model", llm.DefaultModel, "LLM model in 'provider/model' form")
		apiKey      = fs.StringLong("api-key", "", "LLM API key (or set ANTHROPIC_API_KEY / GEMINI_API_KEY env var)")
		maxTurns    = fs.IntLong("max-turns", splitter.DefaultMaxTurns, "Maximum clarification turns per chat")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SPLITMYBILL"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logging.Setup()

	// Get the LLM API key from flag or environment
	key := *apiKey
	if key == "" {
		key = os.Getenv(keyEnvVar(*model))
	}
	if key == "" {
		slog.Error(fmt.Sprintf("LLM API key is required. Set --api-key flag or %s environment variable", keyEnvVar(*model)))
		os.Exit(1)
	}

	slog.Info("Initializing LLM provider...", "model", *model)
	provider, err := llm.New(*model, key)
	if err != nil {
		slog.Error("Failed to initialize LLM provider", "error", err)
		os.Exit(1)
	}
	oracle := llm.WithRetry(provider, 3)
	defer oracle.Close()

	// Get the bot token from flag or environment
	botToken := *token
	if botToken == "" {
		botToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if botToken == "" {
		slog.Error("Telegram bot token is required. Set --token flag or TELEGRAM_BOT_TOKEN environment variable")
		os.Exit(1)
	}

	slog.Info("Initializing Telegram bot...")
	bot, err := telegram.New(botToken, oracle, *maxTurns)
	if err != nil {
		slog.Error("Failed to initialize Telegram bot", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run the bot in a goroutine so signals can stop it
	runErr := make(chan error, 1)
	go func() {
		runErr <- bot.Run(ctx)
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-runErr:
		if err != nil {
			slog.Error("Bot stopped", "error", err)
			os.Exit(1)
		}
	case <-sigChan:
		slog.Info("Shutting down...")
		cancel()
		<-runErr
	}
}

// keyEnvVar maps a "provider/model" name to the provider's conventional API
// key environment variable.
func keyEnvVar(model string) string {
	if strings.HasPrefix(model, "gemini/") {
		return "GEMINI_API_KEY"
	}
	return "ANTHROPIC_API_KEY"
}
