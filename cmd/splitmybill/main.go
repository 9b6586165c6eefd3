package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"splitmybill/internal/cli"
	"splitmybill/internal/llm"
	"splitmybill/internal/splitter"
	"splitmybill/internal/splitwise"
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

	fs := ff.NewFlagSet("splitmybill")
	var (
		parserName   = fs.StringLong("parser", "", "Parser override: 'instacart' or 'vision' (default: detect from the file)")
		model        = fs.StringLong("model", llm.DefaultModel, "LLM model in 'provider/model' form")
		apiKey       = fs.StringLong("api-key", "", "LLM API key (or set ANTHROPIC_API_KEY / GEMINI_API_KEY env var)")
		assistant    = fs.BoolLong("assistant", "Describe the split in natural language instead of per-item prompts")
		maxTurns     = fs.IntLong("max-turns", splitter.DefaultMaxTurns, "Maximum assistant clarification turns")
		splitwiseCfg = fs.StringLong("splitwise-config", "", "Splitwise YAML config path (optional)")
		showVersion  = fs.BoolLong("version", "Show version information")
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

	args := fs.GetArgs()
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: expected exactly one bill file argument\n")
		os.Exit(1)
	}
	billPath := args[0]

	logging.Setup()

	// The oracle is built on first use: HTML bills split by hand never need
	// an API key.
	newOracle := func() (llm.Provider, error) {
		key := *apiKey
		if key == "" {
			key = os.Getenv(keyEnvVar(*model))
		}
		if key == "" {
			return nil, fmt.Errorf("LLM API key is required. Set --api-key flag or %s environment variable", keyEnvVar(*model))
		}
		provider, err := llm.New(*model, key)
		if err != nil {
			return nil, err
		}
		return llm.WithRetry(provider, 3), nil
	}

	opts := cli.Options{
		Assistant: *assistant,
		MaxTurns:  *maxTurns,
	}

	if *splitwiseCfg != "" {
		slog.Info("Loading Splitwise config...", "path", *splitwiseCfg)
		cfg, err := splitwise.LoadConfig(*splitwiseCfg)
		if err != nil {
			slog.Error("Failed to load Splitwise config", "error", err)
			os.Exit(1)
		}
		opts.Splitwise = splitwise.New(cfg)
	}

	app := cli.New(os.Stdin, os.Stdout, newOracle, opts)
	defer app.Close()

	if err := app.Run(context.Background(), billPath, *parserName); err != nil {
		slog.Error("Failed to split bill", "error", err)
		os.Exit(1)
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
