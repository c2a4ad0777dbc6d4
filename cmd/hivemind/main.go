// Command hivemind runs the multi-agent orchestration service.
//
// Usage:
//
//	hivemind serve --config hivemind.yaml
//	hivemind chat --config hivemind.yaml
//	hivemind ingest ./docs --config hivemind.yaml
//	hivemind validate --config hivemind.yaml
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Chat     ChatCmd     `cmd:"" help:"Chat interactively with the configured model."`
	Ingest   IngestCmd   `cmd:"" help:"Ingest a directory of documents into the RAG store."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the configuration JSON Schema."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file (default: environment-driven config)." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFormat string `help:"Log format (text, json)." default:""`
}

// loadConfig reads the config file named on the command line, or builds the
// environment-driven default when none was given. The process logger is
// installed as a side effect; CLI flags win over config file values.
func (cli *CLI) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cli.Config != "" {
		cfg, err = config.Load(cli.Config)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, err
	}

	level := cli.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	format := cli.LogFormat
	if format == "" {
		format = cfg.Logging.Format
	}
	logger.InitFromStrings(level, format)

	return cfg, nil
}

// ValidateCmd checks a configuration file and reports the first problem.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("validate requires --config")
	}
	if _, err := config.Load(cli.Config); err != nil {
		return err
	}
	fmt.Printf("%s: ok\n", cli.Config)
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("hivemind version %s\n", appVersion())
	return nil
}

func appVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "dev"
}

func main() {
	// A .env next to the binary is a convenience for local development;
	// missing files are fine.
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("hivemind"),
		kong.Description("Multi-agent LLM orchestration service."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
