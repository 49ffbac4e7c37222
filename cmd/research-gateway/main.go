// ABOUTME: Entry point for research-gateway, the streaming research session server
// ABOUTME: Cobra command tree with serve, chats, health and version subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/research-gateway/internal/config"
	"github.com/2389/research-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                     _
 _ __ ___  ___  ___  __ _ _ __ ___| |__         __ _ ___      __
| '__/ _ \/ __|/ _ \/ _' | '__/ __| '_ \ _____ / _' / __|\ /\ / /
| | |  __/\__ \  __/ (_| | | | (__| | | |_____| (_| \__ \ V  V /
|_|  \___||___/\___|\__,_|_|  \___|_| |_|      \__, |___/\_/\_/
                                               |___/
`

var configPath string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "research-gateway",
		Short:         "Streaming research session gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default $RESEARCH_GATEWAY_CONFIG or ~/.config/research-gateway/gateway.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the gateway server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context())
			},
		},
		newChatsCmd(),
		&cobra.Command{
			Use:   "health",
			Short: "Check gateway health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runHealth(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

// loadConfig loads the resolved config file. A missing file at the default
// location falls back to built-in defaults; an explicit path must exist.
func loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(configPath)
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if configPath == "" && os.Getenv(config.EnvConfigPath) == "" && errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.LoadDefaults()
		if err != nil {
			return nil, "", fmt.Errorf("loading default config: %w", err)
		}
		return cfg, "(defaults)", nil
	}
	return nil, "", fmt.Errorf("loading config: %w", err)
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Reports:   %s\n", cfg.Reports.Dir)
	green.Print("    ▶ ")
	fmt.Printf("Engine:    ")
	cyan.Print(cfg.Engine.Provider)
	if cfg.Engine.Provider == config.ProviderFake {
		yellow.Print(" [no model calls]")
	}
	fmt.Println()

	// Tailscale status
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting research-gateway",
		"config", path,
		"http_addr", cfg.Server.HTTPAddr,
		"engine", cfg.Engine.Provider,
	)

	eng, err := newEngine(cfg.Engine, logger)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	gw, err := gateway.New(cfg, eng, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}
