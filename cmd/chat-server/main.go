package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/chatrelay/internal/metrics"
	"github.com/Tyrowin/chatrelay/internal/server"
)

type flags struct {
	configPath string
	envFile    string
	listen     string
	httpAddr   string
	logLevel   string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "chat-server [port]",
		Short: "Run the CHAT/1.0 relay",
		Long: `chat-server accepts CHAT/1.0 clients over TCP and relays their messages
and attachments to the clients following them.

Settings come from defaults, an optional TOML file, a .env file and
CHAT_* environment variables, in that order. Flags win over all of them.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.listen = ":" + args[0]
				_ = cmd.Flags().Set("listen", f.listen)
			}
			return run(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "TOML configuration file")
	cmd.Flags().StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading CHAT_* variables")
	cmd.Flags().StringVarP(&f.listen, "listen", "l", "", "TCP listen address, e.g. :4000")
	cmd.Flags().StringVar(&f.httpAddr, "http", "", "HTTP address for health, metrics and websockets; empty disables it")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")

	return cmd
}

// run loads the configuration, starts the relay and blocks until SIGINT
// or SIGTERM.
func run(cmd *cobra.Command, f flags) error {
	if err := server.LoadDotEnv(f.envFile); err != nil {
		return err
	}
	cfg, err := server.LoadConfig(f.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = f.listen
	}
	if cmd.Flags().Changed("http") {
		cfg.HTTPAddr = f.httpAddr
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = strings.ToUpper(f.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logs.GetLoggerFromString(cfg.LogLevel)

	registry := prometheus.NewRegistry()
	collector := metrics.New(registry)

	srv := server.New(*cfg, log,
		server.WithObserver(collector),
		server.WithMetricsHandler(metrics.Handler(registry)),
	)
	if err := srv.Listen(); err != nil {
		return err
	}
	fmt.Printf("Will wait for client connections at port %d\n", srv.Port())
	if addr := srv.HTTPAddr(); addr != nil {
		fmt.Printf("Serving health, metrics and websockets on %s\n", addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return err
	}
	fmt.Println("Server stopped")
	return nil
}
