package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mama165/sdk-go/logs"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/chatrelay/internal/client"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var follow, uploadDir, downloadDir, logLevel string

	cmd := &cobra.Command{
		Use:   "chat-client <user> <chat://host:port>",
		Short: "Join a CHAT/1.0 relay from the terminal",
		Long: `chat-client registers <user> with the relay and sends every line typed on
stdin as a message. Files requested with "!attach name terms" are read from
the upload directory; received attachments are written to the download
directory.

Arguments and flags fall back to CHAT_CLIENT_* environment variables.`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := client.ConfigFromEnv()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.User = args[0]
			}
			if len(args) > 1 {
				cfg.Server = args[1]
			}
			flags := cmd.Flags()
			if flags.Changed("follow") {
				cfg.Follow = follow
			}
			if flags.Changed("upload-dir") {
				cfg.UploadDir = uploadDir
			}
			if flags.Changed("download-dir") {
				cfg.DownloadDir = downloadDir
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&follow, "follow", "f", "", "comma separated follow terms")
	cmd.Flags().StringVar(&uploadDir, "upload-dir", ".", "directory attachments are read from")
	cmd.Flags().StringVar(&downloadDir, "download-dir", ".", "directory received attachments are written to")
	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "DEBUG, INFO, WARN or ERROR")

	return cmd
}

func run(parent context.Context, cfg client.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logs.GetLoggerFromString(cfg.LogLevel)
	out := newConsole(os.Stdout, isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()))

	out.Status("Connecting to server ...")
	sess, err := client.Dial(ctx, cfg, log)
	if errors.Is(err, client.ErrRegistrationRejected) {
		out.Error("Error:  An error response was received from the server. Details:")
		out.Error("%s", strings.TrimPrefix(err.Error(), client.ErrRegistrationRejected.Error()+": "))
		return errors.New("registration failed")
	}
	if err != nil {
		return err
	}
	out.Status("Registration successful.  Ready for messaging!")

	go readInput(ctx, sess, out, stop)

	err = sess.Run(ctx, out)
	if ctx.Err() != nil {
		out.Status("Interrupt received, shutting down ...")
		return nil
	}
	return err
}

// readInput sends each stdin line as a message. End of input ends the
// session as an interrupt would.
func readInput(ctx context.Context, sess *client.Session, out *console, stop context.CancelFunc) {
	defer stop()

	out.Prompt()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := sess.Send(scanner.Text()); err != nil {
			if ctx.Err() == nil {
				out.Error("Error:  %v", err)
			}
			return
		}
		out.Prompt()
	}
}
