// Package cli wires the session controller, transport client, and export
// writer into the cobra command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tuta-cli/tuta-export/internal/config"
	"github.com/tuta-cli/tuta-export/internal/errs"
	"github.com/tuta-cli/tuta-export/internal/logging"
	"github.com/tuta-cli/tuta-export/internal/transport"
)

const (
	keyServerURL     = "server-url"
	defaultServerURL = "https://mail.tuta.com/rest"
)

var rootCmd = &cobra.Command{
	Use:   "tuta-export",
	Short: "Export mail from a Tutanota-compatible account to .eml files",
	Long: "tuta-export logs in, walks a mail folder, decrypts each message " +
		"and its attachments, and writes one RFC 2822 .eml file per mail.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		switch {
		case verbosity >= 2:
			logging.SetLevel(logging.LevelTrace)
		case verbosity == 1:
			logging.SetLevel(logging.LevelDebug)
		default:
			logging.SetLevel(logging.LevelInfo)
		}
		return nil
	},
}

func init() {
	if err := config.BindPersistentFlags(rootCmd); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	rootCmd.PersistentFlags().String(keyServerURL, defaultServerURL, "mail service REST base URL")
	if err := viper.BindPFlag(keyServerURL, rootCmd.PersistentFlags().Lookup(keyServerURL)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newTransport builds the unauthenticated client every subcommand starts
// a login from, pointed at the configured server URL with a generous
// per-request timeout (export runs fetch MailDetails blobs that can run
// to several MB).
func newTransport() *transport.Client {
	timeout := time.Duration(viper.GetInt(config.KeyRequestTimeout)) * time.Second
	return transport.New(viper.GetString(keyServerURL), timeout)
}

// Execute runs the command tree under a context cancelled on SIGINT/
// SIGTERM and maps any returned error to the exit code its Kind selects.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// A partial export already reported its skips at WARN and its
		// summary at INFO; only fatal outcomes log at ERROR.
		var ce *errs.CLIError
		if !errors.As(err, &ce) || ce.Kind != errs.KindPartial {
			logging.Error("%v", err)
		}
		return errs.ExitCode(err)
	}
	return 0
}
