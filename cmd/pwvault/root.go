package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TheMichaelB/pwvault/internal/client"
	"github.com/TheMichaelB/pwvault/internal/config"
	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
	"github.com/TheMichaelB/pwvault/internal/session"
)

// passwordEnv supplies the master password to non-interactive runs.
const passwordEnv = "PWVAULT_PASSWORD"

var (
	cfgFile    string
	jsonOutput bool
	verbose    bool
	password   string

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "pwvault",
	Short: "Encrypted password vault with pluggable storage",
	Long: `pwvault keeps password entries in a single encrypted container and
persists every change as a snapshot to the local disk and, optionally,
to a remote storage provider.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if apiClient != nil {
			_ = apiClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default: $HOME/.pwvault/config.json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "",
		"Master password (will prompt if not provided)")
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if jsonOutput {
		color.NoColor = true
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	// Key provisioning does not need a vault.
	if cmd.Annotations["vault"] == "none" {
		return nil
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	apiClient, err = client.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

// masterPassword returns the flag, environment or prompted password.
func masterPassword() (string, error) {
	if password != "" {
		return password, nil
	}
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	pw, err := promptPassword("Master password: ")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return pw, nil
}

func unlock(ctx context.Context) (*session.Session, error) {
	pw, err := masterPassword()
	if err != nil {
		return nil, err
	}
	return unlockWith(ctx, pw)
}

func unlockWith(ctx context.Context, pw string) (*session.Session, error) {
	sess, err := apiClient.Session.Unlock(ctx, pw)
	if err != nil {
		return nil, err
	}
	if sess.IsNew() && !jsonOutput {
		printSuccess("Created new vault %s", sess.VaultID())
	}
	return sess, nil
}

// refreshSubscription loads the subscription of a stored session. Without
// one the free tier applies.
func refreshSubscription(ctx context.Context) {
	if _, err := apiClient.Session.CurrentSession(ctx); err != nil {
		logger.WithError(err).Debug("No licence session")
	}
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// Read password without echo
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // New line after password

	if err != nil {
		return "", err
	}

	return string(password), nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printSuccess(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(os.Stdout, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(os.Stdout, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stderr, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, format+"\n", args...)
}

// report prints err the way the selected output mode expects.
func report(err error) {
	if jsonOutput {
		out := map[string]interface{}{
			"success": false,
			"error":   models.UserMessage(err),
		}
		if code := models.Code(err); code != "" {
			out["code"] = code
		}
		printJSON(out)
		return
	}
	printError("Error: %s", models.UserMessage(err))
	if verbose {
		printError("  %v", err)
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		report(err)
		var apiErr *models.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 500 {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
