package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/pwvault/internal/lambda/adapters"
	"github.com/TheMichaelB/pwvault/internal/models"
	"github.com/TheMichaelB/pwvault/internal/services/keygen"
)

// keySaltEnv overrides keygen.salt from the config file.
const keySaltEnv = "PWVAULT_KEY_SALT"

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the licence account session",
	RunE:  runSessionStatus,
}

var sessionLoginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store an account session token",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionLogin,
}

var sessionLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE:  runSessionLogout,
}

var sessionWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow subscription changes until interrupted",
	RunE:  runSessionWatch,
}

var keygenCmd = &cobra.Command{
	Use:         "keygen",
	Short:       "Provision and redeem licence keys",
	Annotations: map[string]string{"vault": "none"},
}

var keygenGenerateCmd = &cobra.Command{
	Use:         "generate",
	Short:       "Generate licence keys",
	Long:        `Generate prints new keys and, when keygen.table is set, stores their hashes in DynamoDB.`,
	Annotations: map[string]string{"vault": "none"},
	RunE:        runKeygenGenerate,
}

var keygenRedeemCmd = &cobra.Command{
	Use:         "redeem <code>",
	Short:       "Redeem a licence key",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"vault": "none"},
	RunE:        runKeygenRedeem,
}

var (
	keyCount  int
	keyDevice string
)

func init() {
	rootCmd.AddCommand(sessionCmd, keygenCmd)
	sessionCmd.AddCommand(sessionLoginCmd, sessionLogoutCmd, sessionWatchCmd)
	keygenCmd.AddCommand(keygenGenerateCmd, keygenRedeemCmd)

	keygenGenerateCmd.Flags().IntVarP(&keyCount, "count", "n", 1, "Number of keys")
	keygenRedeemCmd.Flags().StringVar(&keyDevice, "device", "", "Redeeming device id (default: hostname)")
}

// withSessionStore unlocks the vault when it is the credential store.
func withSessionStore(ctx context.Context, fn func() error) error {
	if apiClient.Session.CredentialStore() != "vault" {
		return fn()
	}
	sess, err := unlock(ctx)
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)
	return fn()
}

func runSessionStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var sub *models.Subscription
	err := withSessionStore(ctx, func() error {
		var err error
		sub, err = apiClient.Session.CurrentSession(ctx)
		return err
	})
	if errors.Is(err, models.ErrNoSession) {
		if jsonOutput {
			printJSON(map[string]interface{}{"logged_in": false})
		} else {
			printInfo("Not logged in")
		}
		return nil
	}
	if err != nil {
		return err
	}

	info, err := apiClient.License.Token()
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(map[string]interface{}{
			"logged_in":    true,
			"subject":      info.Subject,
			"expires_at":   info.ExpiresAt,
			"subscription": sub,
		})
		return nil
	}

	printSuccess("Logged in as %s", info.Subject)
	if !info.ExpiresAt.IsZero() {
		fmt.Printf("Session expires: %s\n", info.ExpiresAt.Local().Format(time.RFC1123))
	}
	if sub.Active(time.Now()) {
		fmt.Printf("Plan:            %s\n", sub.Plan)
	} else {
		fmt.Println("Plan:            free")
	}
	return nil
}

func runSessionLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := withSessionStore(ctx, func() error {
		return apiClient.Session.SaveSession(ctx, args[0])
	}); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "store": apiClient.Session.CredentialStore()})
	} else {
		printSuccess("Session stored in %s", apiClient.Session.CredentialStore())
	}
	return nil
}

func runSessionLogout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := withSessionStore(ctx, func() error {
		return apiClient.Session.Logout(ctx)
	}); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
	} else {
		printSuccess("Logged out")
	}
	return nil
}

func runSessionWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withSessionStore(ctx, func() error {
		if _, err := apiClient.Session.CurrentSession(ctx); err != nil {
			return err
		}
		if !jsonOutput {
			printInfo("Watching subscription events (Ctrl+C to stop)")
		}
		err := apiClient.Session.Watch(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

func keygenService(ctx context.Context) (*keygen.Service, error) {
	salt := cfg.Keygen.Salt
	if s := os.Getenv(keySaltEnv); s != "" {
		salt = s
	}
	gen, err := keygen.NewGenerator(cfg.Keygen.Prefix, salt)
	if err != nil {
		return nil, err
	}

	var store keygen.Store
	if cfg.Keygen.Table != "" {
		ks, err := adapters.NewKeyStore(ctx, cfg.Keygen.Table, logger)
		if err != nil {
			return nil, fmt.Errorf("create key store: %w", err)
		}
		store = ks
	}
	return keygen.NewService(gen, store, logger), nil
}

func runKeygenGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := keygenService(ctx)
	if err != nil {
		return err
	}

	keys, err := svc.Provision(ctx, keyCount)
	if err != nil {
		return err
	}

	codes := make([]string, len(keys))
	for i, k := range keys {
		codes[i] = k.Code
	}
	if jsonOutput {
		printJSON(map[string]interface{}{"keys": codes, "stored": cfg.Keygen.Table != ""})
		return nil
	}
	fmt.Println(strings.Join(codes, "\n"))
	if cfg.Keygen.Table == "" {
		printWarning("keygen.table is not set; hashes were not stored")
	}
	return nil
}

func runKeygenRedeem(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := keygenService(ctx)
	if err != nil {
		return err
	}

	device := keyDevice
	if device == "" {
		device, _ = os.Hostname()
	}
	rec, err := svc.Redeem(ctx, args[0], device)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "redeemed_at": rec.RedeemedAt, "device": rec.RedeemedBy})
	} else {
		printSuccess("Key redeemed for %s", rec.RedeemedBy)
	}
	return nil
}
