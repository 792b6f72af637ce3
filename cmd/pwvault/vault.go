package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Aliases: []string{"unlock"},
	Short:   "Create the vault or verify the master password",
	Long: `Init unlocks the vault, creating it under the given password when no
snapshot exists yet.`,
	RunE: runInit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault, storage and subscription status",
	RunE:  runStatus,
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the master password",
	RunE:  runPasswd,
}

var statusUnlock bool

func init() {
	rootCmd.AddCommand(initCmd, statusCmd, passwdCmd)

	statusCmd.Flags().BoolVarP(&statusUnlock, "unlock", "u", false,
		"Unlock to include entry count and subscription")
}

func runInit(cmd *cobra.Command, args []string) error {
	sess, err := unlock(cmd.Context())
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":  true,
			"vault_id": sess.VaultID(),
			"created":  sess.IsNew(),
		})
		return nil
	}
	if !sess.IsNew() {
		printSuccess("Vault %s unlocked", sess.VaultID())
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if statusUnlock {
		sess, err := unlock(ctx)
		if err != nil {
			return err
		}
		defer apiClient.Session.Lock(sess)
		refreshSubscription(ctx)
	}

	st, err := apiClient.Session.Status(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(st)
		return nil
	}

	fmt.Printf("Runtime:          %s\n", st.Runtime)
	fmt.Printf("Credential store: %s\n", st.CredentialStore)
	if !st.Vault.Exists {
		printWarning("No vault yet. Run 'pwvault init' to create one.")
		return nil
	}
	fmt.Printf("Vault:            %s\n", st.Vault.VaultID)
	if !st.Vault.UpdatedAt.IsZero() {
		fmt.Printf("Last written:     %s\n", st.Vault.UpdatedAt.Local().Format(time.RFC1123))
	}
	if st.Vault.Unlocked {
		fmt.Printf("Entries:          %d\n", st.Vault.Entries)
		fmt.Printf("Provider:         %s\n", st.Vault.ActiveProvider)
	}
	if ls := st.Vault.LastSync; ls != nil {
		if ls.LastError != "" {
			printWarning("Last remote sync failed: %s", ls.LastError)
		} else if !ls.LastSyncTime.IsZero() {
			fmt.Printf("Last remote sync: %s\n", ls.LastSyncTime.Local().Format(time.RFC1123))
		}
	}
	if sub := st.Subscription; sub != nil && sub.Active(time.Now()) {
		printSuccess("Plan:             %s", sub.Plan)
	} else if st.EntryLimit > 0 {
		fmt.Printf("Plan:             free (%d entries)\n", st.EntryLimit)
	}
	return nil
}

func runPasswd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	current, err := masterPassword()
	if err != nil {
		return err
	}
	sess, err := unlockWith(ctx, current)
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)

	next, err := promptPassword("New password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	confirm, err := promptPassword("Repeat new password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if next != confirm {
		return fmt.Errorf("passwords do not match")
	}
	if next == "" {
		return fmt.Errorf("new password is empty")
	}

	if err := apiClient.Vault.ChangePassword(ctx, current, next); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
	} else {
		printSuccess("Master password changed")
	}
	return nil
}
