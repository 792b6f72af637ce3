package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/pwvault/internal/models"
)

var listCmd = &cobra.Command{
	Use:     "list [filter]",
	Aliases: []string{"ls"},
	Short:   "List entries",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runList,
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one entry including its password",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add an entry",
	Example: `  pwvault add GitHub --username alice --url https://github.com
  pwvault add Bank --notes "PIN only"`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update an entry",
	Long:  `Update changes only the fields given as flags.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdate,
}

var removeCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove an entry",
	Args:    cobra.ExactArgs(1),
	RunE:    runRemove,
}

var totpCmd = &cobra.Command{
	Use:   "totp <id>",
	Short: "Print the current one-time code of an entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runTOTP,
}

var (
	entryName     string
	entryUsername string
	entryURL      string
	entryNotes    string
	entryTOTP     string
	entryPrompt   bool
)

func init() {
	rootCmd.AddCommand(listCmd, showCmd, addCmd, updateCmd, removeCmd, totpCmd)

	for _, c := range []*cobra.Command{addCmd, updateCmd} {
		c.Flags().StringVarP(&entryUsername, "username", "u", "", "Username")
		c.Flags().StringVar(&entryURL, "url", "", "Site URL")
		c.Flags().StringVar(&entryNotes, "notes", "", "Free-form notes")
		c.Flags().StringVar(&entryTOTP, "totp", "", "TOTP secret (base32 or otpauth:// URI)")
	}
	updateCmd.Flags().StringVar(&entryName, "name", "", "New name")
	updateCmd.Flags().BoolVar(&entryPrompt, "new-password", false, "Prompt for a new entry password")
}

func runList(cmd *cobra.Command, args []string) error {
	sess, err := unlock(cmd.Context())
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)

	entries, err := apiClient.Session.List(sess)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		filter := strings.ToLower(args[0])
		kept := entries[:0]
		for _, e := range entries {
			if strings.Contains(strings.ToLower(e.Name), filter) ||
				strings.Contains(strings.ToLower(e.Username), filter) ||
				strings.Contains(strings.ToLower(e.URL), filter) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}

	if jsonOutput {
		// Passwords are only printed by show.
		out := make([]map[string]interface{}, 0, len(entries))
		for _, e := range entries {
			out = append(out, map[string]interface{}{
				"id":        e.ID,
				"name":      e.Name,
				"username":  e.Username,
				"url":       e.URL,
				"has_totp":  e.TOTPSecret != "",
				"updatedAt": e.UpdatedAt,
			})
		}
		printJSON(out)
		return nil
	}

	if len(entries) == 0 {
		printInfo("No entries")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tUSERNAME\tURL\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Name, e.Username, e.URL, e.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	sess, err := unlock(cmd.Context())
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)

	entry, err := apiClient.Vault.GetEntry(args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(entry)
		return nil
	}
	fmt.Printf("Name:     %s\n", entry.Name)
	if entry.Username != "" {
		fmt.Printf("Username: %s\n", entry.Username)
	}
	fmt.Printf("Password: %s\n", entry.Password)
	if entry.URL != "" {
		fmt.Printf("URL:      %s\n", entry.URL)
	}
	if entry.Notes != "" {
		fmt.Printf("Notes:    %s\n", entry.Notes)
	}
	if entry.TOTPSecret != "" {
		if code, err := apiClient.TOTP.EntryCode(*entry); err == nil {
			fmt.Printf("TOTP:     %s (%ds)\n", code.Value, int(code.Remaining.Seconds()))
		}
	}
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if entryTOTP != "" {
		if err := apiClient.TOTP.IsValidSecret(entryTOTP); err != nil {
			return fmt.Errorf("invalid totp secret: %w", err)
		}
	}

	sess, err := unlock(ctx)
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)
	refreshSubscription(ctx)

	pw, err := promptPassword("Entry password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	added, err := apiClient.Session.Add(ctx, sess, models.PasswordEntry{
		Name:       args[0],
		Username:   entryUsername,
		Password:   pw,
		URL:        entryURL,
		Notes:      entryNotes,
		TOTPSecret: entryTOTP,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "id": added.ID})
	} else {
		printSuccess("Added %s (%s)", added.Name, added.ID)
	}
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := unlock(ctx)
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)

	entry, err := apiClient.Vault.GetEntry(args[0])
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("name") {
		entry.Name = entryName
	}
	if flags.Changed("username") {
		entry.Username = entryUsername
	}
	if flags.Changed("url") {
		entry.URL = entryURL
	}
	if flags.Changed("notes") {
		entry.Notes = entryNotes
	}
	if flags.Changed("totp") {
		if entryTOTP != "" {
			if err := apiClient.TOTP.IsValidSecret(entryTOTP); err != nil {
				return fmt.Errorf("invalid totp secret: %w", err)
			}
		}
		entry.TOTPSecret = entryTOTP
	}
	if entryPrompt {
		entry.Password, err = promptPassword("New entry password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	updated, err := apiClient.Session.Update(ctx, sess, *entry)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "id": updated.ID})
	} else {
		printSuccess("Updated %s", updated.Name)
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := unlock(ctx)
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)

	if err := apiClient.Session.Remove(ctx, sess, args[0]); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "id": args[0]})
	} else {
		printSuccess("Removed %s", args[0])
	}
	return nil
}

func runTOTP(cmd *cobra.Command, args []string) error {
	sess, err := unlock(cmd.Context())
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)

	entry, err := apiClient.Vault.GetEntry(args[0])
	if err != nil {
		return err
	}
	code, err := apiClient.TOTP.EntryCode(*entry)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"code":      code.Value,
			"remaining": int(code.Remaining / time.Second),
		})
		return nil
	}
	fmt.Println(code.Value)
	printInfo("valid for %v", code.Remaining.Round(time.Second))
	return nil
}
