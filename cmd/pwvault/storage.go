package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/pwvault/internal/models"
	"github.com/TheMichaelB/pwvault/internal/provider"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List snapshots held by the active provider",
	RunE:  runVersions,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <version-id>",
	Short: "Restore entries from a snapshot",
	Long: `Restore makes the entries of an older snapshot current. The result is
written as a new snapshot; history is never rewritten.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the encrypted vault container to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the vault contents with an exported container",
	Long: `Import decrypts an exported container with its own password and
replaces the entries and provider settings with its contents.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Show or change the storage provider",
	RunE:  runProviderShow,
}

var providerSetCmd = &cobra.Command{
	Use:   "set <kind>",
	Short: "Activate a storage provider",
	Example: `  pwvault provider set s3 --opt bucket=my-vault --opt region=eu-west-1
  pwvault provider set mongo --opt uri=mongodb://localhost:27017
  pwvault provider set local`,
	Args: cobra.ExactArgs(1),
	RunE: runProviderSet,
}

var (
	providerOpts   map[string]string
	providerRetain int
)

func init() {
	rootCmd.AddCommand(versionsCmd, restoreCmd, exportCmd, importCmd, providerCmd)
	providerCmd.AddCommand(providerSetCmd)

	providerSetCmd.Flags().StringToStringVarP(&providerOpts, "opt", "o", nil,
		"Provider setting as key=value (repeatable)")
	providerSetCmd.Flags().IntVar(&providerRetain, "retain", 0,
		"Snapshots to keep (default from config)")
}

func runVersions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := unlock(ctx)
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)

	versions, err := apiClient.Vault.ListVersions(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(versions)
		return nil
	}
	if len(versions) == 0 {
		printInfo("No snapshots")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSIZE")
	for _, v := range versions {
		fmt.Fprintf(w, "%s\t%s\t%s\n", v.ID, v.CreatedAt.Local().Format("2006-01-02 15:04:05"), formatBytes(v.Size))
	}
	return w.Flush()
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := unlock(ctx)
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)

	if err := apiClient.Vault.RestoreVersion(ctx, args[0]); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "version": args[0]})
	} else {
		printSuccess("Restored %s", args[0])
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	sess, err := unlock(cmd.Context())
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)

	data, err := apiClient.Session.ExportEncrypted(sess)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[0], data, 0600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "file": args[0], "size": len(data)})
	} else {
		printSuccess("Exported %s to %s", formatBytes(int64(len(data))), args[0])
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read import: %w", err)
	}

	sess, err := unlock(ctx)
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)

	filePassword, err := promptPassword("Password of the imported vault: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if err := apiClient.Session.ImportEncrypted(ctx, sess, data, filePassword); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
	} else {
		printSuccess("Imported %s", args[0])
	}
	return nil
}

func runProviderShow(cmd *cobra.Command, args []string) error {
	sess, err := unlock(cmd.Context())
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)

	pc, err := apiClient.Vault.ProviderConfig()
	if err != nil {
		return err
	}

	// Settings hold credentials; only keys are shown.
	keys := make(map[string][]string, len(pc.Providers))
	for id, settings := range pc.Providers {
		for k := range settings {
			keys[id] = append(keys[id], k)
		}
		sort.Strings(keys[id])
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"active":    pc.ActiveProviderID,
			"retain":    pc.RetainCount,
			"providers": keys,
			"available": provider.Kinds(),
		})
		return nil
	}

	fmt.Printf("Active:  %s\n", pc.ActiveProviderID)
	fmt.Printf("Retain:  %d snapshots\n", pc.RetainCount)
	for id, ks := range keys {
		fmt.Printf("  %s: %v\n", id, ks)
	}
	return nil
}

func runProviderSet(cmd *cobra.Command, args []string) error {
	kind, err := provider.ParseKind(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sess, err := unlock(ctx)
	if err != nil {
		return err
	}
	defer apiClient.Session.Lock(sess)

	pc, err := apiClient.Vault.ProviderConfig()
	if err != nil {
		return err
	}

	next := pc.Clone()
	if next.Providers == nil {
		next.Providers = make(map[string]models.ProviderSettings)
	}
	settings := next.Providers[string(kind)]
	if settings == nil {
		settings = make(models.ProviderSettings)
	}
	for k, v := range providerOpts {
		settings[k] = v
	}
	if len(settings) > 0 {
		next.Providers[string(kind)] = settings
	}
	next.ActiveProviderID = string(kind)
	if providerRetain > 0 {
		next.RetainCount = providerRetain
	}

	if err := apiClient.Vault.SetProviderConfig(ctx, next); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "active": kind})
	} else {
		printSuccess("Active provider is now %s", kind)
	}
	return nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
