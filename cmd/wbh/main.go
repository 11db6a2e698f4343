package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"wbh-go/internal/app"
	"wbh-go/internal/config"
	"wbh-go/internal/secrets"

	"github.com/spf13/cobra"
)

var prompter = secrets.NewPrompter()

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a WBHApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Watch", "Get").
func newApp(ctx context.Context, operation string) (*app.WBHApp, string, error) {
	paths, err := app.ResolvePaths()
	if err != nil {
		return nil, "", fmt.Errorf("resolving paths: %w", err)
	}

	cfg, err := app.LoadConfig(paths.ConfigFile, prompter.Passphrase)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewWBHApp(ctx, cfg, operation, os.Stderr)
	if err != nil {
		return nil, "", fmt.Errorf("initializing app: %w", err)
	}

	return a, paths.ConfigFile, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:          "wbh",
	Short:        "Watch directories and ship their contents to a remote store",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.ResolvePaths()
		if err != nil {
			return fmt.Errorf("failed to resolve paths: %w", err)
		}

		cfg := config.NewConfig(paths.DataDir)
		if err := config.Init(paths.ConfigFile, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigFile)
		fmt.Printf("Base Dir:  %s\n", paths.DataDir)
		fmt.Printf("Transport: %s\n", cfg.Transport.Type)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.ResolvePaths()
		if err != nil {
			return fmt.Errorf("failed to resolve paths: %w", err)
		}

		cfg, err := config.Load(paths.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", paths.ConfigFile)
		fmt.Printf("Base Dir:       %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:        %s\n", cfg.LogDir)
		fmt.Printf("Catalog:        %s\n", cfg.Database.Path())
		fmt.Printf("Transport:      %s\n", cfg.Transport.Type)
		fmt.Printf("Chunk Size:     %s\n", app.FormatSize(cfg.ChunkSize))
		fmt.Printf("Poll Interval:  %s\n", cfg.PollInterval())
		fmt.Printf("Temp Dir:       %s\n", cfg.TempDir)
		fmt.Printf("Backup Dest:    %s\n", cfg.Backup.Destination)
		fmt.Printf("Blackholes:     %d\n", len(cfg.BlackHoles))
		return nil
	},
}

// hole command
var holeCmd = &cobra.Command{
	Use:   "hole",
	Short: "Manage watched roots",
}

var holeAddCmd = &cobra.Command{
	Use:   "add NAME PATH",
	Short: "Watch a new root directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		destination, _ := cmd.Flags().GetString("destination")
		encryption, _ := cmd.Flags().GetString("encryption")
		secretRef, _ := cmd.Flags().GetString("secret-ref")

		bhc := config.BlackHoleConfig{
			Name:        args[0],
			Path:        args[1],
			Destination: destination,
			Encryption:  encryption,
			SecretRef:   secretRef,
		}
		if encryption != "NONE" && secretRef == "" {
			secret, err := prompter.ReadSecret("Blackhole secret")
			if err != nil {
				return err
			}
			bhc.Secret = secret
		}

		ctx := cmd.Context()
		a, configPath, err := newApp(ctx, "AddBlackHole")
		if err != nil {
			return err
		}
		defer a.Close()

		if secretRef != "" {
			store := secrets.NewStore(a.Config().Secrets.Path)
			pass, err := prompter.Passphrase()
			if err != nil {
				return err
			}
			s, err := store.Unlock(pass)
			if err != nil {
				return err
			}
			if bhc.Secret, err = s.Lookup(secretRef); err != nil {
				return err
			}
		}

		hole, err := a.AddBlackHole(ctx, bhc, configPath)
		if err != nil {
			return fmt.Errorf("adding blackhole: %w", err)
		}

		fmt.Printf("Watching %s as %q (id %d)\n", hole.RootPath, hole.Name, hole.ID)
		return nil
	},
}

var holeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, _, err := newApp(ctx, "ListBlackHoles")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status(ctx)
		if err != nil {
			return err
		}
		sizes := make(map[string]int64, len(st.BlackHoles))
		for _, bh := range st.BlackHoles {
			sizes[bh.Name] = bh.Size
		}

		if len(a.BlackHoles()) == 0 {
			fmt.Println("No blackholes configured.")
			return nil
		}
		for _, h := range a.BlackHoles() {
			fmt.Printf("%-16s  %-18s  %12s  %s -> %s\n",
				h.Name, h.Encryption, app.FormatSize(sizes[h.Name]), h.RootPath, h.Destination)
		}
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the watcher until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, _, err := newApp(ctx, "Watch")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Watch(ctx)
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls BLACKHOLE [ITEM_ID]",
	Short: "List cataloged items",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var parent int64
		if len(args) == 2 {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[1])
			}
			parent = id
		}

		ctx := cmd.Context()
		a, _, err := newApp(ctx, "List")
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.List(ctx, args[0], parent)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No items.")
			return nil
		}
		for _, it := range items {
			kind := "f"
			count := fmt.Sprintf("%d chunks", it.ChunksCount)
			if it.IsDir {
				kind = "d"
				count = fmt.Sprintf("%d items", it.ItemsCount)
			}
			uploaded := "pending"
			if it.UploadedAt != nil {
				uploaded = it.UploadedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-8d %s  %12s  %-10s  %s  %s\n",
				it.ID, kind, app.FormatSize(it.Size), count, uploaded, it.FullPath)
		}
		return nil
	},
}

// get command
var getCmd = &cobra.Command{
	Use:   "get BLACKHOLE ITEM_ID",
	Short: "Download a file or directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[1])
		}
		dest, _ := cmd.Flags().GetString("dest")

		ctx, stop := signalContext()
		defer stop()

		a, _, err := newApp(ctx, "Get")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Get(ctx, args[0], itemID, dest)
		if err != nil {
			return fmt.Errorf("download failed: %w", err)
		}

		fmt.Printf("Downloaded %s into %s\n", app.FormatSize(n), dest)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Back up and restore the catalog",
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload a catalog snapshot and print its recovery code",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, _, err := newApp(ctx, "BackupCatalog")
		if err != nil {
			return err
		}
		defer a.Close()

		segments, err := a.BackupCatalog(ctx)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("Recovery code (%d segment(s)):\n", len(segments))
		for _, s := range segments {
			fmt.Println(s)
		}
		return nil
	},
}

var dbRestoreCmd = &cobra.Command{
	Use:   "restore [CODE]",
	Short: "Rebuild the catalog from a recovery code",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var code string
		if len(args) == 1 {
			code = args[0]
		} else {
			c, err := prompter.ReadSecret("Recovery code")
			if err != nil {
				return err
			}
			code = c
		}
		secret, err := prompter.ReadSecret("Backup secret")
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		a, _, err := newApp(ctx, "RestoreCatalog")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RestoreCatalog(ctx, code, secret); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Println("Catalog restored.")
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, _, err := newApp(ctx, "CatalogStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Catalog:    %s\n", st.Path)
		fmt.Printf("Size:       %s\n", app.FormatSize(st.Size))
		fmt.Printf("Blackholes: %d\n", len(st.BlackHoles))
		for _, bh := range st.BlackHoles {
			fmt.Printf("  #%d  %-16s  %12s  created %s\n",
				bh.ID, bh.Name, app.FormatSize(bh.Size), bh.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

// secrets command
var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the encrypted secret store",
}

var secretsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the secret store for every secret_ref in the config",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.ResolvePaths()
		if err != nil {
			return fmt.Errorf("failed to resolve paths: %w", err)
		}
		cfg, err := config.Load(paths.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		store := secrets.NewStore(cfg.Secrets.Path)
		if store.Exists() {
			return fmt.Errorf("secret store already exists at %s", store.Path())
		}

		values := secrets.Secrets{}
		ask := func(name string, generate bool) error {
			if _, ok := values[name]; ok || name == "" {
				return nil
			}
			label := fmt.Sprintf("Secret %q", name)
			if generate {
				label += " (empty to generate)"
			}
			v, err := prompter.ReadSecret(label)
			if err != nil {
				return err
			}
			if v == "" && generate {
				if v, err = secrets.Generate(); err != nil {
					return err
				}
				fmt.Printf("Generated %q: %s\n", name, v)
			}
			if v == "" {
				return fmt.Errorf("secret %q must not be empty", name)
			}
			values[name] = v
			return nil
		}

		backupRef := cfg.Backup.SecretRef
		if backupRef == "" && cfg.Backup.Secret == "" {
			backupRef = secrets.BackupSecretName
		}
		if err := ask(backupRef, true); err != nil {
			return err
		}
		for _, bh := range cfg.BlackHoles {
			if err := ask(bh.SecretRef, false); err != nil {
				return err
			}
		}

		passphrase, err := prompter.NewPassphrase()
		if err != nil {
			return err
		}
		if err := store.Save(passphrase, values); err != nil {
			return fmt.Errorf("writing secret store: %w", err)
		}

		fmt.Printf("Secret store written to %s (%d secret(s))\n", store.Path(), len(values))
		if cfg.Backup.SecretRef == "" && cfg.Backup.Secret == "" {
			fmt.Printf("Set [backup] secret_ref = %q to use the generated backup secret.\n", secrets.BackupSecretName)
		}
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only catalog API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, _, err := newApp(ctx, "Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx)
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// hole subcommands
	holeCmd.AddCommand(holeAddCmd)
	holeCmd.AddCommand(holeListCmd)
	holeAddCmd.Flags().StringP("destination", "d", "", "Remote destination (chat id, bucket folder, ...)")
	holeAddCmd.Flags().StringP("encryption", "e", "NONE", "NONE or ChaCha20Poly1305")
	holeAddCmd.Flags().String("secret-ref", "", "Name of the secret in the secret store")

	// db subcommands
	dbCmd.AddCommand(dbBackupCmd)
	dbCmd.AddCommand(dbRestoreCmd)
	dbCmd.AddCommand(dbStatusCmd)

	// secrets subcommands
	secretsCmd.AddCommand(secretsInitCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(holeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().String("dest", ".", "Directory to download into")
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(secretsCmd)
	rootCmd.AddCommand(serveCmd)
}
