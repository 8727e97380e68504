package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rustdist/internal/app"
	"rustdist/internal/config"
	"rustdist/internal/database"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file, preferring the --config flag over the
// default location, and applies any command-line overrides on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		defaults, err := app.GetDefaults()
		if err != nil {
			return nil, fmt.Errorf("getting defaults: %w", err)
		}
		path = defaults["config_path"]
	}

	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if base, _ := cmd.Flags().GetString("upstream"); base != "" {
		cfg.Upstream.BaseURL = base
	}

	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "serve", "ingest").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a, err := app.NewApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "rustdist",
	Short: "Rust release manifest tracker",
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "serve")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return a.Serve(ctx)
	},
}

// ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch channel manifests from upstream and store them",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ingest")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Ingest(cmd.Context())
		if err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}

		fmt.Printf("Releases inserted:  %d\n", res.ReleasesInserted)
		fmt.Printf("Releases unchanged: %d\n", res.ReleasesUnchanged)
		fmt.Printf("Components added:   %d\n", res.ComponentsAdded)
		fmt.Printf("Targets added:      %d\n", res.TargetsAdded)
		if res.NightlyReplaced != "" {
			fmt.Printf("Nightly replaced:   %s\n", res.NightlyReplaced)
		}
		if len(res.HashConflicts) > 0 {
			fmt.Printf("Hash conflicts:     %d (stored hashes kept)\n", len(res.HashConflicts))
		}
		return nil
	},
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
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			path = defaults["config_path"]
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(path, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", path)
		fmt.Printf("Database: %s\n", cfg.Database.Path)
		fmt.Printf("Upstream: %s\n", cfg.Upstream.BaseURL)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Database:    %s\n", cfg.Database.Path)
		fmt.Printf("Listen Addr: %s\n", cfg.Server.ListenAddr)
		fmt.Printf("Upstream:    %s\n", cfg.Upstream.BaseURL)
		fmt.Printf("Fetch Timeout: %ds\n", cfg.Upstream.FetchTimeoutSeconds)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the database",
}

// dbMigrateCmd opens the store directly: the app layer refuses to start
// on an out-of-date schema, which is exactly the state this command fixes.
var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		store, err := database.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		if err := store.Migrate(); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}

		current, _, err := store.MigrationStatus()
		if err != nil {
			return err
		}
		fmt.Printf("Schema migrated to version %d\n", current)
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show schema migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		store, err := database.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		current, latest, err := store.MigrationStatus()
		if err != nil {
			return err
		}

		fmt.Printf("Database: %s\n", store.Path())
		fmt.Printf("Schema:   %d (latest %d)\n", current, latest)
		if current < latest {
			fmt.Println("Run `rustdist db migrate` to update.")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file")

	serveCmd.Flags().String("listen", "", "Listen address override (host:port)")
	serveCmd.Flags().String("db", "", "Database path override")
	rootCmd.AddCommand(serveCmd)

	ingestCmd.Flags().String("db", "", "Database path override")
	ingestCmd.Flags().String("upstream", "", "Upstream base URL override")
	rootCmd.AddCommand(ingestCmd)

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.PersistentFlags().String("db", "", "Database path override")
	rootCmd.AddCommand(dbCmd)
}
