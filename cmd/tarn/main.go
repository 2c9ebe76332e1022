package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tarnlabs/tarn/pkg/config"
	"github.com/tarnlabs/tarn/pkg/log"
	"github.com/tarnlabs/tarn/pkg/storage"
	"github.com/tarnlabs/tarn/pkg/versioned"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tarn",
	Short: "Tarn - transactional catalog for Iceberg tables and views",
	Long: `Tarn is a Git-like catalog and versioned metadata store for Apache
Iceberg tables and views: named branches and tags over an immutable
commit graph, atomic multi-table commits with conflict detection,
delivered as a single binary backed by one database file.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Tarn version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")

	// Add subcommands
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(refsCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(entriesCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Tarn version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// openAdapter loads the configuration, initializes logging and opens the
// database file.
func openAdapter() (*storage.Bolt, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log.Init(cfg.LogConfig())

	path, err := cfg.ExpandedDataPath()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	adapter, err := storage.NewBolt(path)
	if err != nil {
		return nil, nil, err
	}
	return adapter, cfg, nil
}

// openStore opens the versioned store over the database. The returned
// closer releases the database file lock.
func openStore() (*versioned.Store, *config.Config, func(), error) {
	adapter, cfg, err := openAdapter()
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := versioned.NewStore(adapter, cfg.Repository, versioned.Config{
		DefaultBranch: cfg.DefaultBranch,
	})
	if err != nil {
		adapter.Close()
		return nil, nil, nil, err
	}
	return store, cfg, func() { adapter.Close() }, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the repository",
	Long: `Initialize the repository in the configured database file, creating
the descriptor and the default branch. Running init against an existing
repository is a no-op and prints its current state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		desc, err := store.Initialize(cmd.Context(), nil)
		if err != nil {
			return fmt.Errorf("failed to initialize repository: %w", err)
		}
		fmt.Printf("✓ Repository %q initialized\n", desc.RepoID)
		fmt.Printf("  Default branch: %s\n", desc.DefaultBranch)
		fmt.Printf("  Created: %s\n", desc.CreatedAt.Format(time.RFC3339))
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show repository information",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		desc, err := store.Descriptor(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load repository: %w", err)
		}
		fmt.Printf("Repository: %s\n", desc.RepoID)
		fmt.Printf("Default branch: %s\n", desc.DefaultBranch)
		fmt.Printf("Created: %s\n", desc.CreatedAt.Format(time.RFC3339))
		for k, v := range desc.Properties {
			fmt.Printf("  %s: %s\n", k, v)
		}

		refs, _, err := store.ListReferences(cmd.Context(), "", "", 0)
		if err != nil {
			return fmt.Errorf("failed to list references: %w", err)
		}
		fmt.Printf("References: %d\n", len(refs))
		for _, ref := range refs {
			fmt.Printf("  %-6s %-24s %s\n", ref.Kind, ref.Name, shortHash(ref.Head))
		}
		return nil
	},
}
