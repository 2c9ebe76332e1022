package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tarnlabs/tarn/pkg/types"
	"github.com/tarnlabs/tarn/pkg/versioned"
)

var logCmd = &cobra.Command{
	Use:   "log [REF]",
	Short: "Show the commit log of a reference",
	Long: `Walk the commit history reachable from a reference, newest first.
REF may be a name ("main"), a pinned name ("main@<hash>") or a bare
commit hash. Defaults to the configured default branch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		store, cfg, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		spec, err := refSpecArg(args, cfg.DefaultBranch)
		if err != nil {
			return err
		}
		page, err := store.CommitLog(cmd.Context(), spec, "", limit)
		if err != nil {
			return fmt.Errorf("failed to read log: %w", err)
		}
		for _, c := range page.Commits {
			fmt.Printf("commit %s\n", c.ID)
			if len(c.Parents) > 1 {
				fmt.Printf("Merge:  %s %s\n", shortHash(c.Parents[0]), shortHash(c.Parents[1]))
			}
			fmt.Printf("Author: %s\n", c.Author)
			fmt.Printf("Date:   %s\n", c.CommitTime.Format(time.RFC3339))
			fmt.Printf("\n    %s\n\n", c.Message)
		}
		if page.Next != "" {
			fmt.Printf("(more history, continue at %s)\n", page.Next)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get REF KEY",
	Short: "Show the content stored for a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		spec, err := versioned.ParseRefSpec(args[0])
		if err != nil {
			return err
		}
		key, err := types.ParseKey(args[1])
		if err != nil {
			return err
		}

		content, resolved, err := store.GetContent(cmd.Context(), spec, key)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		fmt.Printf("Key:        %s\n", key)
		fmt.Printf("Reference:  %s @ %s\n", resolved.Name(), resolved.Hash)
		fmt.Printf("Type:       %s\n", content.Type)
		fmt.Printf("Content ID: %s\n", content.ContentID)
		switch content.Type {
		case types.ContentTypeIcebergTable:
			fmt.Printf("Metadata:   %s\n", content.MetadataLocation)
			fmt.Printf("Snapshot:   %d\n", content.SnapshotID)
			fmt.Printf("Schema:     %d  Spec: %d  Sort order: %d\n",
				content.SchemaID, content.SpecID, content.SortOrderID)
		case types.ContentTypeIcebergView:
			fmt.Printf("Metadata:   %s\n", content.MetadataLocation)
			fmt.Printf("Version:    %d  Schema: %d\n", content.VersionID, content.SchemaID)
		}
		for k, v := range content.Properties {
			fmt.Printf("  %s: %s\n", k, v)
		}
		return nil
	},
}

var entriesCmd = &cobra.Command{
	Use:   "entries [REF]",
	Short: "List the keys visible at a reference",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")
		limit, _ := cmd.Flags().GetInt("limit")

		store, cfg, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		spec, err := refSpecArg(args, cfg.DefaultBranch)
		if err != nil {
			return err
		}
		var prefixKey types.Key
		if prefix != "" {
			prefixKey, err = types.ParseKey(prefix)
			if err != nil {
				return err
			}
		}

		page, err := store.Entries(cmd.Context(), spec, prefixKey, "", limit)
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}
		for _, e := range page.Entries {
			fmt.Printf("%-14s %s\n", e.ContentType, e.Key)
		}
		if page.Next != "" {
			fmt.Printf("(more entries, continue at %s)\n", page.Next)
		}
		return nil
	},
}

func init() {
	logCmd.Flags().Int("limit", 20, "Maximum number of commits to print")
	entriesCmd.Flags().String("prefix", "", "Only list keys under this namespace")
	entriesCmd.Flags().Int("limit", 0, "Maximum number of entries to print")
}

// refSpecArg parses the optional REF argument, defaulting to a branch.
func refSpecArg(args []string, defaultBranch string) (versioned.RefSpec, error) {
	if len(args) == 0 {
		return versioned.RefSpec{Name: defaultBranch}, nil
	}
	return versioned.ParseRefSpec(args[0])
}
