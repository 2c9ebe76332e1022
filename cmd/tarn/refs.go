package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tarnlabs/tarn/pkg/types"
)

var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "Manage branches and tags",
}

var refsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List references",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetString("filter")

		store, _, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		refs, _, err := store.ListReferences(cmd.Context(), filter, "", 0)
		if err != nil {
			return fmt.Errorf("failed to list references: %w", err)
		}
		for _, ref := range refs {
			fmt.Printf("%-6s %-24s %s\n", ref.Kind, ref.Name, shortHash(ref.Head))
		}
		return nil
	},
}

var refsCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a branch or tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		at, _ := cmd.Flags().GetString("at")
		tag, _ := cmd.Flags().GetBool("tag")

		store, _, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		var head types.ID
		if at != "" {
			head, err = store.ResolveCommitPrefix(cmd.Context(), at)
			if err != nil {
				return fmt.Errorf("failed to resolve %q: %w", at, err)
			}
		}

		var ref *types.Reference
		if tag {
			ref, err = store.CreateTag(cmd.Context(), name, head)
		} else {
			ref, err = store.CreateBranch(cmd.Context(), name, head)
		}
		if err != nil {
			return fmt.Errorf("failed to create reference: %w", err)
		}
		fmt.Printf("✓ %s %q created at %s\n", ref.Kind, ref.Name, shortHash(ref.Head))
		return nil
	},
}

var refsDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		expected, _ := cmd.Flags().GetString("expected")

		store, _, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		var head types.ID
		if expected != "" {
			head, err = store.ResolveCommitPrefix(cmd.Context(), expected)
			if err != nil {
				return fmt.Errorf("failed to resolve %q: %w", expected, err)
			}
		} else {
			ref, err := store.GetReference(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("failed to load reference: %w", err)
			}
			head = ref.Head
		}

		if err := store.DeleteReference(cmd.Context(), name, head); err != nil {
			return fmt.Errorf("failed to delete reference: %w", err)
		}
		fmt.Printf("✓ Reference %q deleted\n", name)
		return nil
	},
}

func init() {
	refsCmd.AddCommand(refsListCmd)
	refsCmd.AddCommand(refsCreateCmd)
	refsCmd.AddCommand(refsDeleteCmd)

	refsListCmd.Flags().String("filter", "", "Only list names starting with this prefix")
	refsCreateCmd.Flags().String("at", "", "Commit hash (or unique prefix) the reference points at")
	refsCreateCmd.Flags().Bool("tag", false, "Create an immutable tag instead of a branch")
	refsDeleteCmd.Flags().String("expected", "", "Expected head hash; defaults to the current head")
}

func shortHash(id types.ID) string {
	if id.IsZero() {
		return "-"
	}
	return id.String()[:12]
}
