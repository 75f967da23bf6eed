package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"hypercog/internal/prompts"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Manage agent prompt templates",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded prompt templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := prompts.NewStore(cfg.Storage.PromptsDir)
		if err != nil {
			return err
		}
		names := store.Names()
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var promptsShowCmd = &cobra.Command{
	Use:   "show [agent]",
	Short: "Print one agent's active template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := prompts.NewStore(cfg.Storage.PromptsDir)
		if err != nil {
			return err
		}
		tmpl := store.Get(args[0])
		if tmpl == "" {
			return fmt.Errorf("no template for agent %q", args[0])
		}
		fmt.Print(tmpl)
		return nil
	},
}

var promptsReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Re-read overlay templates and report what is active",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := prompts.NewStore(cfg.Storage.PromptsDir)
		if err != nil {
			return err
		}
		// A broken overlay surfaces here instead of at enrich time.
		if err := store.Reload(); err != nil {
			return fmt.Errorf("reload failed: %w", err)
		}
		names := store.Names()
		sort.Strings(names)
		fmt.Printf("reloaded %d templates", len(names))
		if cfg.Storage.PromptsDir != "" {
			fmt.Printf(" (overlay: %s)", cfg.Storage.PromptsDir)
		}
		fmt.Println()
		for _, name := range names {
			fmt.Println("  " + name)
		}
		return nil
	},
}

func init() {
	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsShowCmd)
	promptsCmd.AddCommand(promptsReloadCmd)
}
