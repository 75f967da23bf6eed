package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hypercog/internal/engine"
	"hypercog/internal/llm"
	"hypercog/internal/prompts"
	"hypercog/internal/research"
	"hypercog/internal/store"
)

var (
	taskText      string
	intent        string
	sessionFile   string
	attachedFiles []string
	workspacePath string
	timeoutSecs   int
	tokenCeiling  int
	jsonOutput    bool
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	labelStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run one context enrichment",
	Long: `Runs the full pipeline for one task: capture the session context,
evaluate sufficiency, research any gaps, and emit the optimized context.
Session text is read from --session-file or stdin.`,
	RunE: runEnrich,
}

func init() {
	enrichCmd.Flags().StringVarP(&taskText, "task", "t", "", "task text (required)")
	enrichCmd.Flags().StringVar(&intent, "intent", "", "declared intent")
	enrichCmd.Flags().StringVar(&sessionFile, "session-file", "", "file holding the session text (default stdin)")
	enrichCmd.Flags().StringSliceVarP(&attachedFiles, "file", "f", nil, "attached file (repeatable)")
	enrichCmd.Flags().StringVarP(&workspacePath, "workspace", "w", "", "workspace directory to describe")
	enrichCmd.Flags().IntVar(&timeoutSecs, "timeout", 0, "outer deadline in seconds (0 = config default)")
	enrichCmd.Flags().IntVar(&tokenCeiling, "token-ceiling", 0, "per-task token ceiling (0 = config default)")
	enrichCmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the result as JSON")
	_ = enrichCmd.MarkFlagRequired("task")
}

func runEnrich(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sessionText, err := readSessionText()
	if err != nil {
		return err
	}

	client, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create language model client: %w", err)
	}

	promptStore, err := prompts.NewStore(cfg.Storage.PromptsDir)
	if err != nil {
		return fmt.Errorf("failed to load prompt templates: %w", err)
	}
	if cfg.Storage.PromptsDir != "" {
		if err := promptStore.Watch(); err != nil {
			logger.Warn("prompt overlay watcher unavailable", zap.Error(err))
		}
		defer promptStore.Close()
	}

	registry, err := research.NewRegistryFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to configure research backends: %w", err)
	}
	logger.Info("research backends ready", zap.Strings("backends", registry.Names()))

	sessions, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer sessions.Close()

	orch := engine.NewOrchestrator(cfg, client, promptStore, registry, sessions)
	result, err := orch.Enrich(ctx, engine.Request{
		TaskText:       taskText,
		Intent:         intent,
		SessionText:    sessionText,
		AttachedFiles:  attachedFiles,
		WorkspacePath:  workspacePath,
		TimeoutSeconds: timeoutSecs,
		TokenCeiling:   tokenCeiling,
	})
	if err != nil {
		var failure *engine.Failure
		if errors.As(err, &failure) {
			return renderFailure(failure)
		}
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(result)
	}
	renderResult(result)
	return nil
}

func readSessionText() (string, error) {
	if sessionFile != "" {
		data, err := os.ReadFile(sessionFile)
		if err != nil {
			return "", fmt.Errorf("failed to read session file: %w", err)
		}
		return string(data), nil
	}
	info, err := os.Stdin.Stat()
	if err == nil && (info.Mode()&os.ModeCharDevice) != 0 {
		return "", fmt.Errorf("no session text: pass --session-file or pipe text on stdin")
	}
	var b strings.Builder
	buf := make([]byte, 32*1024)
	for {
		n, err := os.Stdin.Read(buf)
		b.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return b.String(), nil
}

func renderResult(result *engine.Result) {
	fmt.Println(titleStyle.Render("Enrichment complete"))
	fmt.Printf("%s %s\n", labelStyle.Render("Extraction:"), result.ExtractionID)
	fmt.Printf("%s %s\n", labelStyle.Render("Final state:"), successStyle.Render(string(result.FinalState)))

	opt := result.Optimized
	fmt.Printf("%s %d -> %d tokens\n", labelStyle.Render("Tokens:"), opt.OriginalTokens, opt.OptimizedTokens)
	if len(opt.Actions) > 0 {
		fmt.Printf("%s %s\n", labelStyle.Render("Actions:"), strings.Join(opt.Actions, ", "))
	}
	for _, ev := range result.Events {
		fmt.Println(warnStyle.Render("event: " + ev))
	}

	if result.Plan != nil {
		fmt.Println()
		fmt.Println(titleStyle.Render(fmt.Sprintf("Decomposed into %d subtasks", len(result.Plan.Subtasks))))
		for _, st := range result.Plan.Ordered() {
			line := fmt.Sprintf("  %d. %s", st.ExecutionRank, st.Name)
			if len(st.DependsOn) > 0 {
				line += faintStyle.Render(" (after " + strings.Join(st.DependsOn, ", ") + ")")
			}
			fmt.Println(line)
		}
	}

	fmt.Println()
	fmt.Println(opt.Render())
}

func renderFailure(failure *engine.Failure) error {
	fmt.Fprintln(os.Stderr, warnStyle.Render(fmt.Sprintf("enrichment failed (%s) in state %s", failure.Kind, failure.LastState)))
	if jsonOutput {
		_ = json.NewEncoder(os.Stderr).Encode(map[string]any{
			"kind":       failure.Kind,
			"message":    failure.Message,
			"last_state": failure.LastState,
		})
	}
	return failure
}
