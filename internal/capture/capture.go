// Package capture snapshots the raw material a session hands us: the
// conversation text, attached files, and a shallow view of the workspace.
// The snapshot is persisted before any enrichment runs so later stages
// always work from a stable manifest.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hypercog/internal/logging"
	"hypercog/internal/store"
	"hypercog/internal/tokens"
)

// File extensions whose content is inlined into the manifest. Anything
// else is recorded by path and size only.
var inlineExtensions = map[string]bool{
	".md":   true,
	".txt":  true,
	".go":   true,
	".py":   true,
	".js":   true,
	".ts":   true,
	".json": true,
	".yaml": true,
	".yml":  true,
}

const maxWorkspaceDepth = 2

// Request describes what a session wants captured.
type Request struct {
	SessionText   string   `json:"session_text"`
	AttachedFiles []string `json:"attached_files,omitempty"`
	WorkspacePath string   `json:"workspace_path,omitempty"`
	UserIntent    string   `json:"user_intent,omitempty"`
}

// Attachment is one processed attached file.
type Attachment struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// IntentAnalysis is a cheap heuristic classification of the task.
type IntentAnalysis struct {
	ExplicitIntent string `json:"explicit_intent,omitempty"`
	InferredType   string `json:"inferred_type"`
	Complexity     string `json:"complexity"`
}

// Manifest is the persisted capture result.
type Manifest struct {
	ExtractionID  string         `json:"extraction_id"`
	Timestamp     time.Time      `json:"timestamp"`
	SessionText   string         `json:"session_text"`
	AttachedFiles []Attachment   `json:"attached_files,omitempty"`
	Workspace     map[string]any `json:"workspace,omitempty"`
	Intent        IntentAnalysis `json:"intent"`
	TokenCount    int            `json:"token_count"`
}

// CombinedText returns everything the evaluator should see as one blob:
// session text followed by inlined attachment contents.
func (m *Manifest) CombinedText() string {
	if len(m.AttachedFiles) == 0 {
		return m.SessionText
	}
	var b strings.Builder
	b.WriteString(m.SessionText)
	for _, att := range m.AttachedFiles {
		if att.Content == "" {
			continue
		}
		b.WriteString("\n\n--- ")
		b.WriteString(att.Name)
		b.WriteString(" ---\n")
		b.WriteString(att.Content)
	}
	return b.String()
}

// Extractor captures session context into the store and the prompt_store
// directory on disk.
type Extractor struct {
	storageRoot string
	store       *store.SessionStore
	counter     *tokens.Counter
}

// NewExtractor creates an extractor rooted at storageRoot. The store may
// be nil, in which case manifests are written to disk only.
func NewExtractor(storageRoot string, st *store.SessionStore) *Extractor {
	return &Extractor{
		storageRoot: storageRoot,
		store:       st,
		counter:     tokens.NewCounter(),
	}
}

// Capture snapshots the request into a manifest and persists it.
func (e *Extractor) Capture(ctx context.Context, req Request) (*Manifest, error) {
	timer := logging.StartTimer(logging.CategoryCapture, "capture")
	defer timer.Stop()

	m := &Manifest{
		ExtractionID: uuid.New().String(),
		Timestamp:    time.Now(),
		SessionText:  req.SessionText,
		Intent: IntentAnalysis{
			ExplicitIntent: req.UserIntent,
			InferredType:   inferTaskType(req.SessionText),
			Complexity:     estimateComplexity(req.SessionText),
		},
	}

	attachments, err := e.processAttachments(ctx, req.AttachedFiles)
	if err != nil {
		return nil, err
	}
	m.AttachedFiles = attachments

	if req.WorkspacePath != "" {
		m.Workspace = describeWorkspace(req.WorkspacePath)
	}

	m.TokenCount = e.counter.Count(m.CombinedText())

	if err := e.persist(m); err != nil {
		return nil, err
	}

	logging.Capture("captured extraction %s: %d files, %d tokens, intent=%s",
		m.ExtractionID, len(m.AttachedFiles), m.TokenCount, m.Intent.InferredType)
	return m, nil
}

func (e *Extractor) processAttachments(ctx context.Context, paths []string) ([]Attachment, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	// Slots keep the caller's attachment order regardless of which
	// goroutine finishes first.
	slots := make([]*Attachment, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := os.Stat(p)
			if err != nil {
				// Missing attachments are skipped, not fatal.
				logging.Get(logging.CategoryCapture).Warn("attached file %s unreadable: %v", p, err)
				return nil
			}
			if info.IsDir() {
				return nil
			}
			att := Attachment{
				Path: p,
				Name: filepath.Base(p),
				Size: info.Size(),
				Type: filepath.Ext(p),
			}
			if inlineExtensions[att.Type] {
				data, err := os.ReadFile(p)
				if err != nil {
					return fmt.Errorf("failed to read attachment %s: %w", p, err)
				}
				att.Content = string(data)
			}
			slots[i] = &att
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Attachment, 0, len(paths))
	for _, att := range slots {
		if att != nil {
			out = append(out, *att)
		}
	}
	return out, nil
}

func (e *Extractor) persist(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	dir := filepath.Join(e.storageRoot, "prompt_store")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create prompt store: %w", err)
	}
	path := filepath.Join(dir, m.ExtractionID+"_context.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if e.store != nil {
		if err := e.store.SaveExtraction(
			m.ExtractionID, firstLine(m.SessionText), m.Intent.InferredType,
			len(m.AttachedFiles), string(data),
		); err != nil {
			return err
		}
	}
	return nil
}

// describeWorkspace lists directories and files under root, two levels
// deep. Hidden directories are skipped.
func describeWorkspace(root string) map[string]any {
	if _, err := os.Stat(root); err != nil {
		return nil
	}
	return map[string]any{
		"path":      root,
		"name":      filepath.Base(root),
		"structure": directoryStructure(root, maxWorkspaceDepth),
	}
}

func directoryStructure(path string, depth int) map[string]any {
	if depth == 0 {
		return map[string]any{}
	}
	structure := make(map[string]any)
	entries, err := os.ReadDir(path)
	if err != nil {
		return structure
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if strings.HasPrefix(name, ".") {
				continue
			}
			structure[name] = directoryStructure(filepath.Join(path, name), depth-1)
		} else {
			structure[name] = "file"
		}
	}
	return structure
}

func inferTaskType(text string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "implement", "create", "build", "develop"):
		return "implementation"
	case containsAny(lower, "fix", "debug", "error", "issue"):
		return "debugging"
	case containsAny(lower, "refactor", "improve", "optimize"):
		return "refactoring"
	case containsAny(lower, "explain", "understand", "how does"):
		return "explanation"
	default:
		return "general"
	}
}

func estimateComplexity(text string) string {
	words := len(strings.Fields(text))
	switch {
	case words < 50:
		return "low"
	case words < 200:
		return "medium"
	default:
		return "high"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return strings.TrimSpace(s)
}
