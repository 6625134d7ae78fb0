package stages

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// Default workspace file names the prompts steer the engine towards.
const (
	DesignFile    = "design.v"
	TestbenchFile = "tb.v"
)

// PromptMeta is the frontmatter of an embedded prompt.
type PromptMeta struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Stage string `yaml:"stage"`
	Role  string `yaml:"role"`
}

// PromptParams is the data every prompt template renders from.
type PromptParams struct {
	DesignSpec      string
	DesignFile      string
	TestbenchFile   string
	LatestError     string
	Iteration       int
	MaxIterations   int
	TopModule       string
	SynthesisStatus core.ResultStatus
}

func paramsFor(state *core.WorkflowState) PromptParams {
	return PromptParams{
		DesignSpec:      state.DesignSpec,
		DesignFile:      DesignFile,
		TestbenchFile:   TestbenchFile,
		LatestError:     state.LatestErrorLog(),
		Iteration:       state.IterationCount,
		MaxIterations:   state.MaxIterations,
		SynthesisStatus: state.SynthesisStatus,
	}
}

// PromptRenderer renders the embedded stage prompts.
type PromptRenderer struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	meta      map[string]PromptMeta
}

var (
	defaultRenderer     *PromptRenderer
	defaultRendererErr  error
	defaultRendererOnce sync.Once
)

// DefaultPrompts returns the shared renderer, parsing templates once.
func DefaultPrompts() (*PromptRenderer, error) {
	defaultRendererOnce.Do(func() {
		defaultRenderer, defaultRendererErr = NewPromptRenderer()
	})
	return defaultRenderer, defaultRendererErr
}

// NewPromptRenderer parses and validates every embedded template.
func NewPromptRenderer() (*PromptRenderer, error) {
	r := &PromptRenderer{
		templates: make(map[string]*template.Template),
		meta:      make(map[string]PromptMeta),
	}
	err := fs.WalkDir(promptsFS, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md.tmpl") {
			return nil
		}
		content, err := promptsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		id := strings.TrimSuffix(strings.TrimPrefix(path, "prompts/"), ".md.tmpl")
		fmRaw, body, ok := splitFrontmatter(string(content))
		if !ok {
			return fmt.Errorf("missing frontmatter (id=%s)", id)
		}
		var meta PromptMeta
		if err := yaml.Unmarshal([]byte(fmRaw), &meta); err != nil {
			return fmt.Errorf("parsing frontmatter (id=%s): %w", id, err)
		}
		if err := validateMeta(meta, id); err != nil {
			return err
		}

		tmpl, err := template.New(id).Option("missingkey=error").Parse(body)
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", id, err)
		}
		r.templates[id] = tmpl
		r.meta[id] = meta
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}
	return r, nil
}

// Render executes a template by id.
func (r *PromptRenderer) Render(id string, params PromptParams) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[id]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("prompt %s not found", id)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("rendering %s: %w", id, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Meta returns the frontmatter of a prompt.
func (r *PromptRenderer) Meta(id string) (PromptMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meta[id]
	return m, ok
}

// messages renders a system prompt followed by a user request.
func (r *PromptRenderer) messages(systemID, userID string, params PromptParams) ([]core.Message, error) {
	system, err := r.Render(systemID, params)
	if err != nil {
		return nil, err
	}
	user, err := r.Render(userID, params)
	if err != nil {
		return nil, err
	}
	return []core.Message{core.SystemMessage(system), core.UserMessage(user)}, nil
}

func splitFrontmatter(raw string) (frontmatter, body string, ok bool) {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	if !strings.HasPrefix(s, "---\n") {
		return "", s, false
	}
	rest := s[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end == -1 {
		return "", s, false
	}
	return rest[:end], strings.TrimLeft(rest[end+len("\n---\n"):], "\n"), true
}

func validateMeta(meta PromptMeta, id string) error {
	if meta.ID != id {
		return fmt.Errorf("frontmatter: id %q does not match filename %q", meta.ID, id)
	}
	if strings.TrimSpace(meta.Title) == "" {
		return fmt.Errorf("frontmatter: title is required (id=%s)", id)
	}
	if !core.ValidStage(core.StageName(meta.Stage)) {
		return fmt.Errorf("frontmatter: invalid stage %q (id=%s)", meta.Stage, id)
	}
	switch meta.Role {
	case string(core.RoleSystem), string(core.RoleUser):
	default:
		return fmt.Errorf("frontmatter: invalid role %q (id=%s)", meta.Role, id)
	}
	return nil
}
