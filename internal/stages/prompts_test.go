package stages

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

func TestPromptRenderer_LoadsEveryPrompt(t *testing.T) {
	r, err := NewPromptRenderer()
	require.NoError(t, err)

	ids := []string{
		"coder-system", "coder-generate", "coder-fix",
		"verifier-system", "verifier-task",
		"synthesizer-system", "synthesizer-task",
		"ppa-system", "ppa-task",
		"architect-system", "architect-task",
	}
	params := PromptParams{
		DesignSpec:    "A 4-bit counter.",
		DesignFile:    DesignFile,
		TestbenchFile: TestbenchFile,
		LatestError:   "simulate [failed]: mismatch at t=20",
		Iteration:     1,
		MaxIterations: 3,
		TopModule:     "counter",
	}
	for _, id := range ids {
		meta, ok := r.Meta(id)
		require.True(t, ok, "missing prompt %s", id)
		assert.Equal(t, id, meta.ID)

		out, err := r.Render(id, params)
		require.NoError(t, err, id)
		assert.NotEmpty(t, out, id)
	}
}

func TestPromptRenderer_FixCarriesLatestError(t *testing.T) {
	r, err := DefaultPrompts()
	require.NoError(t, err)

	out, err := r.Render("coder-fix", PromptParams{
		DesignSpec:    "spec",
		DesignFile:    DesignFile,
		LatestError:   "Simulation FAILED: expected 3 got 2",
		Iteration:     2,
		MaxIterations: 3,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Simulation FAILED: expected 3 got 2")
	assert.Contains(t, out, "attempt 2 of 3")
}

func TestPromptRenderer_UnknownPrompt(t *testing.T) {
	r, err := DefaultPrompts()
	require.NoError(t, err)
	_, err = r.Render("nope", PromptParams{})
	assert.Error(t, err)
}

func TestSplitFrontmatter(t *testing.T) {
	fm, body, ok := splitFrontmatter("---\r\nid: x\r\n---\r\n\r\nhello\r\n")
	require.True(t, ok)
	assert.Equal(t, "id: x", fm)
	assert.Equal(t, "hello\n", body)

	_, _, ok = splitFrontmatter("no frontmatter")
	assert.False(t, ok)
}

func TestValidateMeta(t *testing.T) {
	good := PromptMeta{ID: "coder-fix", Title: "t", Stage: string(core.StageCoder), Role: "user"}
	assert.NoError(t, validateMeta(good, "coder-fix"))

	bad := good
	bad.ID = "other"
	assert.Error(t, validateMeta(bad, "coder-fix"))

	bad = good
	bad.Stage = "reviewer"
	assert.Error(t, validateMeta(bad, "coder-fix"))

	bad = good
	bad.Role = "assistant"
	err := validateMeta(bad, "coder-fix")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "role"))
}
