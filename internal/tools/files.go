package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Tool names shared with the stages.
const (
	NameWriteFile  = "write_file"
	NameReadFile   = "read_file"
	NameEditFile   = "edit_file"
	NameLint       = "lint"
	NameSimulate   = "simulate"
	NameWaveform   = "waveform"
	NameSynthesize = "synthesize"
	NameGetMetrics = "get_metrics"
	NameSearchLogs = "search_logs"
)

// WriteFileTool creates or overwrites a workspace file.
type WriteFileTool struct {
	ws *Workspace
}

func NewWriteFileTool(ws *Workspace) *WriteFileTool { return &WriteFileTool{ws: ws} }

func (t *WriteFileTool) Name() string { return NameWriteFile }

func (t *WriteFileTool) Description() string {
	return "Write content to a file in the session workspace, replacing any existing file."
}

func (t *WriteFileTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"filename": stringProp("Workspace-relative file name, e.g. counter.v"),
		"content":  stringProp("Full file content"),
	}, "filename", "content")
}

func (t *WriteFileTool) Invoke(_ context.Context, args map[string]any) (Output, error) {
	name := stringArg(args, "filename")
	content := stringArg(args, "content")

	path, err := t.ws.WriteFile(name, []byte(content))
	if err != nil {
		return Failedf("Error writing %s: %v", name, err), nil
	}
	return Succeeded(fmt.Sprintf("Wrote %d bytes to %s", len(content), t.ws.Rel(path)), nil), nil
}

// ReadFileTool returns the content of a workspace file.
type ReadFileTool struct {
	ws *Workspace
}

func NewReadFileTool(ws *Workspace) *ReadFileTool { return &ReadFileTool{ws: ws} }

func (t *ReadFileTool) Name() string { return NameReadFile }

func (t *ReadFileTool) Description() string {
	return "Read a file from the session workspace."
}

func (t *ReadFileTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"filename": stringProp("Workspace-relative file name"),
	}, "filename")
}

func (t *ReadFileTool) Invoke(_ context.Context, args map[string]any) (Output, error) {
	name := stringArg(args, "filename")
	data, err := t.ws.ReadFile(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Failedf("Error: file %s does not exist", name), nil
		}
		return Failedf("Error reading %s: %v", name, err), nil
	}
	return Succeeded(string(data), nil), nil
}

// EditFileTool replaces text inside a workspace file.
type EditFileTool struct {
	ws *Workspace
}

func NewEditFileTool(ws *Workspace) *EditFileTool { return &EditFileTool{ws: ws} }

func (t *EditFileTool) Name() string { return NameEditFile }

func (t *EditFileTool) Description() string {
	return "Replace old_text with new_text in a workspace file. old_text must occur exactly once unless replace_all is true."
}

func (t *EditFileTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"filename":    stringProp("Workspace-relative file name"),
		"old_text":    stringProp("Exact text to replace"),
		"new_text":    stringProp("Replacement text"),
		"replace_all": boolProp("Replace every occurrence"),
	}, "filename", "old_text", "new_text")
}

func (t *EditFileTool) Invoke(_ context.Context, args map[string]any) (Output, error) {
	name := stringArg(args, "filename")
	oldText := stringArg(args, "old_text")
	newText := stringArg(args, "new_text")
	all := boolArg(args, "replace_all")

	if oldText == "" {
		return Failed("Error: old_text must not be empty"), nil
	}
	data, err := t.ws.ReadFile(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Failedf("Error: file %s does not exist", name), nil
		}
		return Failedf("Error reading %s: %v", name, err), nil
	}

	content := string(data)
	count := strings.Count(content, oldText)
	switch {
	case count == 0:
		return Failedf("Error: old_text not found in %s", name), nil
	case count > 1 && !all:
		return Failedf("Error: old_text occurs %d times in %s; make it unique or set replace_all", count, name), nil
	}

	n := 1
	if all {
		n = -1
	}
	updated := strings.Replace(content, oldText, newText, n)
	if _, err := t.ws.WriteFile(name, []byte(updated)); err != nil {
		return Failedf("Error writing %s: %v", name, err), nil
	}
	replaced := 1
	if all {
		replaced = count
	}
	return Succeeded(fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, name), nil), nil
}
