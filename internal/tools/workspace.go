package tools

import (
	"os"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/fsutil"
)

// Workspace confines tool file access to one session directory.
type Workspace struct {
	root string
}

// NewWorkspace returns a workspace rooted at dir, which is created if absent.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Workspace{root: abs}, nil
}

// Root is the absolute workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps a workspace-relative name to an absolute path inside the root.
func (w *Workspace) Resolve(name string) (string, error) {
	return fsutil.ResolveWithin(w.root, name)
}

// ReadFile reads a workspace file.
func (w *Workspace) ReadFile(name string) ([]byte, error) {
	return fsutil.ReadFileWithin(w.root, name)
}

// WriteFile atomically writes a workspace file and returns its path.
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	return fsutil.WriteFileWithin(w.root, name, data, 0o644)
}

// Rel returns path relative to the workspace root, using forward slashes.
func (w *Workspace) Rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// Exists reports whether a workspace file exists.
func (w *Workspace) Exists(name string) bool {
	path, err := w.Resolve(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
