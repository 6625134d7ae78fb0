package state

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

// Backend names accepted by NewStore.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// NewStore opens the checkpoint store for backend at path. For sqlite the
// path names the database file; for json it names the directory.
func NewStore(backend, path string) (core.Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSQLite:
		// Ensure path has .db extension for SQLite
		if !strings.HasSuffix(path, ".db") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
		}
		return NewSQLiteStore(path)
	case BackendJSON:
		return NewJSONStore(path)
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("unknown state backend %q", backend))
	}
}

var (
	_ core.Store = (*SQLiteStore)(nil)
	_ core.Store = (*JSONStore)(nil)
)
