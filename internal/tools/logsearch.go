package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// MaxLogMatches caps search_logs output lines.
const MaxLogMatches = 50

var logSearchPatterns = []string{
	"{" + ReportsDir + "," + LogsDir + "," + ResultsDir + "}/**/*.{log,rpt,txt,v,json}",
}

// SearchLogsTool greps flow reports and logs for a keyword.
type SearchLogsTool struct {
	ws *Workspace
}

func NewSearchLogsTool(ws *Workspace) *SearchLogsTool { return &SearchLogsTool{ws: ws} }

func (t *SearchLogsTool) Name() string { return NameSearchLogs }

func (t *SearchLogsTool) Description() string {
	return "Case-insensitive search of synthesis logs, reports and results for a keyword (e.g. 'Chip area', 'wns', 'ERROR')."
}

func (t *SearchLogsTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"query": stringProp("Keyword or phrase to search for"),
	}, "query")
}

func (t *SearchLogsTool) Invoke(_ context.Context, args map[string]any) (Output, error) {
	query := stringArg(args, "query")
	if strings.TrimSpace(query) == "" {
		return Failed("Error: query must not be empty"), nil
	}

	fsys := os.DirFS(t.ws.Root())
	files := allMatches(fsys, logSearchPatterns)
	if len(files) == 0 {
		return Failed("No log files found to search."), nil
	}

	matches := SearchFiles(fsys, files, query, MaxLogMatches)
	if len(matches) == 0 {
		return Succeeded(fmt.Sprintf("No matches found for '%s'.", query), []string{}), nil
	}
	return Succeeded(strings.Join(matches, "\n"), matches), nil
}

// SearchFiles returns up to limit lines containing query, case-insensitively,
// formatted with file and line provenance. Unreadable files are skipped.
func SearchFiles(fsys fs.FS, files []string, query string, limit int) []string {
	needle := strings.ToLower(query)
	var out []string
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			text := sc.Text()
			if strings.Contains(strings.ToLower(text), needle) {
				out = append(out, fmt.Sprintf("File: %s | Line %d: %s", name, line, strings.TrimSpace(text)))
				if len(out) >= limit {
					return out
				}
			}
		}
	}
	return out
}
