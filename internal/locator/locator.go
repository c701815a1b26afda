// Package locator resolves the on-disk template file for a request:
// try DOCUMENT_URI, SCRIPT_NAME, PATH_INFO, then the literal fallback
// "index.tcl", relative to a base directory, using the first candidate
// that is an existing, regular, readable file.
package locator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultTemplate is the fallback template name tried last.
const DefaultTemplate = "index.tcl"

// NotFoundError is returned when no candidate resolves; Last names the
// final candidate tried, for the 404 body ("Could not find <last
// candidate> on the server").
type NotFoundError struct {
	Last string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("could not find %s on the server", e.Last)
}

// Resolve returns base joined with the first candidate
// that exists, is a regular file, and is readable. base is scriptPath if
// non-empty, else headers["DOCUMENT_ROOT"].
func Resolve(scriptPath string, headers map[string]string) (string, error) {
	base := scriptPath
	if base == "" {
		base = headers["DOCUMENT_ROOT"]
	}

	candidates := []string{}
	for _, key := range []string{"DOCUMENT_URI", "SCRIPT_NAME", "PATH_INFO"} {
		if v := headers[key]; v != "" {
			candidates = append(candidates, strings.TrimPrefix(v, "/"))
		}
	}
	candidates = append(candidates, DefaultTemplate)

	var last string
	for _, candidate := range candidates {
		last = candidate
		full := filepath.Join(base, candidate)
		if isReadableRegularFile(full) {
			return full, nil
		}
	}
	return "", &NotFoundError{Last: last}
}

func isReadableRegularFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
