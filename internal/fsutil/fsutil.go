package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ResolveWithin joins rel onto root and rejects results that leave root.
// Absolute paths are accepted only when they already point inside root.
func ResolveWithin(root, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("empty path")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	var target string
	if filepath.IsAbs(rel) {
		target = filepath.Clean(rel)
	} else {
		target = filepath.Join(absRoot, rel)
	}

	within, err := filepath.Rel(absRoot, target)
	if err != nil {
		return "", err
	}
	if within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %s", rel, absRoot)
	}
	if within == "." {
		return "", fmt.Errorf("path %q names the root directory", rel)
	}
	return target, nil
}

// ReadFileWithin reads rel through an os.Root opened at root, so symlinks
// cannot lead outside the directory either.
func ReadFileWithin(root, rel string) ([]byte, error) {
	target, err := ResolveWithin(root, rel)
	if err != nil {
		return nil, err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	name, err := filepath.Rel(absRoot, target)
	if err != nil {
		return nil, err
	}

	r, err := os.OpenRoot(absRoot)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	file, err := r.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

// WriteFileWithin atomically writes rel under root, creating parent
// directories as needed.
func WriteFileWithin(root, rel string, data []byte, perm os.FileMode) (string, error) {
	target, err := ResolveWithin(root, rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	if err := WriteFileAtomic(target, data, perm); err != nil {
		return "", err
	}
	return target, nil
}
