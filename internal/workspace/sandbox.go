package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapesWorkspace is returned by Resolve when a path, after
// canonicalisation, would fall outside its workspace root.
var ErrEscapesWorkspace = errors.New("path escapes workspace")

// Resolve confines raw under root: it rejects absolute paths and ".."
// segments, then canonicalises the longest existing ancestor of the joined
// path and re-appends the non-existent tail, so that symlinks already on
// disk can't be used to escape the root. Every tool that touches the
// filesystem routes through this.
func Resolve(root, raw string) (string, error) {
	if filepath.IsAbs(raw) {
		return "", fmt.Errorf("%w: %q is absolute", ErrEscapesWorkspace, raw)
	}
	if containsDotDot(raw) {
		return "", fmt.Errorf("%w: %q contains ..", ErrEscapesWorkspace, raw)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	canonRoot, err := canonicalize(absRoot)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	joined := filepath.Join(absRoot, raw)
	canonTarget, err := canonicalizeLongestExistingPrefix(joined)
	if err != nil {
		return "", err
	}

	if !withinRoot(canonRoot, canonTarget) {
		return "", fmt.Errorf("%w: %q", ErrEscapesWorkspace, raw)
	}
	return canonTarget, nil
}

func containsDotDot(raw string) bool {
	for _, part := range strings.Split(filepath.ToSlash(raw), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// canonicalizeLongestExistingPrefix walks up from path until it finds an
// ancestor that exists, canonicalises that ancestor (resolving symlinks),
// then re-appends the tail that doesn't exist yet.
func canonicalizeLongestExistingPrefix(path string) (string, error) {
	tail := ""
	cur := filepath.Clean(path)
	for {
		if _, err := os.Lstat(cur); err == nil {
			canonCur, err := canonicalize(cur)
			if err != nil {
				return "", err
			}
			if tail == "" {
				return canonCur, nil
			}
			return filepath.Join(canonCur, tail), nil
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("no existing ancestor found for %q", path)
		}
		base := filepath.Base(cur)
		if tail == "" {
			tail = base
		} else {
			tail = filepath.Join(base, tail)
		}
		cur = parent
	}
}

func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("evaluate symlinks for %q: %w", path, err)
	}
	return resolved, nil
}

func withinRoot(root, target string) bool {
	if target == root {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(target, strings.TrimSuffix(root, sep)+sep)
}
