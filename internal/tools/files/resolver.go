package files

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/internal/workspace"
)

// Resolver confines workspace-relative paths under its Root using
// workspace.Resolve, the shared canonicalise-longest-existing-prefix
// sandbox algorithm every filesystem tool routes through.
type Resolver struct {
	Root string
}

// Resolve returns an absolute, canonicalised path within the workspace root.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	return workspace.Resolve(root, clean)
}
