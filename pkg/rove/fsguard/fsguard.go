// Package fsguard implements the canonicalising path validator from
// spec.md §4.6. It plays the role the teacher's tool_guard.go gives to
// initProtectedPaths/isPathSafe, generalized from a handful of
// hand-picked SSH/AWS paths to the spec's fixed deny list and
// four-gate validation order.
package fsguard

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ovrishq/rove/pkg/rove/errs"
)

// denyList is the fixed set of leaf names/fragments no candidate path may
// equal or end with, per spec.md §4.6.
var denyList = []string{
	".ssh", ".env", ".aws/credentials", ".config/gcloud",
	"id_rsa", "id_ed25519", "id_dsa", ".gnupg", ".kube/config",
	"credentials", "private_key", ".npmrc", ".pypirc",
}

// Guard validates candidate paths against a fixed workspace root.
type Guard struct {
	workspaceCanonical string
}

// New canonicalises workspace once at construction (resolving symlinks),
// per spec.md §4.6's "Construction" step.
func New(workspace string) (*Guard, error) {
	canonical, err := filepath.EvalSymlinks(workspace)
	if err != nil {
		return nil, fmt.Errorf("canonicalising workspace %q: %w", workspace, err)
	}
	return &Guard{workspaceCanonical: canonical}, nil
}

// matchesDenyList reports whether any path component equals, or the full
// path ends with, any deny-list entry (gate 1 and its gate-3 reapplication).
func matchesDenyList(path string) (string, bool) {
	normalized := filepath.ToSlash(path)
	components := strings.Split(normalized, "/")
	for _, entry := range denyList {
		if strings.HasSuffix(normalized, entry) {
			return entry, true
		}
		for _, c := range components {
			if c == entry {
				return entry, true
			}
		}
	}
	return "", false
}

// Validate runs all four gates for a path expected to already exist.
func (g *Guard) Validate(path string) (string, error) {
	if entry, hit := matchesDenyList(path); hit {
		return "", errs.New(errs.KindPathDenied, fmt.Sprintf("path matches denied entry %q", entry))
	}

	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", errs.Wrap(errs.KindPathCanonicalization, fmt.Sprintf("canonicalising %q", path), err)
	}

	if entry, hit := matchesDenyList(canonical); hit {
		return "", errs.New(errs.KindPathDenied, fmt.Sprintf("canonical path matches denied entry %q", entry))
	}

	if !isWithin(canonical, g.workspaceCanonical) {
		return "", errs.New(errs.KindPathOutsideWorkspace, fmt.Sprintf("%q escapes workspace %q", canonical, g.workspaceCanonical))
	}

	return canonical, nil
}

// ValidateForCreate runs only gate 1, for paths that do not yet exist
// (e.g. a file about to be written), per spec.md §4.6's non-existence
// variant.
func (g *Guard) ValidateForCreate(path string) error {
	if entry, hit := matchesDenyList(path); hit {
		return errs.New(errs.KindPathDenied, fmt.Sprintf("path matches denied entry %q", entry))
	}
	return nil
}

func isWithin(candidate, root string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
