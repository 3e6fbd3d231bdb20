// Package security implements the boundary gateway for all per-session
// filesystem access. Every path a tool or manager touches is canonicalized
// and bounds-checked against the session's project root before any syscall
// that could read or mutate content.
package security

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"atelier/internal/errors"
	"atelier/internal/logging"
)

// Validator canonicalizes and bounds-checks paths against one project root.
// A Validator is immutable after construction and safe for concurrent use.
type Validator struct {
	root           string // canonical absolute project root
	checkOwnership bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithOwnershipCheck requires validated existing paths to be owned by the
// current uid. Not meaningful on all platforms; see ownership_other.go.
func WithOwnershipCheck() Option {
	return func(v *Validator) { v.checkOwnership = true }
}

// NewValidator creates a Validator rooted at root. The root must exist and
// be a directory; it is resolved to its canonical form once, up front, so
// later prefix checks compare canonical against canonical.
func NewValidator(root string, options ...Option) (*Validator, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.NewValidationError("root", root, stderrors.New("empty project root"))
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.NewValidationError("root", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.AvailabilityError{Resource: "project root " + root, Err: errors.ErrNotFound}
		}
		return nil, errors.Internal("resolve project root", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, &errors.AvailabilityError{Resource: "project root " + root, Err: errors.ErrNotFound}
	}
	if !info.IsDir() {
		return nil, errors.NewValidationError("root", root, stderrors.New("not a directory"))
	}

	v := &Validator{root: resolved}
	for _, opt := range options {
		opt(v)
	}
	return v, nil
}

// Root returns the canonical project root.
func (v *Validator) Root() string { return v.root }

// ValidatePath canonicalizes path and checks it stays inside the project
// root. Relative paths are interpreted against the root. The returned path is
// the canonical absolute form callers must use for the actual filesystem
// operation, never the input, so a path cannot be swapped between check and
// use at the string level.
//
// The final component may not exist yet (writes create it); everything above
// it must exist and must resolve inside the boundary.
func (v *Validator) ValidatePath(path string) (string, error) {
	target := path
	if strings.TrimSpace(target) == "" {
		target = v.root
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(v.root, target)
	}
	clean := filepath.Clean(target)

	// Lexical containment first: a cleaned path already outside the root is
	// plain traversal, no symlink involved.
	if !v.contains(clean) {
		logging.SecurityWarn("rejected path outside boundary: %s (root %s)", path, v.root)
		return "", &errors.SecurityError{Path: path, Root: v.root, Err: errors.ErrOutsideBoundary}
	}

	resolved, err := v.resolve(clean)
	if err != nil {
		return "", err
	}

	// Post-resolution containment: if canonicalizing moved the path outside
	// the root, a symlink inside the tree points out of it.
	if !v.contains(resolved) {
		logging.SecurityWarn("rejected symlink escape: %s -> %s (root %s)", path, resolved, v.root)
		return "", &errors.SecurityError{Path: path, Root: v.root, Err: errors.ErrSymlinkEscape}
	}

	if v.checkOwnership {
		if err := checkOwner(resolved); err != nil {
			logging.SecurityWarn("rejected ownership mismatch: %s", resolved)
			return "", &errors.SecurityError{Path: path, Root: v.root, Err: err}
		}
	}

	return resolved, nil
}

// contains reports whether p equals the root or sits beneath it.
func (v *Validator) contains(p string) bool {
	if p == v.root {
		return true
	}
	return strings.HasPrefix(p, v.root+string(os.PathSeparator))
}

// resolve canonicalizes clean, tolerating a non-existent suffix: the deepest
// existing ancestor is resolved through symlinks and the remaining components
// are re-appended. The remainder is already Clean, so it cannot smuggle ".."
// back in.
func (v *Validator) resolve(clean string) (string, error) {
	resolved, err := filepath.EvalSymlinks(clean)
	if err == nil {
		return resolved, nil
	}
	if !stderrors.Is(err, os.ErrNotExist) {
		return "", errors.Internal(fmt.Sprintf("resolve %s", clean), err)
	}

	// Walk up to the nearest existing ancestor.
	prefix := clean
	var suffix string
	for {
		parent := filepath.Dir(prefix)
		if parent == prefix {
			// Hit the filesystem root without finding anything; treat the
			// original cleaned path as canonical.
			return clean, nil
		}
		suffix = filepath.Join(filepath.Base(prefix), suffix)
		prefix = parent

		resolved, err = filepath.EvalSymlinks(prefix)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !stderrors.Is(err, os.ErrNotExist) {
			return "", errors.Internal(fmt.Sprintf("resolve %s", prefix), err)
		}
	}
}

// ValidateExisting is ValidatePath plus an existence requirement, used by
// reads and listings where a missing target is an error, not a creation site.
func (v *Validator) ValidateExisting(path string) (string, error) {
	resolved, err := v.ValidatePath(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(resolved); err != nil {
		if os.IsNotExist(err) {
			return "", &errors.AvailabilityError{Resource: path, Err: errors.ErrNotFound}
		}
		return "", errors.Internal(fmt.Sprintf("stat %s", resolved), err)
	}
	return resolved, nil
}
