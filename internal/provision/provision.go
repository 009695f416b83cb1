// Package provision creates the per-user directory that registration
// promises: <root>/<username>/placeholder.txt.
package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/atomicwriter"

	"github.com/sakif/project-portal/internal/apperror"
)

// PlaceholderName is the file written into every new user directory.
const PlaceholderName = "placeholder.txt"

// Provisioner owns a root directory and creates user directories under it.
type Provisioner struct {
	root string
}

// New returns a Provisioner rooted at root. The root is created lazily by
// the first Provision call.
func New(root string) (*Provisioner, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("provision: resolving root %q: %w", root, err)
	}
	return &Provisioner{root: abs}, nil
}

// Root returns the absolute root directory.
func (p *Provisioner) Root() string {
	return p.root
}

// ValidName reports whether username can be used as a directory name
// directly under the root. Anything that is not exactly one clean path
// element is rejected so a username can never escape the root.
func ValidName(username string) error {
	switch {
	case username == "":
		return apperror.ValidationFailed("username", "username is required")
	case username == "." || username == "..":
		return apperror.ValidationFailed("username", "username is not allowed")
	case strings.ContainsAny(username, `/\`+"\x00"):
		return apperror.ValidationFailed("username", "username must not contain path separators")
	case filepath.Base(username) != username:
		return apperror.ValidationFailed("username", "username is not allowed")
	}
	return nil
}

// DirFor returns the directory a user would be provisioned into.
func (p *Provisioner) DirFor(username string) string {
	return filepath.Join(p.root, username)
}

// Provision creates the user's directory and placeholder file and returns
// the directory path. It is idempotent: an existing directory is reused and
// the placeholder rewritten.
func (p *Provisioner) Provision(ctx context.Context, username string) (string, error) {
	if err := ValidName(username); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("provision: %w", err)
	}

	dir := p.DirFor(username)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("provision: creating %s: %w", dir, err)
	}

	content := []byte(fmt.Sprintf("Files for user %s", username))
	placeholder := filepath.Join(dir, PlaceholderName)
	if err := atomicwriter.WriteFile(placeholder, content, 0o644); err != nil {
		return "", fmt.Errorf("provision: writing %s: %w", placeholder, err)
	}

	return dir, nil
}
