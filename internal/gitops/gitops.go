// Package gitops versions a run's output directory with git so successive
// runs of a scenario can be diffed.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Author identifies the committer of a snapshot.
type Author struct {
	Name  string
	Email string
}

// DefaultAuthor is used when the scenario names none.
var DefaultAuthor = Author{Name: "stockflow", Email: "stockflow@localhost"}

func git(ctx context.Context, dir string, a Author, args ...string) ([]byte, error) {
	full := append([]string{"-c", "user.name=" + a.Name, "-c", "user.email=" + a.Email}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
	}
	return out, nil
}

// Init initializes a new git repository at dir.
func Init(ctx context.Context, dir string) error {
	_, err := git(ctx, dir, DefaultAuthor, "init", "-q")
	return err
}

// IsRepo reports whether dir is the root of a git repository.
func IsRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// Head returns the short hash of HEAD.
func Head(ctx context.Context, dir string) (string, error) {
	out, err := git(ctx, dir, DefaultAuthor, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// CommitAll stages all files and creates a commit. When nothing changed
// the current HEAD is returned and no commit is made. Returns the short
// commit hash.
func CommitAll(ctx context.Context, dir, message string, a Author) (string, error) {
	if _, err := git(ctx, dir, a, "add", "-A"); err != nil {
		return "", err
	}

	// diff --cached --quiet exits 1 when something is staged
	_, err := git(ctx, dir, a, "diff", "--cached", "--quiet")
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return Head(ctx, dir)
	case !errors.As(err, &exitErr):
		return "", err
	}

	if _, err := git(ctx, dir, a, "commit", "-q", "-m", message); err != nil {
		return "", err
	}
	return Head(ctx, dir)
}

// Snapshot commits everything under dir, initializing a repository first
// when dir is not one yet.
func Snapshot(ctx context.Context, dir, message string, a Author) (string, error) {
	if a.Name == "" || a.Email == "" {
		a = DefaultAuthor
	}
	if !IsRepo(dir) {
		if err := Init(ctx, dir); err != nil {
			return "", err
		}
	}
	return CommitAll(ctx, dir, message, a)
}
