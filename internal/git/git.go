package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/joescharf/buildbench/internal/procstream"
)

var (
	// ErrInvalidRemote is returned for repository identifiers that are neither
	// an http(s) URL nor an SSH remote.
	ErrInvalidRemote = errors.New("invalid repository URL")

	// ErrCloneFailed is returned when git clone cannot be started or exits non-zero.
	ErrCloneFailed = errors.New("clone failed")
)

// Client defines the git operations the benchmark needs.
// All methods take explicit paths; nothing depends on the process working directory.
type Client interface {
	Clone(ctx context.Context, url, dest string, onLine func(string)) error
	RemoteURL(path string) (string, error)
	LastCommitHash(path string) (string, error)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Clone runs `git clone --progress --recursive url dest`, passing every line
// of git's output (progress included) to onLine as it arrives. git never
// prompts for credentials: the clone runs outside the terminal's foreground
// process group and a prompt would stop it.
func (c *RealClient) Clone(ctx context.Context, url, dest string, onLine func(string)) error {
	cmd := procstream.Command(ctx, "git", "clone", "--progress", "--recursive", url, dest)
	cmd.Env = cloneEnv(os.Environ())
	err := procstream.Run(cmd, func(l procstream.Line) {
		if onLine != nil {
			onLine(l.Text)
		}
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var exitErr *procstream.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: git clone %s: exit status %d", ErrCloneFailed, url, exitErr.Code)
	}
	return fmt.Errorf("%w: %v", ErrCloneFailed, err)
}

func cloneEnv(env []string) []string {
	env = append(env, "GIT_TERMINAL_PROMPT=0")
	for _, kv := range env {
		if strings.HasPrefix(kv, "GIT_SSH_COMMAND=") {
			return env
		}
	}
	return append(env, "GIT_SSH_COMMAND=ssh -o BatchMode=yes")
}

// RemoteURL returns the origin remote of the checkout at path. A checkout
// without an origin is an error.
func (c *RealClient) RemoteURL(path string) (string, error) {
	return gitCmd(path, "remote", "get-url", "origin")
}

func (c *RealClient) LastCommitHash(path string) (string, error) {
	return gitCmd(path, "log", "-1", "--format=%h")
}

// ValidateRemote accepts http://, https:// and git@ repository identifiers.
func ValidateRemote(url string) error {
	trimmed := strings.TrimSpace(url)
	for _, prefix := range []string{"http://", "https://", "git@"} {
		if strings.HasPrefix(trimmed, prefix) && len(trimmed) > len(prefix) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidRemote, url)
}

// SameRemote reports whether two remote URLs name the same repository,
// ignoring a trailing slash or .git suffix.
func SameRemote(a, b string) bool {
	norm := func(s string) string {
		s = strings.TrimSpace(s)
		s = strings.TrimSuffix(s, "/")
		return strings.TrimSuffix(s, ".git")
	}
	return norm(a) == norm(b)
}

// ExtractOwnerRepo parses a remote URL and returns owner/repo.
func ExtractOwnerRepo(remoteURL string) (owner, repo string, err error) {
	// Handle SSH: git@github.com:owner/repo.git
	if strings.HasPrefix(remoteURL, "git@") {
		parts := strings.SplitN(remoteURL, ":", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("cannot parse SSH remote: %s", remoteURL)
		}
		path := strings.TrimSuffix(parts[1], ".git")
		segments := strings.SplitN(path, "/", 2)
		if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
			return "", "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
		}
		return segments[0], segments[1], nil
	}

	// Handle HTTP(S): https://host/owner/repo.git
	trimmed := strings.TrimSuffix(strings.TrimSuffix(remoteURL, "/"), ".git")
	trimmed = strings.TrimPrefix(trimmed, "https://")
	trimmed = strings.TrimPrefix(trimmed, "http://")
	segments := strings.Split(trimmed, "/")
	if len(segments) < 3 || segments[len(segments)-2] == "" || segments[len(segments)-1] == "" {
		return "", "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
	}
	return segments[len(segments)-2], segments[len(segments)-1], nil
}

// ShortName returns owner/repo for display, or the URL itself when it cannot be parsed.
func ShortName(remoteURL string) string {
	owner, repo, err := ExtractOwnerRepo(remoteURL)
	if err != nil {
		return remoteURL
	}
	return owner + "/" + repo
}
