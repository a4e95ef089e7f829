// Package workspace owns the on-disk layout of the benchmark: the application
// root, the persistent source checkout and the disposable build directory.
package workspace

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	sourceDirName = "repo-dir"
	buildDirName  = "build-dir"
)

// Layout names the three directories a benchmark run works with.
type Layout struct {
	Root      string
	SourceDir string
	BuildDir  string
}

// NewLayout returns the default layout under root.
func NewLayout(root string) Layout {
	root = filepath.Clean(root)
	return Layout{
		Root:      root,
		SourceDir: filepath.Join(root, sourceDirName),
		BuildDir:  filepath.Join(root, buildDirName),
	}
}

// Validate rejects layouts where the build directory would clobber the source.
func (l Layout) Validate() error {
	if strings.TrimSpace(l.Root) == "" {
		return fmt.Errorf("workspace root is empty")
	}
	if strings.TrimSpace(l.SourceDir) == "" || strings.TrimSpace(l.BuildDir) == "" {
		return fmt.Errorf("source and build directories must be set")
	}
	src := filepath.Clean(l.SourceDir)
	dst := filepath.Clean(l.BuildDir)
	if src == dst {
		return fmt.Errorf("build directory %q must differ from source directory", dst)
	}
	if within(dst, src) || within(src, dst) {
		return fmt.Errorf("build directory %q and source directory %q must not contain each other", dst, src)
	}
	return nil
}

func within(path, parent string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// CopyStats summarizes one CopyTree call.
type CopyStats struct {
	Files int
	Dirs  int
	Bytes int64
}

// Manager performs the directory operations of a benchmark run.
type Manager interface {
	EnsureRoot(path string) error
	RemoveStale(path string) error
	CopyTree(ctx context.Context, src, dst string) (CopyStats, error)
}

// FSManager implements Manager on the local filesystem.
type FSManager struct{}

var _ Manager = (*FSManager)(nil)

// NewFSManager returns a filesystem-backed Manager.
func NewFSManager() *FSManager {
	return &FSManager{}
}

// EnsureRoot creates path (and parents) if absent.
func (m *FSManager) EnsureRoot(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", path, err)
	}
	return nil
}

// RemoveStale deletes the tree at path. Missing paths are not an error.
func (m *FSManager) RemoveStale(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %q: %w", path, err)
	}
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("remove %q: still present", path)
	}
	return nil
}

// CopyTree duplicates every file, directory and symlink under src into dst,
// creating dst if needed. The first unreadable or unwritable entry aborts the
// copy and removes the partially written dst.
func (m *FSManager) CopyTree(ctx context.Context, src, dst string) (CopyStats, error) {
	var stats CopyStats

	srcInfo, err := os.Stat(src)
	if err != nil {
		return stats, fmt.Errorf("stat source directory: %w", err)
	}
	if !srcInfo.IsDir() {
		return stats, fmt.Errorf("source path %q is not a directory", src)
	}
	if err := os.MkdirAll(dst, srcInfo.Mode().Perm()|0o700); err != nil {
		return stats, fmt.Errorf("create destination directory: %w", err)
	}

	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == src {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("resolve relative path: %w", err)
		}
		dstPath := filepath.Join(dst, relPath)

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("read entry info for %q: %w", path, err)
		}

		switch {
		case d.IsDir():
			if err := os.MkdirAll(dstPath, info.Mode().Perm()|0o700); err != nil {
				return fmt.Errorf("create directory %q: %w", dstPath, err)
			}
			stats.Dirs++
		case info.Mode().IsRegular():
			n, err := copyFile(path, dstPath, info.Mode().Perm())
			if err != nil {
				return err
			}
			stats.Files++
			stats.Bytes += n
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("read symlink %q: %w", path, err)
			}
			if err := os.Symlink(target, dstPath); err != nil {
				return fmt.Errorf("create symlink %q: %w", dstPath, err)
			}
			stats.Files++
		default:
			return fmt.Errorf("unsupported file type for %q (%s)", path, info.Mode().Type())
		}
		return nil
	})
	if err != nil {
		_ = os.RemoveAll(dst)
		return stats, fmt.Errorf("copy %q to %q: %w", src, dst, err)
	}
	return stats, nil
}

func copyFile(src, dst string, perm fs.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %q: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, fmt.Errorf("create %q: %w", dst, err)
	}

	n, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return n, fmt.Errorf("write %q: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return n, fmt.Errorf("close %q: %w", dst, err)
	}
	return n, nil
}

// HasContent reports whether path is a directory with at least one entry.
func HasContent(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read directory %q: %w", path, err)
	}
	return len(entries) > 0, nil
}

// Exists reports whether anything is present at path.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
