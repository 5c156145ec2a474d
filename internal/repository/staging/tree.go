package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/casal2/casal2-deb/internal/config"
	"github.com/casal2/casal2-deb/internal/domain/debian"
	"github.com/casal2/casal2-deb/internal/logger"
)

const (
	// DirMode is used for every directory in the tree; dpkg-deb rejects group/world writable DEBIAN.
	DirMode os.FileMode = 0o755

	// ControlFileMode is used for DEBIAN/control.
	ControlFileMode os.FileMode = 0o644

	// ControlDir holds the package metadata inside the tree.
	ControlDir = "DEBIAN"

	// ControlFilename is the manifest name inside ControlDir.
	ControlFilename = "control"
)

var (
	// ErrMissingAsset is returned when a required asset source does not exist.
	ErrMissingAsset = errors.New("asset source not found")
	// ErrNotADirectory is returned when a recursive asset source is a file.
	ErrNotADirectory = errors.New("recursive asset source is not a directory")
	// ErrIsADirectory is returned when a plain asset source is a directory.
	ErrIsADirectory = errors.New("asset source is a directory")
)

// Tree is a staging directory rooted at Root.
type Tree struct {
	// Root is the directory passed to the packaging tool.
	Root string
}

// CopyReport summarises an asset copy.
type CopyReport struct {
	// Files is the number of regular files and symlinks written.
	Files int
	// Skipped lists optional asset sources that did not exist.
	Skipped []string
}

// NewTree returns a tree rooted at root.
func NewTree(root string) *Tree {
	return &Tree{Root: filepath.Clean(root)}
}

// Reset destroys any existing tree and recreates the directory skeleton.
func (t *Tree) Reset(ctx context.Context, directories []string) error {
	logger.DebugKV(ctx, "Removing previous staging tree", "path", t.Root)

	if err := os.RemoveAll(t.Root); err != nil {
		return fmt.Errorf("remove staging tree: %w", err)
	}

	if err := os.MkdirAll(t.Root, DirMode); err != nil {
		return fmt.Errorf("create staging tree: %w", err)
	}

	for _, dir := range directories {
		if err := os.MkdirAll(t.path(dir), DirMode); err != nil {
			return fmt.Errorf("create staging directory %s: %w", dir, err)
		}
	}

	return nil
}

// CopyAssets copies every asset, resolving sources against srcRoot.
// The first failure of a required asset stops the copy.
func (t *Tree) CopyAssets(ctx context.Context, srcRoot string, assets []config.Asset) (*CopyReport, error) {
	report := new(CopyReport)

	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		source := asset.Source
		if !filepath.IsAbs(source) {
			source = filepath.Join(srcRoot, filepath.FromSlash(source))
		}

		info, err := os.Stat(source)
		if errors.Is(err, os.ErrNotExist) {
			if asset.Optional {
				logger.WarnKV(ctx, "Optional asset missing, skipping", "source", asset.Source)
				report.Skipped = append(report.Skipped, asset.Source)

				continue
			}

			return report, fmt.Errorf("%w: %s", ErrMissingAsset, asset.Source)
		} else if err != nil {
			return report, fmt.Errorf("stat %s: %w", asset.Source, err)
		}

		var copied int

		if asset.Recursive {
			copied, err = t.copyDir(source, info, asset)
		} else {
			copied, err = t.copyOne(source, info, asset)
		}

		report.Files += copied

		if err != nil {
			return report, err
		}

		logger.DebugKV(ctx, "Asset copied", "source", asset.Source, "destination", asset.Destination, "files", copied)
	}

	return report, nil
}

// WriteControl renders control into DEBIAN/control.
func (t *Tree) WriteControl(control *debian.Control) (string, error) {
	content, err := control.Format()
	if err != nil {
		return "", fmt.Errorf("format control manifest: %w", err)
	}

	dir := t.path(ControlDir)
	if err = os.MkdirAll(dir, DirMode); err != nil {
		return "", fmt.Errorf("create control directory: %w", err)
	}

	path := filepath.Join(dir, ControlFilename)
	if err = os.WriteFile(path, []byte(content), ControlFileMode); err != nil {
		return "", fmt.Errorf("write control manifest: %w", err)
	}

	return path, nil
}

// ArchivePath is where dpkg-deb --build writes the package for this tree.
func (t *Tree) ArchivePath() string {
	return t.Root + ".deb"
}

// path resolves a slash-separated tree-relative path.
func (t *Tree) path(rel string) string {
	return filepath.Join(t.Root, filepath.FromSlash(rel))
}

// copyOne copies a single file or symlink.
func (t *Tree) copyOne(source string, info fs.FileInfo, asset config.Asset) (int, error) {
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s", ErrIsADirectory, asset.Source)
	}

	dest := t.path(asset.Destination)
	if strings.HasSuffix(asset.Destination, "/") {
		dest = filepath.Join(dest, filepath.Base(source))
	}

	if err := os.MkdirAll(filepath.Dir(dest), DirMode); err != nil {
		return 0, fmt.Errorf("create directory for %s: %w", asset.Destination, err)
	}

	if err := copyEntry(source, dest, info); err != nil {
		return 0, fmt.Errorf("copy %s: %w", asset.Source, err)
	}

	return 1, nil
}

// copyDir copies the contents of source into the destination directory.
func (t *Tree) copyDir(source string, info fs.FileInfo, asset config.Asset) (int, error) {
	if !info.IsDir() {
		return 0, fmt.Errorf("%w: %s", ErrNotADirectory, asset.Source)
	}

	// WalkDir does not follow a symlinked root.
	source, err := filepath.EvalSymlinks(source)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", asset.Source, err)
	}

	destRoot := t.path(asset.Destination)
	copied := 0

	err = filepath.WalkDir(source, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}

		dest := filepath.Join(destRoot, rel)

		entryInfo, err := entry.Info()
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return os.MkdirAll(dest, DirMode)
		}

		if err = copyEntry(path, dest, entryInfo); err != nil {
			return err
		}

		copied++

		return nil
	})
	if err != nil {
		return copied, fmt.Errorf("copy %s: %w", asset.Source, err)
	}

	return copied, nil
}

// copyEntry copies a regular file with its permission bits, or recreates a symlink.
func copyEntry(source, dest string, info fs.FileInfo) error {
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(source)
		if err != nil {
			return err
		}

		if err = os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		return os.Symlink(target, dest)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("unsupported file type %s: %s", info.Mode().Type(), source)
	}

	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	if err = out.Close(); err != nil {
		return err
	}

	// OpenFile applies the umask; restore the source bits explicitly.
	return os.Chmod(dest, info.Mode().Perm())
}
