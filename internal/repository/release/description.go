package release

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/casal2/casal2-deb/internal/domain/release"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// DefaultChecksumFunction is used to hash the archive.
	DefaultChecksumFunction crypto.Hash = crypto.SHA512

	// FileSuffix is appended to the staging tree path to name the description.
	FileSuffix = ".release.yaml"

	// fileMode is used for the description file.
	fileMode os.FileMode = 0o644
)

var errHashUnavailable = errors.New("hash function unavailable")

// Description records what a package was built from.
type Description struct {
	// Package is the control Package field.
	Package string `yaml:"package"`
	// Version is the control Version field, prefix included.
	Version string `yaml:"version"`
	// Commit is the full hash of the source commit.
	Commit string `yaml:"commit"`
	// ShortCommit is the abbreviated hash used in the version.
	ShortCommit string `yaml:"short_commit"`
	// CommittedAt is the commit time in UTC.
	CommittedAt time.Time `yaml:"committed_at"`
	// Archive is the file name of the built package.
	Archive string `yaml:"archive"`
	// Checksum is the base64 SHA-512 of the archive.
	Checksum string `yaml:"checksum_sha512"`
}

// NewDescription hashes archivePath and fills a description for it.
func NewDescription(pkg, version string, commit *domain.CommitInfo, archivePath string) (*Description, error) {
	checksum, err := FileChecksum(archivePath)
	if err != nil {
		return nil, err
	}

	return &Description{
		Package:     pkg,
		Version:     version,
		Commit:      commit.FullHash,
		ShortCommit: commit.ShortHash,
		CommittedAt: commit.CommittedAt.UTC(),
		Archive:     filepath.Base(archivePath),
		Checksum:    base64.StdEncoding.EncodeToString(checksum),
	}, nil
}

// FileChecksum returns the DefaultChecksumFunction digest of the file.
func FileChecksum(path string) ([]byte, error) {
	if !DefaultChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	hasher := DefaultChecksumFunction.New()
	if _, err = io.Copy(hasher, f); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// PathFor returns the description path for a staging tree root.
func PathFor(treeRoot string) string {
	return strings.TrimSuffix(filepath.Clean(treeRoot), string(filepath.Separator)) + FileSuffix
}

// Save writes the description as YAML.
func Save(path string, desc *Description) error {
	contents, err := yaml.Marshal(desc)
	if err != nil {
		return fmt.Errorf("marshal release description: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), contents, fileMode); err != nil {
		return fmt.Errorf("write release description: %w", err)
	}

	return nil
}

// Load reads a description written by Save.
func Load(path string) (*Description, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read release description: %w", err)
	}

	desc := new(Description)
	if err = yaml.Unmarshal(contents, desc); err != nil {
		return nil, fmt.Errorf("unmarshal release description: %w", err)
	}

	return desc, nil
}
