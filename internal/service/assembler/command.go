package assembler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/casal2/casal2-deb/internal/config"
	"github.com/casal2/casal2-deb/internal/domain/debian"
	domain "github.com/casal2/casal2-deb/internal/domain/release"
	"github.com/casal2/casal2-deb/internal/logger"
	"github.com/casal2/casal2-deb/internal/process"
	"github.com/casal2/casal2-deb/internal/repository/lock"
	"github.com/casal2/casal2-deb/internal/repository/release"
	"github.com/casal2/casal2-deb/internal/repository/staging"
	"github.com/casal2/casal2-deb/internal/vcs"
)

// Options contains inputs for the assembler entry point.
type Options struct {
	// SkipBuild skips the platform build step.
	SkipBuild bool
	// WorkDir is the root all configured paths are relative to. Defaults to ".".
	WorkDir string
	// ConfigPath is loaded when Config is nil; see config.LoadOrDefault.
	ConfigPath string
	// Config overrides ConfigPath.
	Config *config.Config
	// Platform selects the build command. Defaults to runtime.GOOS.
	Platform string
	// Runner executes external tools. Defaults to a process.ExecRunner streaming to stderr.
	Runner process.Runner
}

// Result describes a finished run.
type Result struct {
	// Commit is the commit the package was built from.
	Commit *domain.CommitInfo
	// Version is the derived version without the control prefix.
	Version string
	// StagingDir is the tree handed to the packaging tool.
	StagingDir string
	// ControlPath is the written DEBIAN/control.
	ControlPath string
	// ArchivePath is the built package.
	ArchivePath string
	// DescriptionPath is the release description next to the archive.
	DescriptionPath string
	// Copy summarises the asset copy.
	Copy *staging.CopyReport
}

var (
	// ErrBuildFailed is returned when the build command fails or exits non-zero.
	ErrBuildFailed = errors.New("failed to build Casal2 archive")
	// ErrArchiveFailed is returned when the packaging tool fails or exits non-zero.
	ErrArchiveFailed = errors.New("failed to build deb package")
)

// assembler holds the resolved inputs of a single run.
// It is unexported; callers use Run or Describe.
type assembler struct {
	cfg       *config.Config
	workDir   string
	platform  string
	skipBuild bool
	runner    process.Runner
}

// Run executes the packaging workflow.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "casal2-deb")

	a, err := newAssembler(opts)
	if err != nil {
		return nil, fmt.Errorf("initialize assembler: %w", err)
	}

	logger.InfoKV(ctx, "Starting Deb Builder", "skip_build", a.skipBuild, "work_dir", a.workDir)

	res, err := a.Run(ctx)
	if err != nil {
		return res, err
	}

	logger.InfoKV(ctx, "Package built", "archive", res.ArchivePath, "version", res.Version)

	return res, nil
}

// newAssembler resolves defaults for everything the caller left empty.
func newAssembler(opts *Options) (*assembler, error) {
	if opts == nil {
		opts = new(Options)
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = "."
	}

	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOrDefault(opts.ConfigPath, workDir)
		if err != nil {
			return nil, err
		}

		cfg = loaded
	} else if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	platform := opts.Platform
	if platform == "" {
		platform = runtime.GOOS
	}

	runner := opts.Runner
	if runner == nil {
		runner = &process.ExecRunner{Stdout: os.Stderr, Stderr: os.Stderr}
	}

	return &assembler{
		cfg:       cfg,
		workDir:   filepath.Clean(workDir),
		platform:  platform,
		skipBuild: opts.SkipBuild,
		runner:    runner,
	}, nil
}

// Run performs the steps in order and stops at the first failure.
// The run marker is held from staging until the release description is written.
func (a *assembler) Run(ctx context.Context) (res *Result, err error) {
	if a.skipBuild {
		logger.Info(ctx, "Skipping the archive build")
	} else if err = a.build(ctx); err != nil {
		return nil, err
	}

	commit, err := a.loadCommit(ctx)
	if err != nil {
		return nil, err
	}

	res = &Result{
		Commit:     commit,
		Version:    commit.Version(),
		StagingDir: a.stagingDir(),
	}

	ctx = logger.WithKV(ctx, "version", res.Version)

	marker, err := a.acquire(ctx)
	if err != nil {
		return res, err
	}

	defer func() {
		if releaseErr := marker.Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	if err = a.stage(ctx, res); err != nil {
		return res, err
	}

	if err = a.archive(ctx, res); err != nil {
		return res, err
	}

	return res, nil
}

// build re-enters the build system to produce a release binary.
func (a *assembler) build(ctx context.Context) error {
	cmd, err := process.Parse(a.cfg.BuildCommand(a.platform), a.cfg.Build.Target)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}

	cmd.Dir = a.workDir

	logger.InfoKV(ctx, "Building Casal2 archive", "command", cmd.String(), "platform", a.platform)

	res, err := a.runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}

	if !res.Success() {
		return fmt.Errorf("%w: %s exited with status %d", ErrBuildFailed, cmd.Name, res.ExitCode)
	}

	return nil
}

// loadCommit queries version control and derives the version.
func (a *assembler) loadCommit(ctx context.Context) (*domain.CommitInfo, error) {
	logger.Info(ctx, "Loading version information from git")

	commit, err := vcs.LatestCommit(ctx, a.runner, a.cfg.VCS.Command, a.workDir)
	if err != nil {
		return nil, fmt.Errorf("load version information: %w", err)
	}

	logger.InfoKV(ctx, "Casal2 revision", "commit", commit.FullHash, "short", commit.ShortHash,
		"committed_at", commit.CommittedAt.UTC())

	return commit, nil
}

// acquire creates the staging base directory and takes the run marker in it.
func (a *assembler) acquire(ctx context.Context) (*lock.Marker, error) {
	baseDir := a.resolve(a.cfg.Staging.BaseDir)
	if err := os.MkdirAll(baseDir, staging.DirMode); err != nil {
		return nil, fmt.Errorf("create staging base directory: %w", err)
	}

	return lock.Acquire(ctx, filepath.Join(baseDir, lock.DefaultFilename), a.cfg.LockLifetime)
}

// stage recreates the tree, copies assets and writes the manifest.
func (a *assembler) stage(ctx context.Context, res *Result) error {
	tree := staging.NewTree(res.StagingDir)

	logger.InfoKV(ctx, "Preparing staging tree", "path", tree.Root)

	if err := tree.Reset(ctx, a.cfg.Staging.Directories); err != nil {
		return err
	}

	report, err := tree.CopyAssets(ctx, a.workDir, a.cfg.Assets)
	res.Copy = report

	if err != nil {
		return fmt.Errorf("copy assets: %w", err)
	}

	logger.InfoKV(ctx, "Assets copied", "files", res.Copy.Files, "skipped", len(res.Copy.Skipped))

	if res.ControlPath, err = tree.WriteControl(a.control(res.Version)); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Control manifest written", "path", res.ControlPath)

	return nil
}

// archive invokes the packaging tool and records the release description.
func (a *assembler) archive(ctx context.Context, res *Result) error {
	cmd, err := process.Parse(a.cfg.Archive.Command, a.relativeStagingDir())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveFailed, err)
	}

	cmd.Dir = a.workDir

	logger.InfoKV(ctx, "Building deb package", "command", cmd.String())

	out, err := a.runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveFailed, err)
	}

	if !out.Success() {
		return fmt.Errorf("%w: %s exited with status %d: %s",
			ErrArchiveFailed, cmd.Name, out.ExitCode, strings.TrimSpace(string(out.Stderr)))
	}

	res.ArchivePath = staging.NewTree(res.StagingDir).ArchivePath()

	desc, err := release.NewDescription(a.cfg.Control.Package, a.controlVersion(res.Version), res.Commit, res.ArchivePath)
	if err != nil {
		return fmt.Errorf("describe archive: %w", err)
	}

	res.DescriptionPath = release.PathFor(res.StagingDir)
	if err = release.Save(res.DescriptionPath, desc); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Release description written", "path", res.DescriptionPath, "checksum", desc.Checksum)

	return nil
}

// control builds the manifest for the derived version.
func (a *assembler) control(version string) *debian.Control {
	c := a.cfg.Control

	return &debian.Control{
		Package:      c.Package,
		Version:      a.controlVersion(version),
		Section:      c.Section,
		Priority:     c.Priority,
		Architecture: c.Architecture,
		Maintainer:   c.Maintainer,
		Description:  c.Description,
	}
}

func (a *assembler) controlVersion(version string) string {
	return a.cfg.Control.VersionPrefix + version
}

// stagingDir is the absolute-or-workdir-joined tree root.
func (a *assembler) stagingDir() string {
	return filepath.Join(a.resolve(a.cfg.Staging.BaseDir), a.cfg.Staging.PackageDir)
}

// relativeStagingDir is the tree path as passed to the packaging tool, which runs in workDir.
func (a *assembler) relativeStagingDir() string {
	if filepath.IsAbs(a.cfg.Staging.BaseDir) {
		return a.stagingDir()
	}

	return filepath.Join(filepath.FromSlash(a.cfg.Staging.BaseDir), a.cfg.Staging.PackageDir)
}

// resolve joins relative configured paths onto the working root.
func (a *assembler) resolve(p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(a.workDir, p)
}
