package assembler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/casal2/casal2-deb/internal/config"
	"github.com/casal2/casal2-deb/internal/domain/debian"
	domain "github.com/casal2/casal2-deb/internal/domain/release"
	"github.com/casal2/casal2-deb/internal/process"
	"github.com/casal2/casal2-deb/internal/repository/lock"
	"github.com/casal2/casal2-deb/internal/repository/release"
	"github.com/casal2/casal2-deb/internal/repository/staging"
)

const (
	fullHash  = "abc1234def5678abc1234def5678abc1234def56"
	shortHash = "abc1234"
)

// fakeRunner answers the build, git and dpkg-deb invocations without running anything.
type fakeRunner struct {
	calls       []process.Command
	buildExit   int
	gitOutput   string
	archiveExit int
	archiveErr  error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		gitOutput: fullHash + "\n" + shortHash + "\n2023-06-01 10:15:00 +1200",
	}
}

func (f *fakeRunner) Run(_ context.Context, cmd process.Command) (*process.Result, error) {
	f.calls = append(f.calls, cmd)

	switch cmd.Name {
	case "./doBuild.sh", "cmd":
		return &process.Result{ExitCode: f.buildExit}, nil
	case "git":
		return &process.Result{Stdout: []byte(f.gitOutput)}, nil
	case "dpkg-deb":
		if f.archiveErr != nil {
			return nil, f.archiveErr
		}

		if f.archiveExit != 0 {
			return &process.Result{ExitCode: f.archiveExit, Stderr: []byte("dpkg-deb: error")}, nil
		}

		tree := filepath.Join(cmd.Dir, cmd.Args[len(cmd.Args)-1])
		if err := os.WriteFile(tree+".deb", []byte("!<arch>\n"), 0o600); err != nil {
			return nil, err
		}

		return &process.Result{}, nil
	default:
		return nil, errors.New("unexpected command " + cmd.Name)
	}
}

func (f *fakeRunner) names() []string {
	names := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		names = append(names, c.Name)
	}

	return names
}

// newWorkspace lays out a checkout with every default asset and returns the BuildSystem dir.
func newWorkspace(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	work := filepath.Join(root, "BuildSystem")

	files := map[string]string{
		"BuildSystem/Casal2/casal2":                               "binary",
		"BuildSystem/Casal2/casal2_adolc.so":                      "adolc",
		"BuildSystem/Casal2/casal2_betadiff.so":                   "betadiff",
		"BuildSystem/Casal2/casal2_cppad.so":                      "cppad",
		"BuildSystem/Casal2/casal2_release.so":                    "release",
		"BuildSystem/Casal2/casal2_test.so":                       "test",
		"Documentation/UserManual/CASAL2.pdf":                     "manual",
		"Documentation/ContributorsManual/ContributorsGuide.pdf": "guide",
		"README.txt":                      "readme",
		"Examples/Simple/config.csl2":     "@model",
		"Examples/Simple/estimation.csl2": "@estimate",
		"R-libraries/casal_2.30.tar.gz":   "casal",
		"R-libraries/casal2_1.0.tar.gz":   "casal2",
	}
	for rel, contents := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	}

	return work
}

func options(work string, runner process.Runner) *Options {
	return &Options{
		SkipBuild: true,
		WorkDir:   work,
		Config:    config.Default(),
		Platform:  "linux",
		Runner:    runner,
	}
}

func stagingRoot(work string) string {
	return filepath.Join(work, "bin", "linux", "deb", "Casal2")
}

// TestRun_BuildsPackage runs every step and checks the produced layout and invocations.
func TestRun_BuildsPackage(t *testing.T) {
	t.Parallel()

	work := newWorkspace(t)
	runner := newFakeRunner()

	opts := options(work, runner)
	opts.SkipBuild = false

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)

	require.Equal(t, []string{"./doBuild.sh", "git", "dpkg-deb"}, runner.names())
	require.Equal(t, []string{"archive"}, runner.calls[0].Args)
	require.Equal(t, work, runner.calls[0].Dir)
	require.Equal(t, []string{"--build", filepath.Join("bin", "linux", "deb", "Casal2")}, runner.calls[2].Args)

	require.Equal(t, "20230531."+shortHash, res.Version)
	require.Equal(t, fullHash, res.Commit.FullHash)
	require.Equal(t, stagingRoot(work), res.StagingDir)
	require.Equal(t, 13, res.Copy.Files)

	for rel, want := range map[string]string{
		"usr/local/bin/casal2":                                        "binary",
		"usr/local/lib/casal2_test.so":                                "test",
		"usr/local/share/doc/casal2/CASAL2.pdf":                       "manual",
		"usr/local/share/doc/ContributorsGuide/ContributorsGuide.pdf": "guide",
		"usr/local/share/doc/README/README.txt":                       "readme",
		"usr/local/share/doc/Examples/Simple/config.csl2":             "@model",
		"usr/local/share/doc/R-library/casal_2.30.tar.gz":             "casal",
		"usr/local/share/doc/R-library/casal2_1.0.tar.gz":             "casal2",
	} {
		got, err := os.ReadFile(filepath.Join(res.StagingDir, filepath.FromSlash(rel)))
		require.NoError(t, err, rel)
		require.Equal(t, want, string(got), rel)
	}

	require.Equal(t, stagingRoot(work)+".deb", res.ArchivePath)

	desc, err := release.Load(res.DescriptionPath)
	require.NoError(t, err)
	require.Equal(t, "0x20230531."+shortHash, desc.Version)
	require.Equal(t, fullHash, desc.Commit)
	require.NotEmpty(t, desc.Checksum)

	_, err = os.Stat(filepath.Join(work, "bin", "linux", "deb", lock.DefaultFilename))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRun_ControlManifest checks the manifest holds exactly the expected fields.
func TestRun_ControlManifest(t *testing.T) {
	t.Parallel()

	work := newWorkspace(t)
	runner := newFakeRunner()
	runner.gitOutput = fullHash + "\n" + shortHash + "\n2023-06-01 10:15:00 +0000"

	res, err := Run(context.Background(), options(work, runner))
	require.NoError(t, err)
	require.Equal(t, "20230601."+shortHash, res.Version)

	contents, err := os.ReadFile(res.ControlPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(contents), "\n"), "\n")
	require.Len(t, lines, len(debian.Fields()))

	for i, field := range debian.Fields() {
		require.True(t, strings.HasPrefix(lines[i], field+": "), lines[i])
	}

	control, err := debian.Parse(string(contents))
	require.NoError(t, err)
	require.Equal(t, "0x"+res.Version, control.Version)
	require.Equal(t, "Casal2", control.Package)
	require.Equal(t, "amd64", control.Architecture)
	require.Equal(t, "NIWA <casal2@niwa.co.nz>", control.Maintainer)
}

// TestRun_SkipBuild never invokes the build command.
func TestRun_SkipBuild(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()

	_, err := Run(context.Background(), options(newWorkspace(t), runner))
	require.NoError(t, err)
	require.Equal(t, []string{"git", "dpkg-deb"}, runner.names())
}

// TestRun_WindowsBuildCommand selects the batch build on windows.
func TestRun_WindowsBuildCommand(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()

	opts := options(newWorkspace(t), runner)
	opts.SkipBuild = false
	opts.Platform = "windows"

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, "cmd", runner.calls[0].Name)
	require.Equal(t, []string{"/C", "doBuild.bat", "archive"}, runner.calls[0].Args)
}

// TestRun_BuildFailureHaltsBeforeQuery stops before version control is queried.
func TestRun_BuildFailureHaltsBeforeQuery(t *testing.T) {
	t.Parallel()

	work := newWorkspace(t)
	runner := newFakeRunner()
	runner.buildExit = 2

	opts := options(work, runner)
	opts.SkipBuild = false

	_, err := Run(context.Background(), opts)
	require.ErrorIs(t, err, ErrBuildFailed)
	require.Equal(t, []string{"./doBuild.sh"}, runner.names())

	_, err = os.Stat(filepath.Join(work, "bin"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRun_MalformedQueryOutput fails without writing anything.
func TestRun_MalformedQueryOutput(t *testing.T) {
	t.Parallel()

	for _, output := range []string{
		fullHash + "\n" + shortHash,
		fullHash + "\n" + shortHash + "\n2023-06-01 10:15:00 +1200\nextra",
	} {
		work := newWorkspace(t)
		runner := newFakeRunner()
		runner.gitOutput = output

		_, err := Run(context.Background(), options(work, runner))
		require.ErrorIs(t, err, domain.ErrUnexpectedFormat)
		require.ErrorContains(t, err, "did not meet expectations")

		_, err = os.Stat(filepath.Join(work, "bin"))
		require.ErrorIs(t, err, os.ErrNotExist)
		require.Equal(t, []string{"git"}, runner.names())
	}
}

// TestRun_InvalidCommitTime fails during parsing before any staging directory exists.
func TestRun_InvalidCommitTime(t *testing.T) {
	t.Parallel()

	for _, stamp := range []string{"2023-06-01 10:15:00", "01/06/2023 10:15"} {
		work := newWorkspace(t)
		runner := newFakeRunner()
		runner.gitOutput = fullHash + "\n" + shortHash + "\n" + stamp

		_, err := Run(context.Background(), options(work, runner))
		require.ErrorIs(t, err, domain.ErrInvalidCommitTime)

		_, err = os.Stat(filepath.Join(work, "bin"))
		require.ErrorIs(t, err, os.ErrNotExist)
	}
}

// TestRun_Twice_ReplacesTree checks the second run replaces the first tree instead of merging.
func TestRun_Twice_ReplacesTree(t *testing.T) {
	t.Parallel()

	work := newWorkspace(t)

	first, err := Run(context.Background(), options(work, newFakeRunner()))
	require.NoError(t, err)

	stray := filepath.Join(first.StagingDir, "usr", "local", "bin", "stray")
	require.NoError(t, os.WriteFile(stray, []byte("left over"), 0o644))

	second, err := Run(context.Background(), options(work, newFakeRunner()))
	require.NoError(t, err)
	require.Equal(t, first.StagingDir, second.StagingDir)
	require.Equal(t, first.Version, second.Version)

	_, err = os.Stat(stray)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(filepath.Join(second.StagingDir, "usr", "local", "bin", "casal2"))
	require.NoError(t, err)
}

// TestRun_MissingAssetStopsBeforeArchive propagates copy failures.
func TestRun_MissingAssetStopsBeforeArchive(t *testing.T) {
	t.Parallel()

	work := newWorkspace(t)
	require.NoError(t, os.Remove(filepath.Join(work, "..", "README.txt")))

	runner := newFakeRunner()

	_, err := Run(context.Background(), options(work, runner))
	require.ErrorIs(t, err, staging.ErrMissingAsset)
	require.Equal(t, []string{"git"}, runner.names())

	_, err = os.Stat(filepath.Join(work, "bin", "linux", "deb", lock.DefaultFilename))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRun_ArchiveFailure reports the packaging error and keeps the staging content.
func TestRun_ArchiveFailure(t *testing.T) {
	t.Parallel()

	work := newWorkspace(t)
	runner := newFakeRunner()
	runner.archiveExit = 1

	res, err := Run(context.Background(), options(work, runner))
	require.ErrorIs(t, err, ErrArchiveFailed)
	require.ErrorContains(t, err, "dpkg-deb: error")

	_, err = os.Stat(res.ControlPath)
	require.NoError(t, err)

	runner = newFakeRunner()
	runner.archiveErr = errors.New("executable file not found")

	_, err = Run(context.Background(), options(work, runner))
	require.ErrorIs(t, err, ErrArchiveFailed)
}

// TestRun_LockedStagingTree refuses to touch a tree held by another live run.
func TestRun_LockedStagingTree(t *testing.T) {
	t.Parallel()

	work := newWorkspace(t)
	base := filepath.Join(work, "bin", "linux", "deb")
	require.NoError(t, os.MkdirAll(base, 0o755))

	marker, err := lock.Acquire(context.Background(), filepath.Join(base, lock.DefaultFilename), 0)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, marker.Release())
	}()

	_, err = Run(context.Background(), options(work, newFakeRunner()))
	require.ErrorIs(t, err, lock.ErrLocked)

	_, err = os.Stat(stagingRoot(work))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// markerCheckingRunner tries to take the run marker while dpkg-deb is running.
type markerCheckingRunner struct {
	*fakeRunner

	markerPath string
	acquireErr error
}

func (r *markerCheckingRunner) Run(ctx context.Context, cmd process.Command) (*process.Result, error) {
	if cmd.Name == "dpkg-deb" {
		marker, err := lock.Acquire(ctx, r.markerPath, 0)
		if err == nil {
			_ = marker.Release()
		}

		r.acquireErr = err
	}

	return r.fakeRunner.Run(ctx, cmd)
}

// TestRun_MarkerHeldWhileArchiving keeps other runs out until the package is written.
func TestRun_MarkerHeldWhileArchiving(t *testing.T) {
	t.Parallel()

	work := newWorkspace(t)
	markerPath := filepath.Join(work, "bin", "linux", "deb", lock.DefaultFilename)
	runner := &markerCheckingRunner{fakeRunner: newFakeRunner(), markerPath: markerPath}

	res, err := Run(context.Background(), options(work, runner))
	require.NoError(t, err)
	require.ErrorIs(t, runner.acquireErr, lock.ErrLocked)
	require.FileExists(t, res.DescriptionPath)

	_, err = os.Stat(markerPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRun_InvalidConfig rejects a configuration that fails validation.
func TestRun_InvalidConfig(t *testing.T) {
	t.Parallel()

	opts := options(newWorkspace(t), newFakeRunner())
	opts.Config.Archive.Command = ""

	_, err := Run(context.Background(), opts)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

// TestDescribe_NoWrites returns the package identity without touching the filesystem.
func TestDescribe_NoWrites(t *testing.T) {
	t.Parallel()

	work := newWorkspace(t)
	runner := newFakeRunner()

	desc, err := Describe(context.Background(), options(work, runner))
	require.NoError(t, err)
	require.Equal(t, "20230531."+shortHash, desc.Version)
	require.Equal(t, "0x20230531."+shortHash, desc.Control.Version)
	require.Equal(t, []string{"git"}, runner.names())
	require.Contains(t, desc.String(), "Version: 0x20230531."+shortHash)
	require.Contains(t, desc.String(), "Committed at: 2023-05-31T22:15:00Z")

	_, err = os.Stat(filepath.Join(work, "bin"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
