package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/casal2/casal2-deb/internal/domain/release"
	"github.com/casal2/casal2-deb/internal/process"
)

// DefaultCommand asks git for the latest commit in release.LogFormat.
const DefaultCommand = "git --no-pager log -n 1 --pretty=format:" + release.LogFormat

// ErrQueryFailed is returned when the query command exits non-zero.
var ErrQueryFailed = errors.New("version control query failed")

// LatestCommit runs commandLine in dir and parses its three-line response.
func LatestCommit(ctx context.Context, runner process.Runner, commandLine, dir string) (*release.CommitInfo, error) {
	if commandLine == "" {
		commandLine = DefaultCommand
	}

	cmd, err := process.Parse(commandLine)
	if err != nil {
		return nil, err
	}

	cmd.Dir = dir

	res, err := runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("load version information: %w", err)
	}

	if !res.Success() {
		return nil, fmt.Errorf("%w: %s exited with status %d: %s",
			ErrQueryFailed, cmd.Name, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	return release.ParseLog(string(res.Stdout))
}
