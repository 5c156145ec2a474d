package assembler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/casal2/casal2-deb/internal/domain/debian"
	domain "github.com/casal2/casal2-deb/internal/domain/release"
	"github.com/casal2/casal2-deb/internal/logger"
)

// Description is what a full run would stamp on the package.
type Description struct {
	// Commit is the latest commit.
	Commit *domain.CommitInfo
	// Version is the derived version without the control prefix.
	Version string
	// Control is the manifest a full run would write.
	Control *debian.Control
	// StagingDir is where a full run would lay out the tree.
	StagingDir string
}

// Describe queries version control and returns the package identity without
// building or touching the filesystem.
func Describe(ctx context.Context, opts *Options) (*Description, error) {
	ctx = logger.WithName(ctx, "casal2-deb")

	a, err := newAssembler(opts)
	if err != nil {
		return nil, fmt.Errorf("initialize assembler: %w", err)
	}

	commit, err := a.loadCommit(ctx)
	if err != nil {
		return nil, err
	}

	version := commit.Version()

	return &Description{
		Commit:     commit,
		Version:    version,
		Control:    a.control(version),
		StagingDir: a.stagingDir(),
	}, nil
}

// String renders the description for terminal output.
func (d *Description) String() string {
	var sb strings.Builder

	sb.WriteString("Commit:       " + d.Commit.FullHash + "\n")
	sb.WriteString("Short hash:   " + d.Commit.ShortHash + "\n")
	sb.WriteString("Committed at: " + d.Commit.CommittedAt.UTC().Format(time.RFC3339) + "\n")
	sb.WriteString("Version:      " + d.Version + "\n")
	sb.WriteString("Staging tree: " + d.StagingDir + "\n\n")

	if content, err := d.Control.Format(); err == nil {
		sb.WriteString(content)
	} else {
		sb.WriteString("control manifest: " + err.Error() + "\n")
	}

	return sb.String()
}
