package release

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// LogFormat is the git pretty format producing full hash, short hash and commit time.
	LogFormat = "%H%n%h%n%ci"

	// CommitTimeLayout matches git's %ci output, e.g. "2023-06-01 10:15:00 +1200".
	CommitTimeLayout = "2006-01-02 15:04:05 -0700"

	// VersionDateLayout is the date part of the package version.
	VersionDateLayout = "20060102"

	// logLines is the number of lines requested through LogFormat.
	logLines = 3
)

var (
	// ErrUnexpectedFormat is returned when the git response does not have exactly three lines.
	ErrUnexpectedFormat = errors.New("format printed by git did not meet expectations")
	// ErrInvalidCommitTime is returned when the commit time cannot be parsed.
	ErrInvalidCommitTime = errors.New("invalid commit time")
	// ErrEmptyHash is returned when one of the hash lines is blank.
	ErrEmptyHash = errors.New("empty commit hash")
)

// CommitInfo identifies the commit a package is built from.
type CommitInfo struct {
	// FullHash is the complete commit identifier.
	FullHash string
	// ShortHash is the abbreviated commit identifier used in the version.
	ShortHash string
	// CommittedAt is the commit time with the committer's UTC offset.
	CommittedAt time.Time
}

// ParseLog parses the response of `git log -n 1 --pretty=format:` + LogFormat.
// A single trailing line terminator is tolerated; anything else that does not
// produce exactly three lines is rejected.
func ParseLog(output string) (*CommitInfo, error) {
	output = strings.TrimSuffix(output, "\n")

	lines := strings.Split(output, "\n")
	if len(lines) != logLines {
		return nil, fmt.Errorf("%w: expected %d lines but got %d", ErrUnexpectedFormat, logLines, len(lines))
	}

	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	fullHash := strings.TrimSpace(lines[0])
	shortHash := strings.TrimSpace(lines[1])

	if fullHash == "" || shortHash == "" {
		return nil, ErrEmptyHash
	}

	committedAt, err := ParseCommitTime(lines[2])
	if err != nil {
		return nil, err
	}

	return &CommitInfo{
		FullHash:    fullHash,
		ShortHash:   shortHash,
		CommittedAt: committedAt,
	}, nil
}

// ParseCommitTime parses a `YYYY-MM-DD HH:MM:SS ±HHMM` timestamp.
// The offset is mandatory; there is no fallback to local time.
func ParseCommitTime(value string) (time.Time, error) {
	t, err := time.Parse(CommitTimeLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %w", ErrInvalidCommitTime, value, err)
	}

	return t, nil
}

// Version returns `<UTC date of commit, YYYYMMDD>.<short hash>`.
func (c *CommitInfo) Version() string {
	return c.CommittedAt.UTC().Format(VersionDateLayout) + "." + c.ShortHash
}
