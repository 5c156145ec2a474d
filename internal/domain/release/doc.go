// Package release contains the provenance types stamped on a Casal2 build.
//
// CommitInfo is parsed from the three-line git log response and derives the
// package version string `<UTC commit date YYYYMMDD>.<short hash>`.
package release
