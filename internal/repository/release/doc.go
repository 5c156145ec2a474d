// Package release persists the release description written next to a built
// package: version, commit provenance and a SHA-512 checksum of the archive.
package release
