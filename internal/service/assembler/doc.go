// Package assembler builds the Casal2 Debian package.
//
// Run optionally triggers the platform build, derives the package version
// from the latest git commit, recreates the staging tree, copies the
// configured assets, writes DEBIAN/control and hands the tree to dpkg-deb.
// Every failure stops the run; partially written staging content is kept
// for inspection.
package assembler
