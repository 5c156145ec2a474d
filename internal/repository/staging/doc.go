// Package staging lays out the filesystem tree handed to dpkg-deb.
//
// A Tree is recreated from scratch on every run, filled from a declarative
// asset list and finished with DEBIAN/control.
package staging
