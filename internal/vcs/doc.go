// Package vcs queries version control for the commit a package is built from.
package vcs
