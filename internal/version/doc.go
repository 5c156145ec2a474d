// Package version exposes build metadata of the casal2-deb binary itself.
//
// Version, Commit and BuildTime are injected through -ldflags. They describe
// the packaging tool, not the Casal2 package it assembles.
package version
