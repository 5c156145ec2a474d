// Package integration holds end-to-end tests that drive the assembler through real processes.
package integration
