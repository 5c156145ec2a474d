// Package process runs the external tools the assembler delegates to.
//
// Runner is the narrow capability the assembler depends on: a command goes
// in, an exit code and captured output come out. ExecRunner backs it with
// os/exec; tests substitute their own implementation.
package process
