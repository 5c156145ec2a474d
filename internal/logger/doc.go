// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing for the --log-level flag,
//   - key-value helpers (InfoKV, WarnKV, ErrorKV, etc.).
//
// The assembler steps accept a context and extract the logger from it, so
// every line carries the name of the step that produced it.
package logger
