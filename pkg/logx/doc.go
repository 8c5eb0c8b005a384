// Package logx configures pollrunner's structured logging.
//
// The package wraps zerolog in a small value type (logx.Logger) to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional alert sink (min-level + rate limiting) on stderr
package logx
