// Package config carries the small set of constants and defaults the
// CLI and logger need, in the same spirit as raid-simulator's
// internal/config/const.go and pkg/config/const.go: no viper layer,
// no env-file parsing, just named constants cobra flags default to.
package config

const (
	LogLevelDebug   string = "debug"
	LogLevelInfo    string = "info"
	LogLevelWarning string = "warn"
	LogLevelError   string = "error"

	LogFilePath string = "ec-aggregate/log/log_output.txt"
)

// Version is reported by the CLI's version subcommand.
const Version string = "0.1.0"

const (
	// DefaultCreditsMax mirrors aggregate.DefaultConfig's CreditsMax.
	DefaultCreditsMax = 256
	// DefaultK, DefaultP, DefaultL, DefaultRecordSize describe the demo
	// EC class the CLI's "aggregate" subcommand and "simulate
	// --scenario full-encode" build; no flag overrides them.
	DefaultK          = 2
	DefaultP          = 1
	DefaultL          = 4
	DefaultRecordSize = 8
)
