package vaultero

import (
	"io"

	"github.com/btcsuite/btclog"
	"github.com/vaultlabs/vaultero/vaultsign"
)

// Subsystem defines the logging code for the main package.
const Subsystem = "VAUL"

// log is a logger that is initialized with no output filters. This means
// the package will not perform any logging by default until the caller
// requests it.
var log = btclog.Disabled

// DisableLog disables all library log output. Logging output is disabled
// by default until UseLogger is called.
func DisableLog() {
	UseLogger(btclog.Disabled)
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// SetupLoggers creates a logging backend writing to w and fans subsystem
// loggers at the given level out to every package of the module.
func SetupLoggers(w io.Writer, level btclog.Level) {
	backend := btclog.NewBackend(w)

	setup := func(subsystem string, use func(btclog.Logger)) {
		logger := backend.Logger(subsystem)
		logger.SetLevel(level)
		use(logger)
	}

	setup(Subsystem, UseLogger)
	setup(vaultsign.Subsystem, vaultsign.UseLogger)
}
